// Package database handles all the lower level support for maintaining the
// blockchain data model: transactions, blocks and the account repository
// backed by a key value store.
package database

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
)

// accountCacheSize is the number of clean accounts kept decoded in memory.
const accountCacheSize = 4096

// Repository interface represents the behavior required of any account
// store. A Track layered over a Repository satisfies it as well, so tracks
// can be nested.
type Repository interface {
	GetAccountState(addr common.Address) *AccountState
	SetAccountState(addr common.Address, as *AccountState)
	CreateAccount(addr common.Address) *AccountState
	IsExist(addr common.Address) bool
	AddBalance(addr common.Address, value *big.Int) *big.Int
	Balance(addr common.Address) *big.Int
	ForgePower(addr common.Address) *big.Int
	IncreaseForgePower(addr common.Address) *big.Int
	ReduceForgePower(addr common.Address) *big.Int
	Delete(addr common.Address)
	StartTracking() *Track
}

// =============================================================================

// Repo manages the committed account state. Changes are held in memory
// until Flush writes them to the store in a single batch.
type Repo struct {
	mu    sync.Mutex
	table *storage.Table
	cache gcache.Cache
	dirty map[common.Address]*AccountState
	err   error
}

// NewRepo constructs a repository over the specified store. Accounts are
// kept under their own key prefix so the store can be shared.
func NewRepo(kv storage.KVStore) *Repo {
	return &Repo{
		table: storage.NewTable(kv, "account/"),
		cache: gcache.New(accountCacheSize).LRU().Build(),
		dirty: make(map[common.Address]*AccountState),
	}
}

// GetAccountState returns a copy of the account or nil when it does not
// exist. Changes to the copy are kept with SetAccountState.
func (r *Repo) GetAccountState(addr common.Address) *AccountState {
	r.mu.Lock()
	defer r.mu.Unlock()

	as := r.load(addr)
	if as == nil {
		return nil
	}
	return as.Clone()
}

// SetAccountState records the account as the latest committed version.
func (r *Repo) SetAccountState(addr common.Address, as *AccountState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := as.Clone()
	c.SetDirty(true)
	r.dirty[addr] = c
}

// CreateAccount stores an empty account, replacing any existing one.
func (r *Repo) CreateAccount(addr common.Address) *AccountState {
	as := NewAccountState()
	r.SetAccountState(addr, as)
	return as
}

// IsExist reports whether the account exists.
func (r *Repo) IsExist(addr common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(addr) != nil
}

// AddBalance adds value to the balance of the account, creating it when
// missing.
func (r *Repo) AddBalance(addr common.Address, value *big.Int) *big.Int {
	return addBalance(r, addr, value)
}

// Balance returns the balance of the account or zero.
func (r *Repo) Balance(addr common.Address) *big.Int {
	return balance(r, addr)
}

// ForgePower returns the forging power of the account or zero.
func (r *Repo) ForgePower(addr common.Address) *big.Int {
	return forgePower(r, addr)
}

// IncreaseForgePower adds one to the forging power of the account.
func (r *Repo) IncreaseForgePower(addr common.Address) *big.Int {
	return changeForgePower(r, addr, true)
}

// ReduceForgePower removes one from the forging power of the account.
func (r *Repo) ReduceForgePower(addr common.Address) *big.Int {
	return changeForgePower(r, addr, false)
}

// Delete removes the account.
func (r *Repo) Delete(addr common.Address) {
	as := NewAccountState()
	as.SetDeleted(true)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dirty[addr] = as
}

// StartTracking returns a snapshot layered over the repository.
func (r *Repo) StartTracking() *Track {
	return NewTrack(r)
}

// Flush writes every committed change to the store.
func (r *Repo) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		err := r.err
		r.err = nil
		return err
	}

	batch := r.table.NewBatch()
	for addr, as := range r.dirty {
		if as.IsDeleted() {
			batch.Delete(addr.Bytes())
			continue
		}

		data, err := as.Encode()
		if err != nil {
			return fmt.Errorf("flush: %s: %w", addr, err)
		}
		batch.Put(addr.Bytes(), data)
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	for addr, as := range r.dirty {
		r.cache.Remove(addr)
		if !as.IsDeleted() {
			as.SetDirty(false)
			r.cache.Set(addr, as)
		}
	}
	r.dirty = make(map[common.Address]*AccountState)

	return nil
}

// Dump returns the encoding of every account, committed or not.
func (r *Repo) Dump() (map[common.Address][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := make(map[common.Address][]byte)

	iter := r.table.NewIterator(nil)
	defer iter.Release()

	for iter.Next() {
		accounts[common.BytesToAddress(iter.Key())] = iter.Value()
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for addr, as := range r.dirty {
		if as.IsDeleted() {
			delete(accounts, addr)
			continue
		}
		data, err := as.Encode()
		if err != nil {
			return nil, err
		}
		accounts[addr] = data
	}

	return accounts, nil
}

// load must be called with the lock held.
func (r *Repo) load(addr common.Address) *AccountState {
	if as, exists := r.dirty[addr]; exists {
		if as.IsDeleted() {
			return nil
		}
		return as
	}

	if v, err := r.cache.Get(addr); err == nil {
		return v.(*AccountState)
	}

	data, err := r.table.Get(addr.Bytes())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.err = fmt.Errorf("load account %s: %w", addr, err)
		}
		return nil
	}

	as, err := DecodeAccountState(data)
	if err != nil {
		r.err = fmt.Errorf("load account %s: %w", addr, err)
		return nil
	}
	r.cache.Set(addr, as)

	return as
}

// =============================================================================

func addBalance(r Repository, addr common.Address, value *big.Int) *big.Int {
	as := r.GetAccountState(addr)
	if as == nil {
		as = r.CreateAccount(addr)
	}

	bal := as.AddToBalance(value)
	r.SetAccountState(addr, as)

	return bal
}

func balance(r Repository, addr common.Address) *big.Int {
	as := r.GetAccountState(addr)
	if as == nil {
		return new(big.Int)
	}
	return as.Balance()
}

func forgePower(r Repository, addr common.Address) *big.Int {
	as := r.GetAccountState(addr)
	if as == nil {
		return new(big.Int)
	}
	return as.ForgePower()
}

func changeForgePower(r Repository, addr common.Address, increase bool) *big.Int {
	as := r.GetAccountState(addr)
	if as == nil {
		as = r.CreateAccount(addr)
	}

	if increase {
		as.IncrementForgePower()
	} else {
		as.ReduceForgePower()
	}
	r.SetAccountState(addr, as)

	return as.ForgePower()
}
