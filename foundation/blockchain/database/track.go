package database

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Track is a disposable snapshot layered over a Repository. Every change
// stays inside the track until Commit copies it to the parent. Rollback
// throws the changes away.
type Track struct {
	mu       sync.Mutex
	parent   Repository
	accounts map[common.Address]*AccountState
}

// NewTrack constructs a snapshot over the parent repository.
func NewTrack(parent Repository) *Track {
	return &Track{
		parent:   parent,
		accounts: make(map[common.Address]*AccountState),
	}
}

// GetAccountState returns the account owned by the track, reading it from
// the parent on first use. Changes to the returned account are part of the
// track. It returns nil when the account does not exist.
func (t *Track) GetAccountState(addr common.Address) *AccountState {
	t.mu.Lock()
	defer t.mu.Unlock()

	as := t.load(addr)
	if as == nil || as.IsDeleted() {
		return nil
	}
	return as
}

// SetAccountState replaces the account inside the track.
func (t *Track) SetAccountState(addr common.Address, as *AccountState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	as.SetDirty(true)
	t.accounts[addr] = as
}

// CreateAccount adds an empty account to the track.
func (t *Track) CreateAccount(addr common.Address) *AccountState {
	as := NewAccountState()
	as.SetDirty(true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.accounts[addr] = as
	return as
}

// IsExist reports whether the account exists in the track or its parent.
func (t *Track) IsExist(addr common.Address) bool {
	return t.GetAccountState(addr) != nil
}

// AddBalance adds value to the balance of the account, creating it when
// missing.
func (t *Track) AddBalance(addr common.Address, value *big.Int) *big.Int {
	return addBalance(t, addr, value)
}

// Balance returns the balance of the account or zero.
func (t *Track) Balance(addr common.Address) *big.Int {
	return balance(t, addr)
}

// ForgePower returns the forging power of the account or zero.
func (t *Track) ForgePower(addr common.Address) *big.Int {
	return forgePower(t, addr)
}

// IncreaseForgePower adds one to the forging power of the account.
func (t *Track) IncreaseForgePower(addr common.Address) *big.Int {
	return changeForgePower(t, addr, true)
}

// ReduceForgePower removes one from the forging power of the account.
func (t *Track) ReduceForgePower(addr common.Address) *big.Int {
	return changeForgePower(t, addr, false)
}

// Delete marks the account deleted inside the track.
func (t *Track) Delete(addr common.Address) {
	as := NewAccountState()
	as.SetDeleted(true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.accounts[addr] = as
}

// StartTracking returns a nested snapshot over this track.
func (t *Track) StartTracking() *Track {
	return NewTrack(t)
}

// Commit copies every changed account to the parent and empties the track.
func (t *Track) Commit() {
	t.mu.Lock()
	accounts := t.accounts
	t.accounts = make(map[common.Address]*AccountState)
	t.mu.Unlock()

	for addr, as := range accounts {
		if !as.IsDirty() {
			continue
		}

		if as.IsDeleted() {
			t.parent.Delete(addr)
			continue
		}
		t.parent.SetAccountState(addr, as)
	}
}

// Rollback discards every change held by the track.
func (t *Track) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accounts = make(map[common.Address]*AccountState)
}

// load must be called with the lock held.
func (t *Track) load(addr common.Address) *AccountState {
	if as, exists := t.accounts[addr]; exists {
		return as
	}

	as := t.parent.GetAccountState(addr)
	if as == nil {
		return nil
	}

	// A nested track must never change the account owned by its parent.
	as = as.Clone()
	as.SetDirty(false)
	t.accounts[addr] = as

	return as
}
