// Package mempool maintains the pending state of the node: transactions
// received from peers and transactions submitted locally that are not yet
// part of the best chain.
package mempool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/mempool/selector"
)

// Set of errors returned when a transaction can not enter the pool.
var (
	ErrOverspend = errors.New("sender balance does not cover outstanding transactions")
	ErrExpired   = errors.New("transaction expired")
	ErrBadTime   = errors.New("transaction time cannot be included in a block")
	ErrDuplicate = errors.New("transaction already known")
)

// seenCapacity bounds the set of hashes remembered for wire transactions.
const seenCapacity = 500_000

// Balances is the committed account view used to check that a sender can
// pay for every outstanding transaction.
type Balances interface {
	Balance(addr common.Address) *big.Int
}

// Config represents the configuration required to construct the pool.
type Config struct {
	Balances  Balances
	Bus       *listener.Bus
	Strategy  string
	EvHandler func(v string, args ...any)
	Now       func() int64
}

type entry struct {
	tx   *database.Transaction
	from common.Address
	seq  uint64
}

// Mempool represents the wire and pending transaction lists. The two lists
// are disjoint and keyed by transaction hash.
type Mempool struct {
	mu        sync.RWMutex
	balances  Balances
	bus       *listener.Bus
	evHandler func(v string, args ...any)
	now       func() int64
	selectFn  selector.Func

	wire    map[string]entry
	pending map[string]entry
	expend  map[common.Address]*big.Int
	seen    gcache.Cache
	seq     uint64
}

// New constructs a new pool using the configured select strategy.
func New(cfg Config) (*Mempool, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = selector.StrategyFee
	}

	selectFn, err := selector.Retrieve(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}

	mp := Mempool{
		balances:  cfg.Balances,
		bus:       cfg.Bus,
		evHandler: ev,
		now:       now,
		selectFn:  selectFn,
		wire:      make(map[string]entry),
		pending:   make(map[string]entry),
		expend:    make(map[common.Address]*big.Int),
		seen:      gcache.New(seenCapacity).LRU().Build(),
	}

	return &mp, nil
}

// Count returns the current number of transactions in both lists.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.wire) + len(mp.pending)
}

// Reserved returns the amount plus fee of every outstanding transaction
// from the address.
func (mp *Mempool) Reserved(addr common.Address) *big.Int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if v, exists := mp.expend[addr]; exists {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// AddWireTransactions adds the transactions received from peers. Hashes
// seen before are skipped and invalid transactions are dropped with their
// status set. The accepted transactions are returned.
func (mp *Mempool) AddWireTransactions(txs []*database.Transaction) []*database.Transaction {
	var accepted []*database.Transaction

	func() {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		for _, tx := range txs {
			key := string(tx.Hash())

			if mp.seen.Has(key) {
				continue
			}
			mp.seen.Set(key, struct{}{})

			from, err := mp.isValid(tx)
			if err != nil {
				mp.evHandler("mempool: AddWireTransactions: drop: tx[%s]: %s", tx.HashHex(), err)
				continue
			}

			mp.seq++
			mp.wire[key] = entry{tx: tx, from: from, seq: mp.seq}
			accepted = append(accepted, tx)
		}
	}()

	if len(accepted) > 0 {
		mp.evHandler("mempool: AddWireTransactions: accepted[%d] of[%d]", len(accepted), len(txs))
		mp.bus.Publish(listener.Event{
			Kind:         listener.PendingTransactionsReceived,
			Transactions: accepted,
		})
	}

	return accepted
}

// AddPendingTransaction adds a locally submitted transaction.
func (mp *Mempool) AddPendingTransaction(tx *database.Transaction) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := string(tx.Hash())

	if _, exists := mp.pending[key]; exists {
		return ErrDuplicate
	}
	if _, exists := mp.wire[key]; exists {
		return ErrDuplicate
	}

	from, err := mp.isValid(tx)
	if err != nil {
		mp.evHandler("mempool: AddPendingTransaction: reject: tx[%s]: %s", tx.HashHex(), err)
		return err
	}

	mp.seen.Set(key, struct{}{})
	mp.seq++
	mp.pending[key] = entry{tx: tx, from: from, seq: mp.seq}

	mp.evHandler("mempool: AddPendingTransaction: tx[%s]: from[%s]: reserved[%s]", tx.HashHex(), from, mp.expend[from])

	return nil
}

// ProcessBest removes the transactions of the new best block from both lists
// and then evicts every transaction that expired. Reservations are released
// for each removed transaction.
func (mp *Mempool) ProcessBest(block *database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var included int
	for _, tx := range block.Transactions {
		key := string(tx.Hash())
		mp.seen.Set(key, struct{}{})

		if mp.remove(key) {
			included++
		}
	}

	now := mp.now()

	var expired int
	for _, list := range []map[string]entry{mp.wire, mp.pending} {
		for key, e := range list {
			if !e.tx.CheckTime(now) {
				e.tx.SetStatus(database.StatusExpired)
				mp.remove(key)
				expired++
			}
		}
	}

	mp.evHandler("mempool: ProcessBest: blk[%d]: included[%d]: expired[%d]: remaining[%d]", block.Number, included, expired, len(mp.wire)+len(mp.pending))
}

// Pick returns up to howMany transactions from both lists ordered by the
// named strategy. An empty strategy uses the configured one.
func (mp *Mempool) Pick(strategy string, howMany int) ([]*database.Transaction, error) {
	selectFn := mp.selectFn
	if strategy != "" {
		fn, err := selector.Retrieve(strategy)
		if err != nil {
			return nil, err
		}
		selectFn = fn
	}

	m := make(map[common.Address][]*database.Transaction)
	mp.mu.RLock()
	{
		for _, list := range []map[string]entry{mp.wire, mp.pending} {
			for _, e := range list {
				m[e.from] = append(m[e.from], e.tx)
			}
		}
	}
	mp.mu.RUnlock()

	return selectFn(m, howMany), nil
}

// WireTransactions returns the transactions received from peers in arrival
// order.
func (mp *Mempool) WireTransactions() []*database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return ordered(mp.wire)
}

// PendingTransactions returns the transactions submitted locally in arrival
// order.
func (mp *Mempool) PendingTransactions() []*database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return ordered(mp.pending)
}

// Truncate clears both lists and every reservation.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.wire = make(map[string]entry)
	mp.pending = make(map[string]entry)
	mp.expend = make(map[common.Address]*big.Int)
}

// =============================================================================

// isValid checks the transaction against the committed balance of the
// sender minus what is already reserved. On success the reservation grows
// by the cost of the transaction.
func (mp *Mempool) isValid(tx *database.Transaction) (common.Address, error) {
	if err := tx.Verify(); err != nil {
		tx.SetStatus(database.StatusInvalid)
		return common.Address{}, fmt.Errorf("verify: %w", err)
	}

	now := mp.now()
	if tx.ExpireTime > database.TxMaxExpireTime || tx.TimeStamp-database.MaxTimeDrift > now {
		tx.SetStatus(database.StatusInvalid)
		return common.Address{}, ErrBadTime
	}

	if !tx.CheckTime(now) {
		tx.SetStatus(database.StatusExpired)
		return common.Address{}, ErrExpired
	}

	from, err := tx.Sender()
	if err != nil {
		tx.SetStatus(database.StatusSignatureFailed)
		return common.Address{}, err
	}

	reserved, exists := mp.expend[from]
	if !exists {
		reserved = new(big.Int)
	}

	need := new(big.Int).Add(reserved, tx.TotalCost())
	if mp.balances == nil || mp.balances.Balance(from).Cmp(need) < 0 {
		tx.SetStatus(database.StatusInsufficient)
		return common.Address{}, ErrOverspend
	}

	mp.expend[from] = need

	return from, nil
}

// remove drops the transaction from whichever list holds it.
func (mp *Mempool) remove(key string) bool {
	e, exists := mp.wire[key]
	if exists {
		delete(mp.wire, key)
	} else if e, exists = mp.pending[key]; exists {
		delete(mp.pending, key)
	}
	if !exists {
		return false
	}

	if reserved, ok := mp.expend[e.from]; ok {
		reserved.Sub(reserved, e.tx.TotalCost())
		if reserved.Sign() <= 0 {
			delete(mp.expend, e.from)
		}
	}

	return true
}

func ordered(list map[string]entry) []*database.Transaction {
	entries := make([]entry, 0, len(list))
	for _, e := range list {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	txs := make([]*database.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.tx
	}
	return txs
}
