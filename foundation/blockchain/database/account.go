package database

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// HistoryEntry is one transaction sent by an account, keyed by its time.
type HistoryEntry struct {
	Time int64
	Hash []byte
}

// AccountState represents information stored in the repository for an
// individual account.
type AccountState struct {
	forgePower  *big.Int
	balance     *big.Int
	witness     []byte
	associates  [][]byte
	stateHeight uint64
	history     map[int64][]byte

	encoded []byte
	dirty   bool
	deleted bool
}

// NewAccountState constructs an empty account.
func NewAccountState() *AccountState {
	return &AccountState{
		forgePower: new(big.Int),
		balance:    new(big.Int),
		history:    make(map[int64][]byte),
	}
}

// DecodeAccountState constructs an account from its stored encoding.
func DecodeAccountState(data []byte) (*AccountState, error) {
	var w accountRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	as := AccountState{
		forgePower:  bigOrZero(w.ForgePower),
		balance:     bigOrZero(w.Balance),
		witness:     w.Witness,
		associates:  w.Associates,
		stateHeight: w.StateHeight,
		history:     make(map[int64][]byte, len(w.History)),
		encoded:     data,
	}
	for _, h := range w.History {
		as.history[int64(h.Time)] = h.Hash
	}

	return &as, nil
}

// Encode returns the stored encoding, computing it when a mutation
// invalidated the cached form.
func (as *AccountState) Encode() ([]byte, error) {
	if as.encoded != nil {
		return as.encoded, nil
	}

	w := accountRLP{
		ForgePower:  as.forgePower,
		Balance:     as.balance,
		Witness:     as.witness,
		Associates:  as.associates,
		StateHeight: as.stateHeight,
	}
	for _, h := range as.History() {
		w.History = append(w.History, historyRLP{Time: uint64(h.Time), Hash: h.Hash})
	}

	data, err := rlp.EncodeToBytes(w)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	as.encoded = data

	return data, nil
}

// Clone returns a deep copy so a tracking snapshot never changes the
// account held by its parent.
func (as *AccountState) Clone() *AccountState {
	c := AccountState{
		forgePower:  new(big.Int).Set(as.forgePower),
		balance:     new(big.Int).Set(as.balance),
		witness:     cloneBytes(as.witness),
		stateHeight: as.stateHeight,
		history:     make(map[int64][]byte, len(as.history)),
		encoded:     as.encoded,
		dirty:       as.dirty,
		deleted:     as.deleted,
	}
	for _, a := range as.associates {
		c.associates = append(c.associates, cloneBytes(a))
	}
	for k, v := range as.history {
		c.history[k] = cloneBytes(v)
	}

	return &c
}

// Equal reports whether both accounts hold the same ledger data.
func (as *AccountState) Equal(other *AccountState) bool {
	a, err1 := as.Clone().reencode()
	b, err2 := other.Clone().reencode()
	return err1 == nil && err2 == nil && bytes.Equal(a, b)
}

// =============================================================================

// ForgePower returns the forging power of the account.
func (as *AccountState) ForgePower() *big.Int {
	return new(big.Int).Set(as.forgePower)
}

// Balance returns the balance of the account.
func (as *AccountState) Balance() *big.Int {
	return new(big.Int).Set(as.balance)
}

// Witness returns the forger that last confirmed a change to the account.
// The second value is false when there is none.
func (as *AccountState) Witness() (common.Address, bool) {
	if len(as.witness) == 0 {
		return common.Address{}, false
	}
	return common.BytesToAddress(as.witness), true
}

// Associates returns the addresses associated with the newest state change.
func (as *AccountState) Associates() []common.Address {
	addrs := make([]common.Address, len(as.associates))
	for i, a := range as.associates {
		addrs[i] = common.BytesToAddress(a)
	}
	return addrs
}

// StateHeight returns the height of the last identity update.
func (as *AccountState) StateHeight() uint64 {
	return as.stateHeight
}

// AddToBalance adds value, which may be negative, and returns the new
// balance.
func (as *AccountState) AddToBalance(value *big.Int) *big.Int {
	if value.Sign() != 0 {
		as.encoded = nil
	}
	as.balance = new(big.Int).Add(as.balance, value)
	as.dirty = true

	return as.Balance()
}

// SubFromBalance subtracts value and returns the new balance.
func (as *AccountState) SubFromBalance(value *big.Int) *big.Int {
	return as.AddToBalance(new(big.Int).Neg(value))
}

// IncrementForgePower adds one to the forging power.
func (as *AccountState) IncrementForgePower() {
	as.encoded = nil
	as.forgePower = new(big.Int).Add(as.forgePower, big.NewInt(1))
	as.dirty = true
}

// ReduceForgePower removes one from the forging power.
func (as *AccountState) ReduceForgePower() {
	as.encoded = nil
	as.forgePower = new(big.Int).Sub(as.forgePower, big.NewInt(1))
	as.dirty = true
}

// SetForgePower replaces the forging power.
func (as *AccountState) SetForgePower(power *big.Int) {
	as.encoded = nil
	as.forgePower = new(big.Int).Set(power)
	as.dirty = true
}

// SetWitness records the forger that confirmed the latest change. An empty
// address clears it.
func (as *AccountState) SetWitness(witness []byte) {
	as.encoded = nil
	as.witness = cloneBytes(witness)
	as.dirty = true
}

// UpdateAssociate adds an associated address for the state change at
// height. A change at a new height starts a fresh list.
func (as *AccountState) UpdateAssociate(addr common.Address, height uint64) {
	as.encoded = nil
	if as.stateHeight != height {
		as.associates = nil
		as.stateHeight = height
	}
	as.associates = append(as.associates, addr.Bytes())
	as.dirty = true
}

// SetAssociates replaces the associated list and the state height.
func (as *AccountState) SetAssociates(associates []common.Address, height uint64) {
	as.encoded = nil
	as.associates = nil
	for _, a := range associates {
		as.associates = append(as.associates, a.Bytes())
	}
	as.stateHeight = height
	as.dirty = true
}

// History returns the transaction history ordered by time.
func (as *AccountState) History() []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(as.history))
	for t, h := range as.history {
		entries = append(entries, HistoryEntry{Time: t, Hash: h})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time < entries[j].Time })

	return entries
}

// HasHistory reports whether a transaction with that time is recorded.
func (as *AccountState) HasHistory(t int64) bool {
	_, exists := as.history[t]
	return exists
}

// AddHistory records a sent transaction.
func (as *AccountState) AddHistory(t int64, hash []byte) {
	as.encoded = nil
	as.history[t] = cloneBytes(hash)
	as.dirty = true
}

// RemoveHistory forgets a sent transaction.
func (as *AccountState) RemoveHistory(t int64) {
	as.encoded = nil
	delete(as.history, t)
	as.dirty = true
}

// PruneHistory removes and returns every entry older than before.
func (as *AccountState) PruneHistory(before int64) []HistoryEntry {
	var pruned []HistoryEntry
	for _, h := range as.History() {
		if h.Time >= before {
			break
		}
		pruned = append(pruned, h)
		delete(as.history, h.Time)
	}

	if len(pruned) > 0 {
		as.encoded = nil
		as.dirty = true
	}

	return pruned
}

// IsDirty reports whether the account changed since it was loaded.
func (as *AccountState) IsDirty() bool {
	return as.dirty
}

// SetDirty marks the account as changed or clean.
func (as *AccountState) SetDirty(dirty bool) {
	as.dirty = dirty
}

// IsDeleted reports whether the account is marked for deletion.
func (as *AccountState) IsDeleted() bool {
	return as.deleted
}

// SetDeleted marks the account for deletion.
func (as *AccountState) SetDeleted(deleted bool) {
	as.deleted = deleted
	as.dirty = true
}

// String implements the fmt.Stringer interface for logging.
func (as *AccountState) String() string {
	return fmt.Sprintf("balance[%s] power[%s] associates[%d] history[%d]", as.balance, as.forgePower, len(as.associates), len(as.history))
}

// =============================================================================

func (as *AccountState) reencode() ([]byte, error) {
	as.encoded = nil
	return as.Encode()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
