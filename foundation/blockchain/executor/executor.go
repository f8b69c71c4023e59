// Package executor applies and reverses the effect of a transaction on the
// account repository, including the fee split between the forger, the
// previous witness and the associated addresses.
package executor

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// Set of errors returned by the executor.
var (
	ErrNoAccount = errors.New("sender account does not exist")
	ErrDuplicate = errors.New("duplicate transaction")
	ErrNoBalance = errors.New("not enough balance")
)

// Outcome reports who earned what from one transaction.
type Outcome struct {
	BlockHash      []byte
	TxHash         []byte
	CurrentWitness map[common.Address]*big.Int
	LastWitness    map[common.Address]*big.Int
	Associates     map[common.Address]*big.Int
}

func newOutcome(blockHash []byte, txHash []byte) Outcome {
	return Outcome{
		BlockHash:      blockHash,
		TxHash:         txHash,
		CurrentWitness: make(map[common.Address]*big.Int),
		LastWitness:    make(map[common.Address]*big.Int),
		Associates:     make(map[common.Address]*big.Int),
	}
}

func addTo(m map[common.Address]*big.Int, addr common.Address, v *big.Int) {
	if cur, exists := m[addr]; exists {
		cur.Add(cur, v)
		return
	}
	m[addr] = new(big.Int).Set(v)
}

// =============================================================================

// DefaultFeeTerminateHeight is the last height whose fees are split between
// the forger, the witness and the associates. Above it the forger takes the
// whole fee and identities stop gaining witnesses and associates. The
// network never scheduled the cut-over so by default it is never reached.
const DefaultFeeTerminateHeight uint64 = math.MaxUint64

// Executor applies transactions to a repository.
type Executor struct {
	evHandler          func(v string, args ...any)
	feeTerminateHeight uint64
}

// New constructs an executor that reports what it does to evHandler. A zero
// feeTerminateHeight selects DefaultFeeTerminateHeight.
func New(evHandler func(v string, args ...any), feeTerminateHeight uint64) *Executor {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	if feeTerminateHeight == 0 {
		feeTerminateHeight = DefaultFeeTerminateHeight
	}

	return &Executor{evHandler: ev, feeTerminateHeight: feeTerminateHeight}
}

// FeeSplit reports whether the fees of a block at height are still split.
func (e *Executor) FeeSplit(height uint64) bool {
	return height <= e.feeTerminateHeight
}

// Init performs the checks that need the repository: amounts, the sender
// account, duplicate protection and the balance. A failed check sets the
// status of the transaction.
func (e *Executor) Init(tx *database.Transaction, repo database.Repository) error {
	if tx.Amount == nil || tx.Amount.Sign() < 0 {
		tx.SetStatus(database.StatusInvalid)
		return database.ErrInvalidAmount
	}

	if tx.Fee == nil || tx.Fee.Sign() < 1 {
		tx.SetStatus(database.StatusNotEnoughFee)
		return database.ErrInvalidFee
	}

	sender, err := tx.Sender()
	if err != nil {
		tx.SetStatus(database.StatusSignatureFailed)
		return err
	}

	as := repo.GetAccountState(sender)
	if as == nil {
		e.evHandler("executor: Init: invalid account: %s", sender)
		tx.SetStatus(database.StatusInvalidAccount)
		return ErrNoAccount
	}

	if as.HasHistory(tx.TimeStamp) {
		e.evHandler("executor: Init: duplicate: tx[%s]", tx.HashHex())
		tx.SetStatus(database.StatusDuplicate)
		return ErrDuplicate
	}

	if as.Balance().Cmp(tx.TotalCost()) < 0 {
		e.evHandler("executor: Init: no enough balance: require[%s]: balance[%s]: tx[%s]", tx.TotalCost(), as.Balance(), tx.HashHex())
		tx.SetStatus(database.StatusNoBalance)
		return ErrNoBalance
	}

	return nil
}

// Execute moves the coins of the transaction, pays the fee and records the
// transaction in the sender's history. The undo record returned reverses
// it exactly. Height is the number of the block holding the transaction.
func (e *Executor) Execute(tx *database.Transaction, repo database.Repository, coinbase common.Address, blockHash []byte, height uint64, blockTime int64) (Outcome, database.TxUndo, error) {
	var undo database.TxUndo

	sender, err := tx.Sender()
	if err != nil {
		return Outcome{}, undo, err
	}
	receiver := tx.Receiver()

	fd, err := DistributeFee(tx.Fee)
	if err != nil {
		return Outcome{}, undo, err
	}

	// Capture the witness and associates before anything is paid.
	senderAcc := repo.GetAccountState(sender)
	if senderAcc == nil {
		return Outcome{}, undo, ErrNoAccount
	}
	lastWitness, hasWitness := senderAcc.Witness()
	associates := senderAcc.Associates()

	repo.AddBalance(sender, new(big.Int).Neg(tx.TotalCost()))
	repo.IncreaseForgePower(sender)

	credit := func(addr common.Address, amount *big.Int) {
		if database.IsBurn(addr) {
			return
		}
		if !repo.IsExist(addr) {
			undo.AddCreated(addr)
		}
		repo.AddBalance(addr, amount)
		undo.AddCredit(addr, amount)
	}

	credit(receiver, tx.Amount)

	out := newOutcome(blockHash, tx.Hash())

	switch {
	case e.FeeSplit(height):
		if err := splitFee(fd, coinbase, lastWitness, hasWitness, associates, credit, out); err != nil {
			return Outcome{}, undo, err
		}

	default:
		credit(coinbase, tx.Fee)
		addTo(out.CurrentWitness, coinbase, tx.Fee)
	}

	// Record the transaction and forget the history nothing can duplicate
	// anymore.
	senderAcc = repo.GetAccountState(sender)
	if before := blockTime - database.TxMaxExpireTime; before > 0 {
		for _, h := range senderAcc.PruneHistory(before) {
			undo.Pruned = append(undo.Pruned, database.PrunedEntry{Time: uint64(h.Time), Hash: h.Hash})
		}
	}
	senderAcc.AddHistory(tx.TimeStamp, tx.Hash())
	repo.SetAccountState(sender, senderAcc)

	e.evHandler("executor: Execute: tx[%s]: from[%s]: to[%s]: amount[%s]: fee[%s]", tx.HashHex(), sender, receiver, tx.Amount, tx.Fee)

	return out, undo, nil
}

// splitFee pays the shares of a fee. The forger takes the share of a
// missing witness and of missing associates.
func splitFee(fd FeeDistribution, coinbase common.Address, witness common.Address, hasWitness bool, associates []common.Address, credit func(common.Address, *big.Int), out Outcome) error {
	credit(coinbase, fd.CurrentWit)
	addTo(out.CurrentWitness, coinbase, fd.CurrentWit)

	switch {
	case hasWitness:
		credit(witness, fd.LastWit)
		addTo(out.LastWitness, witness, fd.LastWit)

	default:
		credit(coinbase, fd.LastWit)
		addTo(out.CurrentWitness, coinbase, fd.LastWit)
	}

	switch {
	case len(associates) > 0:
		shares, err := DistributeAssociatedFee(len(associates), fd.LastAssoc)
		if err != nil {
			return err
		}
		for i, addr := range associates {
			credit(addr, shares[i])
			addTo(out.Associates, addr, shares[i])
		}

	default:
		credit(coinbase, fd.LastAssoc)
		addTo(out.CurrentWitness, coinbase, fd.LastAssoc)
	}

	return nil
}

// Undo reverses Execute using the undo record it produced.
func (e *Executor) Undo(tx *database.Transaction, repo database.Repository, undo database.TxUndo) error {
	sender, err := tx.Sender()
	if err != nil {
		return err
	}

	for i := len(undo.Credits) - 1; i >= 0; i-- {
		c := undo.Credits[i]
		repo.AddBalance(common.BytesToAddress(c.Address), new(big.Int).Neg(c.Amount))
	}

	repo.AddBalance(sender, tx.TotalCost())
	repo.ReduceForgePower(sender)

	as := repo.GetAccountState(sender)
	if as == nil {
		return fmt.Errorf("undo: %w: %s", ErrNoAccount, sender)
	}
	as.RemoveHistory(tx.TimeStamp)
	for _, p := range undo.Pruned {
		as.AddHistory(int64(p.Time), p.Hash)
	}
	repo.SetAccountState(sender, as)

	for _, addr := range undo.Created {
		repo.Delete(common.BytesToAddress(addr))
	}

	e.evHandler("executor: Undo: tx[%s]: from[%s]", tx.HashHex(), sender)

	return nil
}
