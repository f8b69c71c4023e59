package state

import (
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// UpsertWalletTransaction accepts a transaction from a wallet for inclusion.
func (s *State) UpsertWalletTransaction(tx *database.Transaction) error {
	if err := s.mempool.AddPendingTransaction(tx); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
	}

	return nil
}

// UpsertNodeTransactions accepts transactions from a peer for inclusion and
// returns the ones that were new and valid.
func (s *State) UpsertNodeTransactions(txs []*database.Transaction) []*database.Transaction {
	return s.mempool.AddWireTransactions(txs)
}

// PickTransactions returns up to howMany pool transactions ordered by the
// configured select strategy.
func (s *State) PickTransactions(howMany int) ([]*database.Transaction, error) {
	return s.mempool.Pick("", howMany)
}
