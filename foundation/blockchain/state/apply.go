package state

import (
	"fmt"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/executor"
)

// applyBlock executes every transaction of the block on repo and then
// updates the stake holder identities. The returned undo record reverts
// the block exactly.
func (s *State) applyBlock(block *database.Block, repo database.Repository) (database.BlockUndo, []executor.Outcome, error) {
	s.evHandler("state: applyBlock: blk[%d]: txs[%d]", block.Number, len(block.Transactions))

	forger, err := block.ForgerAddress()
	if err != nil {
		return database.BlockUndo{}, nil, fmt.Errorf("%w: %s", ErrForgerKey, err)
	}

	blockHash := block.Hash()

	undo := database.BlockUndo{Txs: make([]database.TxUndo, len(block.Transactions))}
	outcomes := make([]executor.Outcome, 0, len(block.Transactions))

	for i, tx := range block.Transactions {
		track := repo.StartTracking()

		if err := s.executor.Init(tx, track); err != nil {
			track.Rollback()
			return database.BlockUndo{}, nil, fmt.Errorf("tx[%s]: %w", tx.HashHex(), err)
		}

		outcome, txUndo, err := s.executor.Execute(tx, track, forger, blockHash, block.Number, block.Header.TimeStamp)
		if err != nil {
			track.Rollback()
			return database.BlockUndo{}, nil, fmt.Errorf("tx[%s]: %w", tx.HashHex(), err)
		}

		track.Commit()

		undo.Txs[i] = txUndo
		outcomes = append(outcomes, outcome)
	}

	// Identities change only once every transaction has paid its fees to the
	// witnesses known before this block.
	for i, tx := range block.Transactions {
		if err := s.executor.UpdateIdentity(tx, repo, forger, block.Number, &undo.Txs[i]); err != nil {
			return database.BlockUndo{}, nil, fmt.Errorf("identity tx[%s]: %w", tx.HashHex(), err)
		}
	}

	return undo, outcomes, nil
}

// undoBlock reverts a block applied by applyBlock. Identities are restored
// first and then the transactions are undone, both in reverse order.
func (s *State) undoBlock(block *database.Block, repo database.Repository, undo database.BlockUndo) error {
	s.evHandler("state: undoBlock: blk[%d]: txs[%d]", block.Number, len(block.Transactions))

	txs := block.Transactions
	if len(undo.Txs) != len(txs) {
		return fmt.Errorf("undo record of blk[%d] holds %d txs, block has %d", block.Number, len(undo.Txs), len(txs))
	}

	for i := len(txs) - 1; i >= 0; i-- {
		if err := executor.RollbackIdentity(txs[i], repo, undo.Txs[i]); err != nil {
			return fmt.Errorf("identity tx[%s]: %w", txs[i].HashHex(), err)
		}
	}

	for i := len(txs) - 1; i >= 0; i-- {
		if err := s.executor.Undo(txs[i], repo, undo.Txs[i]); err != nil {
			return fmt.Errorf("tx[%s]: %w", txs[i].HashHex(), err)
		}
	}

	return nil
}
