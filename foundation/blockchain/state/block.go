package state

import (
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/executor"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
)

// TryToConnect takes a block, forged locally or received from a peer, and
// tries to make it part of the chain. A block that extends the best block
// is validated and applied. A block on another branch becomes the new best
// block when its cumulative difficulty is higher, which reorganizes the
// chain, otherwise it is only stored.
func (s *State) TryToConnect(block *database.Block, fromNetwork bool) ImportResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.store.GetBlockByHash(block.Header.PreviousHeaderHash)
	if err != nil {
		s.evHandler("state: TryToConnect: no parent: blk[%s]: prev[%x]", block.HashHex(), block.Header.PreviousHeaderHash)
		return NoParent
	}

	// Whatever the wire carried, the derived fields are recomputed from the
	// parent.
	if err := s.wrap(block, parent); err != nil {
		s.evHandler("state: TryToConnect: ERROR: blk[%s]: %s", block.HashHex(), err)
		return InvalidBlock
	}

	s.evHandler("state: TryToConnect: started: blk[%s]: fromNetwork[%t]", block.ShortDescr(), fromNetwork)

	if s.store.GetMaxNumber() >= int64(block.Number) && s.store.IsBlockExist(block.Hash()) {
		s.evHandler("state: TryToConnect: exist: blk[%s]", block.ShortDescr())
		return Exist
	}

	var result ImportResult
	switch best := s.BestBlock(); {
	case best.IsParentOf(block):
		result = s.extend(block, parent, fromNetwork)
	default:
		result = s.tryConnectAndFork(block)
	}

	if result == ImportedBest {
		if block.Number > s.mutableRange {
			if err := s.store.DelNonChainBlocksByNumber(block.Number - s.mutableRange); err != nil {
				s.evHandler("state: TryToConnect: WARNING: prune: %s", err)
			}
		}
	}

	s.evHandler("state: TryToConnect: completed: blk[%s]: result[%s]", block.ShortDescr(), result)

	return result
}

// =============================================================================

// extend connects a block whose parent is the best block.
func (s *State) extend(block *database.Block, parent *database.Block, fromNetwork bool) ImportResult {
	s.evHandler("state: extend: validate: blk[%d]", block.Number)

	if err := s.validateBlock(block, parent, s.repo); err != nil {
		s.evHandler("state: extend: ERROR: invalid block: blk[%s]: %s", block.ShortDescr(), err)
		return InvalidBlock
	}

	track := s.repo.StartTracking()

	undo, outcomes, err := s.applyBlock(block, track)
	if err != nil {
		track.Rollback()
		s.evHandler("state: extend: ERROR: apply: blk[%s]: %s", block.ShortDescr(), err)
		return InvalidBlock
	}

	if err := s.storeBest(block, undo); err != nil {
		track.Rollback()
		s.evHandler("state: extend: ERROR: store: blk[%s]: %s", block.ShortDescr(), err)
		return InvalidBlock
	}

	track.Commit()
	s.setBest(block)
	s.flush("extend")

	s.mempool.ProcessBest(block)

	s.publishConnected(block, outcomes, fromNetwork)
	s.bus.Publish(listener.Event{Kind: listener.Block, Block: block})

	return ImportedBest
}

// storeBest writes the new best block with its undo record. The undo
// record goes first so a failure leaves no main chain entry behind.
func (s *State) storeBest(block *database.Block, undo database.BlockUndo) error {
	if err := s.store.SaveUndo(block.Hash(), undo); err != nil {
		return err
	}
	return s.store.SaveBlock(block, block.CumulativeDifficulty, true)
}

// flush writes the repository and the block store. The best block is
// already in memory so a failure is only logged.
func (s *State) flush(caller string) {
	if err := s.repo.Flush(); err != nil {
		s.evHandler("state: %s: ERROR: flush repository: %s", caller, err)
	}
	if err := s.store.Flush(); err != nil {
		s.evHandler("state: %s: ERROR: flush block store: %s", caller, err)
	}
}

// publishConnected sends the connected event and, for blocks forged by this
// node, the outcome of every transaction.
func (s *State) publishConnected(block *database.Block, outcomes []executor.Outcome, fromNetwork bool) {
	s.bus.Publish(listener.Event{Kind: listener.BlockConnected, Block: block})

	if fromNetwork {
		return
	}

	for _, outcome := range outcomes {
		s.bus.Publish(listener.Event{Kind: listener.TransactionExecuted, Block: block, Outcome: outcome})
	}
}
