package state

import (
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
)

// tryConnectAndFork handles a block whose parent is not the best block. If
// the branch it ends carries more cumulative difficulty than the main chain,
// the main chain is rolled back to the common ancestor and the branch is
// replayed. No change is visible unless every block of the branch is valid.
func (s *State) tryConnectAndFork(block *database.Block) ImportResult {
	parent, err := s.store.GetBlockByHash(block.Header.PreviousHeaderHash)
	if err != nil {
		return NoParent
	}

	if block.CumulativeDifficulty.Cmp(s.TotalDifficulty()) <= 0 {
		if err := block.ValidateSimple(parent, s.now(), s.evHandler); err != nil {
			s.evHandler("state: tryConnectAndFork: ERROR: invalid block: blk[%s]: %s", block.ShortDescr(), err)
			return InvalidBlock
		}

		if err := s.store.SaveBlock(block, block.CumulativeDifficulty, false); err != nil {
			s.evHandler("state: tryConnectAndFork: ERROR: store: blk[%s]: %s", block.ShortDescr(), err)
			return InvalidBlock
		}

		s.evHandler("state: tryConnectAndFork: stored on a side branch: blk[%s]", block.ShortDescr())
		return ImportedNotBest
	}

	undoBlocks, newBlocks, ok := s.store.GetForkBlocksInfo(block)
	if !ok {
		s.evHandler("state: tryConnectAndFork: ERROR: can not find continuous branch: blk[%s]", block.ShortDescr())
		if err := s.store.DelNonChainBlock(block.Header.PreviousHeaderHash); err != nil {
			s.evHandler("state: tryConnectAndFork: WARNING: delete orphan: %s", err)
		}
		return DiscontinuousBranch
	}

	if uint64(len(undoBlocks)) > s.mutableRange {
		s.evHandler("state: tryConnectAndFork: blocks to be rolled back are out of mutable range: undo[%d]", len(undoBlocks))
		return ImmutableBranch
	}

	s.evHandler("state: tryConnectAndFork: REORG: undo[%d]: new[%d]", len(undoBlocks), len(newBlocks))

	track := s.repo.StartTracking()

	// Disconnect the main chain blocks from the tip down.
	for _, ub := range undoBlocks {
		undo, err := s.store.Undo(ub.Hash())
		if err != nil {
			track.Rollback()
			s.evHandler("state: tryConnectAndFork: ERROR: undo record: blk[%s]: %s", ub.ShortDescr(), err)
			return InvalidBlock
		}

		ct := track.StartTracking()
		if err := s.undoBlock(ub, ct, undo); err != nil {
			ct.Rollback()
			track.Rollback()
			s.evHandler("state: tryConnectAndFork: ERROR: disconnect: blk[%s]: %s", ub.ShortDescr(), err)
			return InvalidBlock
		}
		ct.Commit()
	}

	// Connect the branch blocks from the common ancestor up.
	undos := make([]database.BlockUndo, len(newBlocks))
	for i := len(newBlocks) - 1; i >= 0; i-- {
		nb := newBlocks[i]

		var nbParent *database.Block
		switch {
		case i == len(newBlocks)-1:
			nbParent, err = s.store.GetBlockByHash(nb.Header.PreviousHeaderHash)
			if err != nil {
				track.Rollback()
				return NoParent
			}
		default:
			nbParent = newBlocks[i+1]
		}

		if err := s.validateBlock(nb, nbParent, track); err != nil {
			track.Rollback()
			s.evHandler("state: tryConnectAndFork: ERROR: invalid block: blk[%s]: %s", nb.ShortDescr(), err)
			return InvalidBlock
		}

		ct := track.StartTracking()
		undo, _, err := s.applyBlock(nb, ct)
		if err != nil {
			ct.Rollback()
			track.Rollback()
			s.evHandler("state: tryConnectAndFork: ERROR: connect: blk[%s]: %s", nb.ShortDescr(), err)
			return InvalidBlock
		}
		ct.Commit()

		undos[i] = undo
	}

	s.evHandler("state: tryConnectAndFork: beginning to re-branch")

	for i, nb := range newBlocks {
		if err := s.store.SaveUndo(nb.Hash(), undos[i]); err != nil {
			track.Rollback()
			s.evHandler("state: tryConnectAndFork: ERROR: store undo: blk[%s]: %s", nb.ShortDescr(), err)
			return InvalidBlock
		}
	}

	if err := s.store.SaveBlock(block, block.CumulativeDifficulty, true); err != nil {
		track.Rollback()
		s.evHandler("state: tryConnectAndFork: ERROR: store: blk[%s]: %s", block.ShortDescr(), err)
		return InvalidBlock
	}

	if err := s.store.ReBranchBlocks(undoBlocks, newBlocks); err != nil {
		track.Rollback()
		s.evHandler("state: tryConnectAndFork: ERROR: rebranch: %s", err)
		return InvalidBlock
	}

	track.Commit()
	s.setBest(block)
	s.flush("tryConnectAndFork")

	for i := len(newBlocks) - 1; i >= 0; i-- {
		s.mempool.ProcessBest(newBlocks[i])
	}

	for _, ub := range undoBlocks {
		s.bus.Publish(listener.Event{Kind: listener.BlockDisconnected, Block: ub})
	}
	for i := len(newBlocks) - 1; i >= 0; i-- {
		s.bus.Publish(listener.Event{Kind: listener.BlockConnected, Block: newBlocks[i]})
	}
	s.bus.Publish(listener.Event{Kind: listener.Block, Block: block})

	return ImportedBest
}
