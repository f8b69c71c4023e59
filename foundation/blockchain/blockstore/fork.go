package blockstore

import (
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// GetForkBlocksInfo walks the best chain and the chain ending with forkBlock
// back to their common ancestor. Both slices are ordered from the tip down:
// undo holds the best chain blocks to disconnect and newBlocks the fork
// blocks to connect, forkBlock first. ok is false when the fork does not
// link to a stored block.
func (s *Store) GetForkBlocksInfo(forkBlock *database.Block) (undo []*database.Block, newBlocks []*database.Block, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.bestInfo()
	if err != nil {
		return nil, nil, false
	}
	best, err := s.block(info.Hash)
	if err != nil {
		return nil, nil, false
	}

	level := max(best.Number, forkBlock.Number)

	forkLine := forkBlock
	for forkLine.Number > best.Number && level > best.Number {
		newBlocks = append(newBlocks, forkLine)
		if forkLine, err = s.block(forkLine.Header.PreviousHeaderHash); err != nil {
			return nil, nil, false
		}
		level--
	}

	bestLine := best
	for bestLine.Number > forkBlock.Number && level > forkBlock.Number {
		undo = append(undo, bestLine)
		if bestLine, err = s.block(bestLine.Header.PreviousHeaderHash); err != nil {
			return nil, nil, false
		}
		level--
	}

	for !bestLine.IsEqual(forkLine) {
		newBlocks = append(newBlocks, forkLine)
		undo = append(undo, bestLine)

		if bestLine, err = s.block(bestLine.Header.PreviousHeaderHash); err != nil {
			return nil, nil, false
		}
		if forkLine, err = s.block(forkLine.Header.PreviousHeaderHash); err != nil {
			return nil, nil, false
		}
	}

	return undo, newBlocks, true
}

// ReBranchBlocks moves the main chain flag from the undo blocks to the new
// blocks.
func (s *Store) ReBranchBlocks(undo []*database.Block, newBlocks []*database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flip := func(b *database.Block, mainChain bool) error {
		infos, err := s.infos(b.Number)
		if err != nil {
			return err
		}
		if i := find(infos, b.Hash()); i >= 0 {
			infos[i].MainChain = mainChain
			return s.putInfos(b.Number, infos)
		}
		return nil
	}

	for _, b := range undo {
		if err := flip(b, false); err != nil {
			return err
		}
		s.blockTimes.Remove(b.Number)
	}

	for _, b := range newBlocks {
		if err := flip(b, true); err != nil {
			return err
		}
		s.blockTimes.Set(b.Number, b.Header.TimeStamp)
	}

	s.evHandler("blockstore: ReBranchBlocks: undo[%d]: new[%d]", len(undo), len(newBlocks))

	return nil
}
