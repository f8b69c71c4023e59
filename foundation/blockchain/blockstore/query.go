package blockstore

import (
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// HeaderInfo is a header together with the number of its block.
type HeaderInfo struct {
	Number uint64
	Header database.BlockHeader
}

// GetListBlocksEndWith returns up to qty blocks walking back from hash,
// hash first.
func (s *Store) GetListBlocksEndWith(hash []byte, qty int) []*database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blocks []*database.Block
	for i := 0; i < qty; i++ {
		b, err := s.block(hash)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
		hash = b.Header.PreviousHeaderHash
	}
	return blocks
}

// GetListHashesEndWith returns up to qty hashes walking back from hash.
func (s *Store) GetListHashesEndWith(hash []byte, qty int) [][]byte {
	blocks := s.GetListBlocksEndWith(hash, qty)

	hashes := make([][]byte, len(blocks))
	for i, b := range blocks {
		hashes[i] = b.Hash()
	}
	return hashes
}

// GetListHeadersEndWith returns up to qty headers walking back from hash.
func (s *Store) GetListHeadersEndWith(hash []byte, qty int) []HeaderInfo {
	blocks := s.GetListBlocksEndWith(hash, qty)

	headers := make([]HeaderInfo, len(blocks))
	for i, b := range blocks {
		headers[i] = HeaderInfo{Number: b.Number, Header: b.Header}
	}
	return headers
}

// GetListHashesStartWith returns up to maxBlocks main chain hashes starting
// at number and moving up.
func (s *Store) GetListHashesStartWith(number uint64, maxBlocks int) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes [][]byte
	for i := 0; i < maxBlocks; i++ {
		infos, err := s.infos(number)
		if err != nil || len(infos) == 0 {
			break
		}
		for _, info := range infos {
			if info.MainChain {
				hashes = append(hashes, info.Hash)
				break
			}
		}
		number++
	}
	return hashes
}

// GetListBlocksStartWith returns up to maxBlocks main chain blocks starting
// at number and moving up.
func (s *Store) GetListBlocksStartWith(number uint64, maxBlocks int) []*database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blocks []*database.Block
	for i := 0; i < maxBlocks; i++ {
		b, err := s.chainBlock(number)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
		number++
	}
	return blocks
}
