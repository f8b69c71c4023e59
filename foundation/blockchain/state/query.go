package state

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/blockstore"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// QueryLastest represents to query the latest block in the chain.
const QueryLastest = ^uint64(0) >> 1

// ErrAccountNotFound is returned when the account has never been seen.
var ErrAccountNotFound = errors.New("account not found")

// =============================================================================

// BestBlock returns the tip of the main chain.
func (s *State) BestBlock() *database.Block {
	s.tipMu.RLock()
	defer s.tipMu.RUnlock()

	return s.bestBlock
}

// TotalDifficulty returns the cumulative difficulty of the best block.
func (s *State) TotalDifficulty() *big.Int {
	s.tipMu.RLock()
	defer s.tipMu.RUnlock()

	return new(big.Int).Set(s.totalDifficulty)
}

// GenesisBlock returns block #0.
func (s *State) GenesisBlock() (*database.Block, error) {
	return s.store.GetChainBlockByNumber(0)
}

// BlockByHash returns any stored block.
func (s *State) BlockByHash(hash []byte) (*database.Block, error) {
	return s.store.GetBlockByHash(hash)
}

// ChainBlockByNumber returns the main chain block at the height.
func (s *State) ChainBlockByNumber(number uint64) (*database.Block, error) {
	return s.store.GetChainBlockByNumber(number)
}

// BlockTimeByNumber returns the timestamp of the main chain block at the
// height or 0 when there is none.
func (s *State) BlockTimeByNumber(number uint64) int64 {
	return s.store.GetBlockTimeByNumber(number)
}

// IsBlockExist reports whether the block is stored.
func (s *State) IsBlockExist(hash []byte) bool {
	return s.store.IsBlockExist(hash)
}

// HashesStartFromBlock returns up to qty main chain hashes starting at the
// number, lowest first.
func (s *State) HashesStartFromBlock(number uint64, qty int) [][]byte {
	best := s.BestBlock()
	if number > best.Number || qty <= 0 {
		return nil
	}

	return s.store.GetListHashesStartWith(number, qty)
}

// HeadersStartFrom returns up to qty main chain headers starting at the
// number, lowest first.
func (s *State) HeadersStartFrom(number uint64, qty int) []blockstore.HeaderInfo {
	blocks := s.store.GetListBlocksStartWith(number, qty)

	headers := make([]blockstore.HeaderInfo, len(blocks))
	for i, b := range blocks {
		headers[i] = blockstore.HeaderInfo{Number: b.Number, Header: b.Header}
	}
	return headers
}

// BlocksByHashes returns the stored blocks among the hashes, skipping the
// unknown ones.
func (s *State) BlocksByHashes(hashes [][]byte) []*database.Block {
	var blocks []*database.Block
	for _, hash := range hashes {
		b, err := s.store.GetBlockByHash(hash)
		if err != nil {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// QueryBlocksByNumber returns the main chain blocks in the range. QueryLastest
// can be used for either end.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []*database.Block {
	best := s.BestBlock().Number

	if from == QueryLastest {
		from = best
		to = from
	}
	if to == QueryLastest || to > best {
		to = best
	}

	var out []*database.Block
	for i := from; i <= to; i++ {
		block, err := s.store.GetChainBlockByNumber(i)
		if err != nil {
			s.evHandler("state: QueryBlocksByNumber: ERROR: %s", err)
			return nil
		}
		out = append(out, block)
	}

	return out
}

// QueryAccount returns a copy of the committed account state.
func (s *State) QueryAccount(addr common.Address) (*database.AccountState, error) {
	as := s.repo.GetAccountState(addr)
	if as == nil {
		return nil, ErrAccountNotFound
	}
	return as, nil
}

// Balance returns the committed balance of the account.
func (s *State) Balance(addr common.Address) *big.Int {
	return s.repo.Balance(addr)
}

// ForgePower returns the committed forging power of the account.
func (s *State) ForgePower(addr common.Address) *big.Int {
	return s.repo.ForgePower(addr)
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// DumpAccounts returns the encoding of every committed account.
func (s *State) DumpAccounts() (map[common.Address][]byte, error) {
	return s.repo.Dump()
}
