// Package blockstore maintains the fork aware index of every block the node
// knows about. Each height holds a list of candidate blocks and exactly one
// of them is flagged as part of the main chain.
package blockstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/bluele/gcache"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
)

// blockTimeCacheSize is about one day of blocks.
const blockTimeCacheSize = 288

// ErrNotFound is returned when a block is not in the store.
var ErrNotFound = errors.New("blockstore: block not found")

// Key prefixes inside the shared store.
var (
	prefixIndex = []byte("index/")
	prefixBlock = []byte("block/")
	prefixUndo  = []byte("undo/")
	keyMax      = []byte("meta/max")
)

// BlockInfo describes one candidate block at a height.
type BlockInfo struct {
	Hash                 []byte
	CumulativeDifficulty *big.Int
	MainChain            bool
}

// =============================================================================

// Store manages the blocks. When the cache is enabled every write is held in
// memory until Flush writes it to the persistent store in one batch.
type Store struct {
	mu         sync.RWMutex
	evHandler  func(v string, args ...any)
	persist    storage.KVStore
	cache      *storage.Memory
	deleted    map[string]struct{}
	blockTimes gcache.Cache
	maxNumber  int64
}

// New constructs a block store over kv. With cacheEnabled writes are
// buffered until Flush, otherwise they go straight to kv.
func New(kv storage.KVStore, cacheEnabled bool, evHandler func(v string, args ...any)) (*Store, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	s := Store{
		evHandler:  ev,
		persist:    kv,
		deleted:    make(map[string]struct{}),
		blockTimes: gcache.New(blockTimeCacheSize).LRU().Build(),
		maxNumber:  -1,
	}

	if cacheEnabled {
		s.cache = storage.NewMemory()
	}

	data, err := kv.Get(keyMax)
	switch {
	case err == nil:
		s.maxNumber = int64(binary.BigEndian.Uint64(data))
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("read max number: %w", err)
	}

	return &s, nil
}

// Close writes any buffered change. The underlying store is owned by the
// caller.
func (s *Store) Close() error {
	return s.Flush()
}

// Flush writes the buffered changes to the persistent store.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache == nil {
		return nil
	}

	batch := s.persist.NewBatch()

	iter := s.cache.NewIterator(nil)
	for iter.Next() {
		batch.Put(iter.Key(), iter.Value())
	}
	iter.Release()

	for key := range s.deleted {
		batch.Delete([]byte(key))
	}

	n := batch.Len()
	if err := batch.Write(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	s.cache = storage.NewMemory()
	s.deleted = make(map[string]struct{})

	s.evHandler("blockstore: Flush: wrote %d changes", n)

	return nil
}

// SaveBlock stores the block and adds it as a candidate at its height.
func (s *Store) SaveBlock(b *database.Block, cumulativeDifficulty *big.Int, mainChain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := b.Hash()

	infos, err := s.infos(b.Number)
	if err != nil {
		return err
	}

	info := BlockInfo{Hash: hash, CumulativeDifficulty: new(big.Int).Set(cumulativeDifficulty), MainChain: mainChain}
	if i := find(infos, hash); i >= 0 {
		infos[i] = info
	} else {
		infos = append(infos, info)
	}

	if err := s.putInfos(b.Number, infos); err != nil {
		return err
	}

	if err := s.put(blockKey(hash), b.EncodeFull()); err != nil {
		return err
	}

	if int64(b.Number) > s.maxNumber {
		s.maxNumber = int64(b.Number)
		num := make([]byte, 8)
		binary.BigEndian.PutUint64(num, b.Number)
		if err := s.put(keyMax, num); err != nil {
			return err
		}
	}

	if mainChain {
		s.blockTimes.Set(b.Number, b.Header.TimeStamp)
	}

	return nil
}

// SaveUndo stores the undo record of a block.
func (s *Store) SaveUndo(hash []byte, undo database.BlockUndo) error {
	data, err := undo.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(undoKey(hash), data)
}

// Undo returns the undo record of a block.
func (s *Store) Undo(hash []byte) (database.BlockUndo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.get(undoKey(hash))
	if err != nil {
		return database.BlockUndo{}, err
	}
	return database.DecodeBlockUndo(data)
}

// GetMaxNumber returns the highest height that holds any block or -1 for an
// empty store.
func (s *Store) GetMaxNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.maxNumber
}

// GetBestBlock returns the main chain block at the highest height.
func (s *Store) GetBestBlock() (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.bestInfo()
	if err != nil {
		return nil, err
	}
	return s.block(info.Hash)
}

// GetTotalDifficulty returns the cumulative difficulty of the best block.
func (s *Store) GetTotalDifficulty() (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := s.bestInfo()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return new(big.Int).Set(info.CumulativeDifficulty), nil
}

// GetTotalDifficultyForHash returns the cumulative difficulty of the block.
func (s *Store) GetTotalDifficultyForHash(hash []byte) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.block(hash)
	if err != nil {
		return nil, err
	}

	infos, err := s.infos(b.Number)
	if err != nil {
		return nil, err
	}

	if i := find(infos, hash); i >= 0 {
		return new(big.Int).Set(infos[i].CumulativeDifficulty), nil
	}
	return nil, ErrNotFound
}

// GetChainBlockByNumber returns the main chain block at the height.
func (s *Store) GetChainBlockByNumber(number uint64) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.chainBlock(number)
}

// GetBlockHashByNumber returns the hash of the main chain block at the
// height.
func (s *Store) GetBlockHashByNumber(number uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.infos(number)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.MainChain {
			return info.Hash, nil
		}
	}
	return nil, ErrNotFound
}

// GetBlocksByNumber returns every candidate block at the height.
func (s *Store) GetBlocksByNumber(number uint64) ([]*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos, err := s.infos(number)
	if err != nil {
		return nil, err
	}

	blocks := make([]*database.Block, 0, len(infos))
	for _, info := range infos {
		b, err := s.block(info.Hash)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// GetBlockInfos returns the candidates at the height.
func (s *Store) GetBlockInfos(number uint64) ([]BlockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.infos(number)
}

// GetBlockByHash returns the block with the hash.
func (s *Store) GetBlockByHash(hash []byte) (*database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.block(hash)
}

// IsBlockExist reports whether the block is stored.
func (s *Store) IsBlockExist(hash []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := s.get(blockKey(hash))
	return err == nil
}

// GetBlockTimeByNumber returns the timestamp of the main chain block at the
// height or 0 when there is none.
func (s *Store) GetBlockTimeByNumber(number uint64) int64 {
	if v, err := s.blockTimes.Get(number); err == nil {
		return v.(int64)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.chainBlock(number)
	if err != nil {
		return 0
	}
	s.blockTimes.Set(number, b.Header.TimeStamp)

	return b.Header.TimeStamp
}

// =============================================================================

// DelNonChainBlock removes the block unless it is part of the main chain.
func (s *Store) DelNonChainBlock(hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.delNonChainBlock(hash)
}

// DelNonChainBlocksEndWith removes the block and its ancestors until one of
// them is part of the main chain.
func (s *Store) DelNonChainBlocksEndWith(hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		b, err := s.block(hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		infos, err := s.infos(b.Number)
		if err != nil {
			return err
		}

		i := find(infos, hash)
		if i < 0 || infos[i].MainChain {
			return nil
		}

		if err := s.delNonChainBlock(hash); err != nil {
			return err
		}
		hash = b.Header.PreviousHeaderHash
	}
}

// DelNonChainBlocksByNumber removes every candidate at the height that is
// not part of the main chain.
func (s *Store) DelNonChainBlocksByNumber(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := s.infos(number)
	if err != nil {
		return err
	}

	keep := make([]BlockInfo, 0, 1)
	for _, info := range infos {
		if info.MainChain {
			keep = append(keep, info)
			continue
		}
		if err := s.del(blockKey(info.Hash)); err != nil {
			return err
		}
		if err := s.del(undoKey(info.Hash)); err != nil {
			return err
		}
	}

	if len(keep) == len(infos) {
		return nil
	}

	s.evHandler("blockstore: DelNonChainBlocksByNumber: number[%d]: removed[%d]", number, len(infos)-len(keep))

	return s.putInfos(number, keep)
}

func (s *Store) delNonChainBlock(hash []byte) error {
	b, err := s.block(hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	infos, err := s.infos(b.Number)
	if err != nil {
		return err
	}

	i := find(infos, hash)
	if i >= 0 {
		if infos[i].MainChain {
			return nil
		}
		infos = append(infos[:i], infos[i+1:]...)
		if err := s.putInfos(b.Number, infos); err != nil {
			return err
		}
	}

	if err := s.del(undoKey(hash)); err != nil {
		return err
	}
	return s.del(blockKey(hash))
}

// =============================================================================

// bestInfo must be called with the lock held.
func (s *Store) bestInfo() (BlockInfo, error) {
	for n := s.maxNumber; n >= 0; n-- {
		infos, err := s.infos(uint64(n))
		if err != nil {
			return BlockInfo{}, err
		}
		for _, info := range infos {
			if info.MainChain {
				return info, nil
			}
		}
	}
	return BlockInfo{}, ErrNotFound
}

// chainBlock must be called with the lock held.
func (s *Store) chainBlock(number uint64) (*database.Block, error) {
	infos, err := s.infos(number)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.MainChain {
			return s.block(info.Hash)
		}
	}
	return nil, ErrNotFound
}

// block must be called with the lock held.
func (s *Store) block(hash []byte) (*database.Block, error) {
	data, err := s.get(blockKey(hash))
	if err != nil {
		return nil, err
	}
	return database.DecodeBlock(data)
}

// infos must be called with the lock held.
func (s *Store) infos(number uint64) ([]BlockInfo, error) {
	data, err := s.get(indexKey(number))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var infos []BlockInfo
	if err := rlp.DecodeBytes(data, &infos); err != nil {
		return nil, fmt.Errorf("decode index %d: %w", number, err)
	}
	return infos, nil
}

// putInfos must be called with the lock held.
func (s *Store) putInfos(number uint64, infos []BlockInfo) error {
	data, err := rlp.EncodeToBytes(infos)
	if err != nil {
		return fmt.Errorf("encode index %d: %w", number, err)
	}
	return s.put(indexKey(number), data)
}

func (s *Store) get(key []byte) ([]byte, error) {
	if s.cache != nil {
		if _, gone := s.deleted[string(key)]; gone {
			return nil, ErrNotFound
		}
		if v, err := s.cache.Get(key); err == nil {
			return v, nil
		}
	}

	v, err := s.persist.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *Store) put(key []byte, value []byte) error {
	if s.cache != nil {
		delete(s.deleted, string(key))
		return s.cache.Put(key, value)
	}
	return s.persist.Put(key, value)
}

func (s *Store) del(key []byte) error {
	if s.cache != nil {
		s.deleted[string(key)] = struct{}{}
		return s.cache.Delete(key)
	}
	return s.persist.Delete(key)
}

// =============================================================================

func find(infos []BlockInfo, hash []byte) int {
	for i, info := range infos {
		if bytes.Equal(info.Hash, hash) {
			return i
		}
	}
	return -1
}

func indexKey(number uint64) []byte {
	k := make([]byte, len(prefixIndex)+8)
	copy(k, prefixIndex)
	binary.BigEndian.PutUint64(k[len(prefixIndex):], number)
	return k
}

func blockKey(hash []byte) []byte {
	return append(append([]byte(nil), prefixBlock...), hash...)
}

func undoKey(hash []byte) []byte {
	return append(append([]byte(nil), prefixUndo...), hash...)
}
