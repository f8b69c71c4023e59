package chainsync

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
)

// ErrQueueClosed is returned by take once the queue is closed.
var ErrQueueClosed = errors.New("block queue closed")

// blockQueue holds downloaded blocks ordered by number. When backed by a
// store the blocks survive a restart of the node.
type blockQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	blocks map[string]*BlockWrapper
	closed bool
	table  storage.KVStore
}

// newBlockQueue constructs a queue, restoring any blocks kept in kv.
func newBlockQueue(kv storage.KVStore) (*blockQueue, error) {
	bq := blockQueue{
		blocks: make(map[string]*BlockWrapper),
	}
	bq.cond = sync.NewCond(&bq.mu)

	if kv == nil {
		return &bq, nil
	}
	bq.table = storage.NewTable(kv, "q-")

	iter := bq.table.NewIterator(nil)
	defer iter.Release()

	for iter.Next() {
		w, err := DecodeBlockWrapper(iter.Value())
		if err != nil {
			return nil, err
		}
		bq.blocks[hex.EncodeToString(w.Hash())] = w
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("load block queue: %w", err)
	}

	return &bq, nil
}

func queueKey(w *BlockWrapper) []byte {
	key := make([]byte, 8, 8+32)
	binary.BigEndian.PutUint64(key, w.Number)
	return append(key, w.Hash()...)
}

// addOrReplace stores the wrapper, replacing one for the same block.
func (bq *blockQueue) addOrReplace(w *BlockWrapper) error {
	return bq.addAll([]*BlockWrapper{w})
}

func (bq *blockQueue) addAll(ws []*BlockWrapper) error {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	if bq.closed {
		return ErrQueueClosed
	}

	if bq.table != nil {
		batch := bq.table.NewBatch()
		for _, w := range ws {
			data, err := w.Encode()
			if err != nil {
				return err
			}
			batch.Put(queueKey(w), data)
		}
		if err := batch.Write(); err != nil {
			return fmt.Errorf("persist block queue: %w", err)
		}
	}

	for _, w := range ws {
		bq.blocks[hex.EncodeToString(w.Hash())] = w
	}
	bq.cond.Broadcast()

	return nil
}

// take blocks until a wrapper is available and removes the one with the
// lowest number.
func (bq *blockQueue) take() (*BlockWrapper, error) {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	for len(bq.blocks) == 0 && !bq.closed {
		bq.cond.Wait()
	}

	if bq.closed {
		return nil, ErrQueueClosed
	}

	var (
		lowest *BlockWrapper
		key    string
	)
	for k, w := range bq.blocks {
		if lowest == nil || w.Number < lowest.Number {
			lowest, key = w, k
		}
	}

	delete(bq.blocks, key)
	if bq.table != nil {
		bq.table.Delete(queueKey(lowest))
	}

	return lowest, nil
}

// sorted returns the queued wrappers ordered by number.
func (bq *blockQueue) sorted() []*BlockWrapper {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	ws := make([]*BlockWrapper, 0, len(bq.blocks))
	for _, w := range bq.blocks {
		ws = append(ws, w)
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].Number < ws[j].Number })

	return ws
}

func (bq *blockQueue) contains(hash []byte) bool {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	_, exists := bq.blocks[hex.EncodeToString(hash)]
	return exists
}

// filterExisting returns the hashes that are not queued.
func (bq *blockQueue) filterExisting(hashes [][]byte) [][]byte {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	var missing [][]byte
	for _, h := range hashes {
		if _, exists := bq.blocks[hex.EncodeToString(h)]; !exists {
			missing = append(missing, h)
		}
	}

	return missing
}

// dropByNode removes up to limit wrappers received from the node.
func (bq *blockQueue) dropByNode(nodeID string, limit int) []*BlockWrapper {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	var dropped []*BlockWrapper
	for k, w := range bq.blocks {
		if len(dropped) == limit {
			break
		}
		if w.NodeID != nodeID {
			continue
		}
		delete(bq.blocks, k)
		if bq.table != nil {
			bq.table.Delete(queueKey(w))
		}
		dropped = append(dropped, w)
	}

	return dropped
}

// hasSolid reports whether any queued block is ready for import.
func (bq *blockQueue) hasSolid(now time.Time) bool {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	for _, w := range bq.blocks {
		if w.IsSolidBlock(now) {
			return true
		}
	}

	return false
}

func (bq *blockQueue) size() int {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	return len(bq.blocks)
}

// close wakes every caller blocked in take.
func (bq *blockQueue) close() {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	bq.closed = true
	bq.cond.Broadcast()
}
