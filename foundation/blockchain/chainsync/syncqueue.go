// Package chainsync downloads the best chain from the peers and feeds the
// blocks to the state one at a time.
package chainsync

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
)

// Set of queue defaults.
const (
	DefaultQueueLimit   = 20000
	DefaultMaxBlocksAsk = 100
	DefaultRetryDelay   = 2 * time.Second
	dropBlocksLimit     = 1000
)

// ErrBrokenHeaders is returned when a batch of headers does not link.
var ErrBrokenHeaders = errors.New("headers do not form a chain")

// EventHandler defines a function that is called when events occur in the
// processing of the sync.
type EventHandler func(v string, args ...any)

// Chain represents the behavior required from the blockchain by the sync.
type Chain interface {
	TryToConnect(block *database.Block, fromNetwork bool) state.ImportResult
	BestBlock() *database.Block
	TotalDifficulty() *big.Int
	IsBlockExist(hash []byte) bool
}

// QueueConfig represents the configuration required to start a sync queue.
type QueueConfig struct {
	Chain        Chain
	Storage      storage.KVStore
	QueueLimit   int
	MaxBlocksAsk int
	RetryDelay   time.Duration
	EvHandler    EventHandler
	Now          func() time.Time

	// Called from the import goroutine.
	OnImported func(w *BlockWrapper)
	OnNoParent func(w *BlockWrapper)
	OnInvalid  func(w *BlockWrapper)
}

// SyncQueue stages what is still to be downloaded and imports the
// downloaded blocks in a single goroutine.
type SyncQueue struct {
	chain        Chain
	evHandler    EventHandler
	now          func() time.Time
	queueLimit   int
	maxBlocksAsk int
	retryDelay   time.Duration
	onImported   func(w *BlockWrapper)
	onNoParent   func(w *BlockWrapper)
	onInvalid    func(w *BlockWrapper)

	hashes  hashStore
	headers headerStore
	numbers *numberStore
	blocks  *blockQueue

	noParent  atomic.Bool
	importing atomic.Bool

	wg   sync.WaitGroup
	shut chan struct{}
	once sync.Once
}

// NewSyncQueue constructs a queue, restoring the blocks kept in storage.
func NewSyncQueue(cfg QueueConfig) (*SyncQueue, error) {
	if cfg.Chain == nil {
		return nil, errors.New("sync queue requires a chain")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	blocks, err := newBlockQueue(cfg.Storage)
	if err != nil {
		return nil, err
	}

	q := SyncQueue{
		chain:        cfg.Chain,
		evHandler:    ev,
		now:          cfg.Now,
		queueLimit:   cfg.QueueLimit,
		maxBlocksAsk: cfg.MaxBlocksAsk,
		retryDelay:   cfg.RetryDelay,
		onImported:   cfg.OnImported,
		onNoParent:   cfg.OnNoParent,
		onInvalid:    cfg.OnInvalid,
		numbers:      newNumberStore(),
		blocks:       blocks,
		shut:         make(chan struct{}),
	}

	if q.now == nil {
		q.now = time.Now
	}
	if q.queueLimit <= 0 {
		q.queueLimit = DefaultQueueLimit
	}
	if q.maxBlocksAsk <= 0 {
		q.maxBlocksAsk = DefaultMaxBlocksAsk
	}
	if q.retryDelay <= 0 {
		q.retryDelay = DefaultRetryDelay
	}

	if n := blocks.size(); n > 0 {
		ev("chainsync: NewSyncQueue: restored blocks[%d]", n)
	}

	return &q, nil
}

// Start launches the import goroutine.
func (q *SyncQueue) Start() {
	hasStarted := make(chan bool)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		hasStarted <- true
		q.produceQueue()
	}()

	<-hasStarted
}

// Shutdown stops the import goroutine and waits for it to return.
func (q *SyncQueue) Shutdown() {
	q.once.Do(func() {
		close(q.shut)
		q.blocks.close()
	})
	q.wg.Wait()
}

// produceQueue takes blocks off the queue in number order and connects them.
func (q *SyncQueue) produceQueue() {
	q.evHandler("chainsync: produceQueue: G started")
	defer q.evHandler("chainsync: produceQueue: G completed")

	for {
		w, err := q.blocks.take()
		if err != nil {
			return
		}

		q.importing.Store(true)
		result := q.chain.TryToConnect(w.Block, true)
		q.importing.Store(false)

		q.evHandler("chainsync: produceQueue: blk[%s]: result[%s]", w.Block.ShortDescr(), result)

		switch {
		case result.IsSuccessful():
			q.noParent.Store(false)
			if q.onImported != nil {
				q.onImported(w)
			}

		case result == state.NoParent:
			w.ImportFailed(q.now())
			if q.onNoParent != nil {
				q.onNoParent(w)
			}
			if err := q.blocks.addOrReplace(w); err != nil {
				q.evHandler("chainsync: produceQueue: blk[%s]: re-queue: ERROR: %s", w.Block.ShortDescr(), err)
			}
			q.noParent.Store(true)
			if !q.sleep() {
				return
			}

		case result == state.InvalidBlock:
			if q.onInvalid != nil {
				q.onInvalid(w)
			}

		case result == state.Exist:

		default:
			// Branches that cannot be joined yet stay queued for a retry.
			w.ImportFailed(q.now())
			if err := q.blocks.addOrReplace(w); err != nil {
				q.evHandler("chainsync: produceQueue: blk[%s]: re-queue: ERROR: %s", w.Block.ShortDescr(), err)
			}
			if !q.sleep() {
				return
			}
		}
	}
}

// sleep waits out the retry delay, returning false on shutdown.
func (q *SyncQueue) sleep() bool {
	t := time.NewTimer(q.retryDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-q.shut:
		return false
	}
}

// =============================================================================

// AddList queues blocks downloaded during the main sync. The number of each
// block must be set.
func (q *SyncQueue) AddList(blocks []*database.Block, nodeID string) error {
	now := q.now()

	var (
		ws     []*BlockWrapper
		hashes [][]byte
	)
	for _, block := range blocks {
		hash := block.Hash()
		hashes = append(hashes, hash)
		if q.chain.IsBlockExist(hash) || q.blocks.contains(hash) {
			continue
		}
		ws = append(ws, NewBlockWrapper(block, block.Number, nodeID, false, now))
	}

	q.hashes.removeAll(hashes)

	if len(ws) == 0 {
		return nil
	}

	if err := q.blocks.addAll(ws); err != nil {
		return err
	}

	q.evHandler("chainsync: AddList: node[%s]: blocks[%d]: queued[%d]", nodeID, len(blocks), len(ws))

	return nil
}

// AddNew queues a block announced by a peer as just forged.
func (q *SyncQueue) AddNew(block *database.Block, nodeID string) error {
	hash := block.Hash()
	if q.chain.IsBlockExist(hash) {
		return nil
	}

	q.evHandler("chainsync: AddNew: node[%s]: blk[%s]", nodeID, block.ShortDescr())

	return q.blocks.addOrReplace(NewBlockWrapper(block, block.Number, nodeID, true, q.now()))
}

// AddHash puts a hash at the front of the hash store.
func (q *SyncQueue) AddHash(hash []byte) {
	q.hashes.addFirst(hash)
}

// AddHashesLast appends hashes to the hash store.
func (q *SyncQueue) AddHashesLast(hashes [][]byte) {
	q.hashes.addBatch(hashes)
}

// AddHashes puts the hashes not yet known at the front of the hash store.
func (q *SyncQueue) AddHashes(hashes [][]byte) {
	filtered := q.filterKnown(hashes)
	q.hashes.addFirstBatch(filtered)

	q.evHandler("chainsync: AddHashes: hashes[%d]: added[%d]", len(hashes), len(filtered))
}

// AddNewBlockHashes appends announced hashes that are not yet known.
func (q *SyncQueue) AddNewBlockHashes(hashes [][]byte) {
	q.hashes.addBatch(q.filterKnown(hashes))
}

// ReturnHashes puts back hashes that could not be downloaded.
func (q *SyncQueue) ReturnHashes(hashes [][]byte) {
	if len(hashes) == 0 {
		return
	}
	q.hashes.addFirstBatch(hashes)
}

// PollHashes removes the next batch of hashes to download.
func (q *SyncQueue) PollHashes() [][]byte {
	return q.hashes.pollBatch(q.maxBlocksAsk)
}

func (q *SyncQueue) filterKnown(hashes [][]byte) [][]byte {
	var unknown [][]byte
	for _, h := range q.blocks.filterExisting(hashes) {
		if !q.chain.IsBlockExist(h) {
			unknown = append(unknown, h)
		}
	}
	return unknown
}

// AddBlockNumbers adds the numbers above the current best block.
func (q *SyncQueue) AddBlockNumbers(numbers []uint64) {
	best := q.chain.BestBlock().Number

	var filtered []uint64
	for _, n := range numbers {
		if n > best {
			filtered = append(filtered, n)
		}
	}

	q.numbers.addBatch(filtered)
}

// AddBlockNumberRange adds the numbers from..to inclusive.
func (q *SyncQueue) AddBlockNumberRange(from uint64, to uint64) {
	if from > to {
		return
	}

	numbers := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}

	q.numbers.addBatch(numbers)
}

// ReturnBlockNumbers puts back numbers that could not be downloaded.
func (q *SyncQueue) ReturnBlockNumbers(numbers []uint64) {
	q.numbers.addBatch(numbers)
}

// PollBlockNumbers removes the lowest batch of numbers to download.
func (q *SyncQueue) PollBlockNumbers() []uint64 {
	return q.numbers.pollBatch(q.maxBlocksAsk)
}

// AddAndValidateHeaders stores the headers when each one links to the one
// before it.
func (q *SyncQueue) AddAndValidateHeaders(headers []database.BlockHeader, nodeID string) error {
	for i := 1; i < len(headers); i++ {
		if !bytes.Equal(headers[i].PreviousHeaderHash, headers[i-1].Hash()) {
			return fmt.Errorf("node[%s]: header[%d]: %w", nodeID, i, ErrBrokenHeaders)
		}
	}

	q.headers.addBatch(headers)

	return nil
}

// PollHeaders removes the next batch of headers.
func (q *SyncQueue) PollHeaders() []database.BlockHeader {
	return q.headers.pollBatch(q.maxBlocksAsk)
}

// DropBlocks removes the queued blocks received from a misbehaving node.
func (q *SyncQueue) DropBlocks(nodeID string) int {
	dropped := q.blocks.dropByNode(nodeID, dropBlocksLimit)

	q.evHandler("chainsync: DropBlocks: node[%s]: dropped[%d]", nodeID, len(dropped))

	return len(dropped)
}

// Reset forgets everything still to be downloaded.
func (q *SyncQueue) Reset() {
	q.hashes.clear()
	q.headers.clear()
	q.numbers.clear()
}

// =============================================================================

// IsHashesEmpty reports whether no hash is waiting.
func (q *SyncQueue) IsHashesEmpty() bool {
	return q.hashes.size() == 0
}

// IsHeadersEmpty reports whether no header is waiting.
func (q *SyncQueue) IsHeadersEmpty() bool {
	return q.headers.size() == 0
}

// IsBlockNumbersEmpty reports whether no block number is waiting.
func (q *SyncQueue) IsBlockNumbersEmpty() bool {
	return q.numbers.size() == 0
}

// IsBlocksEmpty reports whether no block is waiting for import.
func (q *SyncQueue) IsBlocksEmpty() bool {
	return q.blocks.size() == 0
}

// IsMoreBlocksNeeded reports whether the queue has room for more blocks.
func (q *SyncQueue) IsMoreBlocksNeeded() bool {
	return q.blocks.size() < q.queueLimit
}

// HasSolidBlocks reports whether a queued block is ready for import.
func (q *SyncQueue) HasSolidBlocks() bool {
	return q.blocks.hasSolid(q.now())
}

// IsImportingBlocksFinished reports whether the queue drained and no import
// is in progress.
func (q *SyncQueue) IsImportingBlocksFinished() bool {
	return q.IsBlocksEmpty() && !q.importing.Load()
}

// IsBlockExist reports whether the block is waiting for import.
func (q *SyncQueue) IsBlockExist(hash []byte) bool {
	return q.blocks.contains(hash)
}

// NoParent reports whether the last import failed for a missing parent.
func (q *SyncQueue) NoParent() bool {
	return q.noParent.Load()
}

// Size returns the number of blocks waiting for import.
func (q *SyncQueue) Size() int {
	return q.blocks.size()
}

// Blocks returns the waiting blocks ordered by number.
func (q *SyncQueue) Blocks() []*BlockWrapper {
	return q.blocks.sorted()
}
