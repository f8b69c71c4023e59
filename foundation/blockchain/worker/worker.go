// Package worker implements the network side of the node: peer updates,
// sharing transactions and blocks, and the requests the block
// synchronization makes to the peers.
package worker

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
)

// peerUpdateInterval represents the interval of finding new peer nodes
// and refreshing the chain status they report.
const peerUpdateInterval = time.Minute

// maxShareRequests represents the max number of pending network share
// requests that can be outstanding before share requests are dropped.
const maxShareRequests = 100

// banDuration is how long a misbehaving peer is ignored.
const banDuration = 10 * time.Minute

// requestTimeout bounds a single call to a peer.
const requestTimeout = 15 * time.Second

// =============================================================================

// Worker manages the network workflows for the node.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	ticker       *time.Ticker
	shut         chan struct{}
	txSharing    chan *database.Transaction
	blockSharing chan *database.Block
	evHandler    state.EventHandler
	baseURL      string
	client       http.Client
	syncState    atomic.Int32

	mu     sync.Mutex
	banned map[string]time.Time
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) *Worker {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	w := Worker{
		state:        st,
		ticker:       time.NewTicker(peerUpdateInterval),
		shut:         make(chan struct{}),
		txSharing:    make(chan *database.Transaction, maxShareRequests),
		blockSharing: make(chan *database.Block, maxShareRequests),
		evHandler:    ev,
		baseURL:      "http://%s/v1/node",
		client:       http.Client{Timeout: requestTimeout},
		banned:       make(map[string]time.Time),
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.shareTxOperations,
		w.shareBlockOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalShareTx signals a share transaction operation. If
// maxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(tx *database.Transaction) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// SignalShareBlock signals a share block operation for a block this node
// forged.
func (w *Worker) SignalShareBlock(block *database.Block) {
	select {
	case w.blockSharing <- block:
		w.evHandler("worker: SignalShareBlock: share blk[%s] signaled", block.ShortDescr())
	default:
		w.evHandler("worker: SignalShareBlock: queue full, block won't be shared.")
	}
}

// SyncState returns the synchronization state last reported by the sync
// manager.
func (w *Worker) SyncState() chainsync.SyncState {
	return chainsync.SyncState(w.syncState.Load())
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// isBanned reports whether the host is serving a ban.
func (w *Worker) isBanned(host string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	until, exists := w.banned[host]
	if !exists {
		return false
	}
	if time.Now().After(until) {
		delete(w.banned, host)
		return false
	}

	return true
}
