package chainsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
)

// Set of pool synchronizer defaults.
const (
	DefaultPullPoolTxsTime = 6 * time.Second
	DefaultPullPoolTxsMax  = database.MaxBlockTxSize
	immediatePull          = 10 * time.Millisecond
)

// TxSink represents the behavior required to accept transactions pulled
// from the peers.
type TxSink interface {
	UpsertNodeTransactions(txs []*database.Transaction) []*database.Transaction
}

// PullNotifier is told when a pull of the peers' pools finished.
type PullNotifier interface {
	NotifyPullTxPoolFinished()
}

// PoolConfig represents the configuration required to start the pool
// synchronizer.
type PoolConfig struct {
	Requests        RequestManager
	Pool            TxSink
	Forger          PullNotifier
	Bus             *listener.Bus
	PullPoolTxsTime time.Duration
	MaxTxs          int
	MinFee          uint64
	RequestTimeout  time.Duration
	EvHandler       EventHandler
}

// PoolSynchronizer pulls the peers' pending transactions shortly before the
// forger's next block is due.
type PoolSynchronizer struct {
	requests       RequestManager
	pool           TxSink
	forger         PullNotifier
	bus            *listener.Bus
	pullTime       time.Duration
	maxTxs         int
	minFee         uint64
	requestTimeout time.Duration
	evHandler      EventHandler

	subID  string
	events <-chan listener.Event

	mu    sync.Mutex
	timer *time.Timer

	wg sync.WaitGroup
}

// NewPoolSynchronizer constructs a pool synchronizer.
func NewPoolSynchronizer(cfg PoolConfig) *PoolSynchronizer {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	ps := PoolSynchronizer{
		requests:       cfg.Requests,
		pool:           cfg.Pool,
		forger:         cfg.Forger,
		bus:            cfg.Bus,
		pullTime:       cfg.PullPoolTxsTime,
		maxTxs:         cfg.MaxTxs,
		minFee:         cfg.MinFee,
		requestTimeout: cfg.RequestTimeout,
		evHandler:      ev,
		subID:          "poolsync-" + uuid.NewString(),
	}

	if ps.pullTime <= 0 {
		ps.pullTime = DefaultPullPoolTxsTime
	}
	if ps.maxTxs <= 0 {
		ps.maxTxs = DefaultPullPoolTxsMax
	}
	if ps.requestTimeout <= 0 {
		ps.requestTimeout = DefaultRequestTimeout
	}

	return &ps
}

// Start subscribes to the forger's events.
func (ps *PoolSynchronizer) Start() {
	ps.events = ps.bus.Subscribe(ps.subID)

	hasStarted := make(chan bool)

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		hasStarted <- true
		ps.eventOperations()
	}()

	<-hasStarted
}

// Shutdown stops any scheduled pull and waits for the event goroutine.
func (ps *PoolSynchronizer) Shutdown() {
	ps.bus.Unsubscribe(ps.subID)
	ps.cancelPull()
	ps.wg.Wait()
}

func (ps *PoolSynchronizer) eventOperations() {
	ps.evHandler("chainsync: poolsync: G started")
	defer ps.evHandler("chainsync: poolsync: G completed")

	for ev := range ps.events {
		switch ev.Kind {
		case listener.NextBlockForgedInterval:
			ps.schedulePull(ev.Interval)
		case listener.ForgingStopped:
			ps.cancelPull()
		}
	}
}

// schedulePull arranges the pull ahead of a block due in interval seconds.
func (ps *PoolSynchronizer) schedulePull(interval int64) {
	delay := immediatePull
	if due := time.Duration(interval) * time.Second; due > ps.pullTime {
		delay = due - ps.pullTime
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.timer != nil {
		ps.timer.Stop()
	}
	ps.timer = time.AfterFunc(delay, ps.PullPoolTxs)

	ps.evHandler("chainsync: poolsync: schedulePull: interval[%ds]: delay[%s]", interval, delay)
}

func (ps *PoolSynchronizer) cancelPull() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
}

// PullPoolTxs asks the peers for their pending transactions and tells the
// forger once they are in the pool.
func (ps *PoolSynchronizer) PullPoolTxs() {
	ctx, cancel := context.WithTimeout(context.Background(), ps.requestTimeout)
	defer cancel()

	txs, err := ps.requests.RequestPoolTxs(ctx, ps.maxTxs, ps.minFee)
	if err != nil {
		ps.evHandler("chainsync: poolsync: PullPoolTxs: ERROR: %s", err)
		return
	}

	added := ps.pool.UpsertNodeTransactions(txs)
	ps.evHandler("chainsync: poolsync: PullPoolTxs: received[%d]: added[%d]", len(txs), len(added))

	if ps.forger != nil {
		ps.forger.NotifyPullTxPoolFinished()
	}
}
