package chainsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
)

// Set of manager defaults.
const (
	DefaultMaintainInterval = 3 * time.Second
	DefaultChainInfoPeriod  = time.Minute
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMaxHashesAsk     = 1000
	DefaultMaxRetries       = 3
	gapRecoveryCoolDown     = 2 * time.Second
)

// ManagerConfig represents the configuration required to start the sync.
type ManagerConfig struct {
	Chain            Chain
	Storage          storage.KVStore
	ChainInfo        *ChainInfoManager
	Requests         RequestManager
	Bus              *listener.Bus
	EvHandler        EventHandler
	Now              func() time.Time
	MaintainInterval time.Duration
	ChainInfoPeriod  time.Duration
	RequestTimeout   time.Duration
	RetryDelay       time.Duration
	MaxRetries       int
	MaxHashesAsk     int
	MaxBlocksAsk     int
	QueueLimit       int
}

// SyncManager drives the sync states and owns the sync queue.
type SyncManager struct {
	chain     Chain
	queue     *SyncQueue
	chainInfo *ChainInfoManager
	requests  RequestManager
	bus       *listener.Bus
	evHandler EventHandler
	now       func() time.Time

	maintainInterval time.Duration
	chainInfoPeriod  time.Duration
	requestTimeout   time.Duration
	retryDelay       time.Duration
	maxRetries       int
	maxHashesAsk     int
	maxBlocksAsk     int

	states map[SyncState]stateHandler

	mu                sync.Mutex
	state             SyncState
	lastChainInfoPull time.Time
	gapBlock          *BlockWrapper

	syncDone atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticker *time.Ticker
	shut   chan struct{}
}

// NewSyncManager constructs a sync manager and its queue.
func NewSyncManager(cfg ManagerConfig) (*SyncManager, error) {
	if cfg.ChainInfo == nil || cfg.Requests == nil {
		return nil, errors.New("sync manager requires chain info and a request manager")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	m := SyncManager{
		chain:            cfg.Chain,
		chainInfo:        cfg.ChainInfo,
		requests:         cfg.Requests,
		bus:              cfg.Bus,
		evHandler:        ev,
		now:              cfg.Now,
		maintainInterval: cfg.MaintainInterval,
		chainInfoPeriod:  cfg.ChainInfoPeriod,
		requestTimeout:   cfg.RequestTimeout,
		retryDelay:       cfg.RetryDelay,
		maxRetries:       cfg.MaxRetries,
		maxHashesAsk:     cfg.MaxHashesAsk,
		maxBlocksAsk:     cfg.MaxBlocksAsk,
		state:            Idle,
		ctx:              context.Background(),
		cancel:           func() {},
		shut:             make(chan struct{}),
	}

	if m.now == nil {
		m.now = time.Now
	}
	if m.maintainInterval <= 0 {
		m.maintainInterval = DefaultMaintainInterval
	}
	if m.chainInfoPeriod <= 0 {
		m.chainInfoPeriod = DefaultChainInfoPeriod
	}
	if m.requestTimeout <= 0 {
		m.requestTimeout = DefaultRequestTimeout
	}
	if m.retryDelay <= 0 {
		m.retryDelay = DefaultRetryDelay
	}
	if m.maxRetries <= 0 {
		m.maxRetries = DefaultMaxRetries
	}
	if m.maxHashesAsk <= 0 {
		m.maxHashesAsk = DefaultMaxHashesAsk
	}
	if m.maxBlocksAsk <= 0 {
		m.maxBlocksAsk = DefaultMaxBlocksAsk
	}

	queue, err := NewSyncQueue(QueueConfig{
		Chain:        cfg.Chain,
		Storage:      cfg.Storage,
		QueueLimit:   cfg.QueueLimit,
		MaxBlocksAsk: m.maxBlocksAsk,
		RetryDelay:   m.retryDelay,
		EvHandler:    cfg.EvHandler,
		Now:          m.now,
		OnImported:   m.NotifyNewBlockImported,
		OnNoParent:   m.RecoverGap,
		OnInvalid:    func(w *BlockWrapper) { m.ReportBadAction(w.NodeID) },
	})
	if err != nil {
		return nil, err
	}
	m.queue = queue

	m.states = map[SyncState]stateHandler{
		Idle:                &idleState{m: &m},
		ChainInfoRetrieving: &chainInfoState{m: &m},
		HashRetrieving:      &hashState{m: &m},
		BlockRetrieving:     &blockState{m: &m},
	}

	return &m, nil
}

// Queue returns the sync queue so blocks announced by peers can be added.
func (m *SyncManager) Queue() *SyncQueue {
	return m.queue
}

// Start launches the import goroutine and the maintenance ticker.
func (m *SyncManager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.ticker = time.NewTicker(m.maintainInterval)

	m.queue.Start()
	m.ChangeState(ChainInfoRetrieving)

	hasStarted := make(chan bool)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		hasStarted <- true
		m.maintainOperations()
	}()

	<-hasStarted
}

// Stop shuts down every goroutine of the sync and waits for them.
func (m *SyncManager) Stop() {
	m.evHandler("chainsync: Stop: started")
	defer m.evHandler("chainsync: Stop: completed")

	m.cancel()
	if m.ticker != nil {
		m.ticker.Stop()
	}
	close(m.shut)

	m.queue.Shutdown()
	m.wg.Wait()
}

func (m *SyncManager) maintainOperations() {
	m.evHandler("chainsync: maintainOperations: G started")
	defer m.evHandler("chainsync: maintainOperations: G completed")

	for {
		select {
		case <-m.ticker.C:
			m.MaintainState()
		case <-m.shut:
			return
		}
	}
}

// MaintainState runs one maintenance step of the current state.
func (m *SyncManager) MaintainState() {
	s := m.State()

	switch s {
	case DoneChainInfoRetrieving:
		s = ChainInfoRetrieving
	case DoneHashRetrieving:
		s = HashRetrieving
	}

	m.states[s].Maintain()
}

// State returns the current sync state.
func (m *SyncManager) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// ChangeState moves the sync to a new state. The done states only record
// that a request finished and run no transition.
func (m *SyncManager) ChangeState(s SyncState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	m.mu.Unlock()

	m.evHandler("chainsync: ChangeState: from[%s]: to[%s]", prev, s)

	m.requests.ChangeSyncState(s)

	if h, exists := m.states[s]; exists {
		h.OnTransition()
	}
}

// HasToPullChainInfo reports whether the chain info is older than period.
func (m *SyncManager) HasToPullChainInfo(period time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now().Sub(m.lastChainInfoPull) > period
}

// =============================================================================

// IsSyncDone reports whether the node holds at least as much difficulty as
// the best known peer and has nothing left to import.
func (m *SyncManager) IsSyncDone() bool {
	info := m.chainInfo.Current()
	if m.chain.TotalDifficulty().Cmp(info.TotalDifficulty) < 0 {
		return false
	}
	return m.queue.IsImportingBlocksFinished()
}

func (m *SyncManager) checkSyncDone() {
	if !m.IsSyncDone() {
		info := m.chainInfo.Current()
		if m.chain.TotalDifficulty().Cmp(info.TotalDifficulty) < 0 {
			m.syncDone.Store(false)
		}
		return
	}

	m.onSyncDone()
}

func (m *SyncManager) onSyncDone() {
	if !m.syncDone.CompareAndSwap(false, true) {
		return
	}

	m.evHandler("chainsync: onSyncDone: best[%s]", m.chain.BestBlock().ShortDescr())
	m.bus.Publish(listener.Event{Kind: listener.SyncDone, Block: m.chain.BestBlock()})
}

// NotifyNewBlockImported is told about every import. Connecting a block
// that was announced moments ago means the node caught up.
func (m *SyncManager) NotifyNewBlockImported(w *BlockWrapper) {
	if m.syncDone.Load() {
		return
	}

	if !w.IsSolidBlock(m.now()) {
		m.onSyncDone()
		return
	}

	m.evHandler("chainsync: NotifyNewBlockImported: blk[%s]: catching up", w.Block.ShortDescr())
}

// ReportBadAction drops what the node sent and asks for it to be banned.
func (m *SyncManager) ReportBadAction(nodeID string) {
	if nodeID == "" {
		return
	}

	m.evHandler("chainsync: ReportBadAction: node[%s]", nodeID)

	m.queue.DropBlocks(nodeID)
	m.requests.Ban(nodeID)
}

// RecoverGap looks for the blocks missing below a block that arrived
// without its parent. The hashes are asked from the peer that sent the
// block and must end at its hash. A block from the main sync waits out a
// cool-down after its first failed import and a new block waits until the
// sync is idle.
func (m *SyncManager) RecoverGap(w *BlockWrapper) {
	if w.Number == 0 {
		return
	}

	now := m.now()

	m.mu.Lock()
	switch {
	case m.state == HashRetrieving:
		m.mu.Unlock()
		return

	case m.gapBlock != nil && m.gapBlock.IsEqual(w) && m.state != Idle:
		m.mu.Unlock()
		return

	case w.NewBlock && m.state != Idle:
		m.mu.Unlock()
		return

	case !w.NewBlock && w.TimeSinceFail(now) < gapRecoveryCoolDown:
		m.mu.Unlock()
		return
	}
	m.gapBlock = w
	m.mu.Unlock()

	m.evHandler("chainsync: RecoverGap: blk[%s]: number[%d]: node[%s]", w.Block.ShortDescr(), w.Number, w.NodeID)

	m.ChangeState(HashRetrieving)
}

// GapBlock returns the block whose gap is being recovered, nil when none.
func (m *SyncManager) GapBlock() *BlockWrapper {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.gapBlock
}

func (m *SyncManager) resetGapRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gapBlock = nil
}

// masterPeer returns the peer the sync downloads from.
func (m *SyncManager) masterPeer() string {
	if gap := m.GapBlock(); gap != nil && gap.NodeID != "" {
		return gap.NodeID
	}
	return m.chainInfo.Current().Peer
}

// goRequest runs a peer request on its own goroutine tracked by Stop.
func (m *SyncManager) goRequest(fn func(ctx context.Context)) {
	ctx := m.ctx

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(ctx)
	}()
}
