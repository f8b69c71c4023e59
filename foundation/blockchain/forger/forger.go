// Package forger produces blocks for the node's account whenever its proof
// of transaction allows it to extend the best chain.
package forger

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
)

// DefaultPullTimeout is how long a round waits for the peers' pools to be
// pulled before giving up on the round.
const DefaultPullTimeout = 30 * time.Second

// Unlimited tells Start to forge until stopped.
const Unlimited = -1

// Config represents the configuration required to start the forger.
type Config struct {
	State       *state.State
	Key         *ecdsa.PrivateKey
	ChainInfo   *chainsync.ChainInfoManager
	Bus         *listener.Bus
	PullTimeout time.Duration
	EvHandler   state.EventHandler
	Now         func() time.Time
}

// Forger runs forging sessions. A session is a series of rounds, each one
// trying to put one block on top of the best block.
type Forger struct {
	state       *state.State
	key         *ecdsa.PrivateKey
	pubKey      []byte
	chainInfo   *chainsync.ChainInfoManager
	bus         *listener.Bus
	pullTimeout time.Duration
	evHandler   state.EventHandler
	now         func() time.Time
	subID       string

	mu          sync.Mutex
	forging     bool
	stop        chan struct{}
	nextForgeAt time.Time

	pullDone chan struct{}
	wg       sync.WaitGroup
}

// New constructs a forger for the account owning the key.
func New(cfg Config) (*Forger, error) {
	if cfg.State == nil || cfg.Key == nil {
		return nil, errors.New("forger requires a state and a key")
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	f := Forger{
		state:       cfg.State,
		key:         cfg.Key,
		pubKey:      signature.PublicKeyBytes(cfg.Key),
		chainInfo:   cfg.ChainInfo,
		bus:         cfg.Bus,
		pullTimeout: cfg.PullTimeout,
		evHandler:   ev,
		now:         cfg.Now,
		subID:       "forger-" + uuid.NewString(),
		pullDone:    make(chan struct{}, 1),
	}

	if f.pullTimeout <= 0 {
		f.pullTimeout = DefaultPullTimeout
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.bus == nil {
		f.bus = listener.New()
	}
	if f.chainInfo == nil {
		g, err := cfg.State.GenesisBlock()
		if err != nil {
			return nil, err
		}
		f.chainInfo = chainsync.NewChainInfoManager(g.Hash())
	}

	return &f, nil
}

// Start begins a session forging amount blocks, or Unlimited. When a session
// is already running the time left to the next block is announced again.
func (f *Forger) Start(amount int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forging {
		remaining := max(int64(f.nextForgeAt.Sub(f.now())/time.Second), 0)
		f.bus.Publish(listener.Event{Kind: listener.NextBlockForgedInterval, Interval: remaining})
		return false
	}

	f.forging = true
	f.stop = make(chan struct{})
	events := f.bus.Subscribe(f.subID)

	f.evHandler("forger: Start: amount[%d]", amount)
	f.bus.Publish(listener.Event{Kind: listener.ForgingStarted})

	f.wg.Add(1)
	go func(stop chan struct{}) {
		defer f.wg.Done()
		f.forgeOperations(amount, stop, events)
	}(f.stop)

	return true
}

// Stop ends the running session after its current step.
func (f *Forger) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.forging || f.stop == nil {
		return
	}

	f.evHandler("forger: Stop: requested")
	close(f.stop)
	f.stop = nil
}

// Shutdown stops the running session and waits for it to end.
func (f *Forger) Shutdown() {
	f.evHandler("forger: Shutdown: started")
	defer f.evHandler("forger: Shutdown: completed")

	f.Stop()
	f.wg.Wait()
}

// IsForging reports whether a session is running.
func (f *Forger) IsForging() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.forging
}

// NotifyPullTxPoolFinished tells the waiting round the peers' pending
// transactions are in the pool.
func (f *Forger) NotifyPullTxPoolFinished() {
	select {
	case f.pullDone <- struct{}{}:
	default:
	}
}

// =============================================================================

func (f *Forger) forgeOperations(amount int, stop chan struct{}, events <-chan listener.Event) {
	f.evHandler("forger: forgeOperations: G started")
	defer f.evHandler("forger: forgeOperations: G completed")

	status := ForgeNormal
	forged := 0

	for status.IsContinue() && (amount == Unlimited || forged < amount) {
		status = f.restartForging(stop, events)
		if status == ForgeNormal {
			forged++
		}

		f.evHandler("forger: forgeOperations: status[%d]: %s", status.Code(), status)
		f.bus.Publish(listener.Event{Kind: listener.ForgingStatus, Outcome: status, Status: status.String()})
	}

	f.onForgingStopped(status)
}

func (f *Forger) onForgingStopped(status ForgeStatus) {
	f.mu.Lock()
	f.forging = false
	f.stop = nil
	f.mu.Unlock()

	f.bus.Unsubscribe(f.subID)

	f.evHandler("forger: onForgingStopped: status[%d]: %s", status.Code(), status)
	f.bus.Publish(listener.Event{Kind: listener.ForgingStopped, Outcome: status, Status: status.String()})
}

// restartForging runs one round: it waits for the forging slot, then builds
// and imports the block.
func (f *Forger) restartForging(stop chan struct{}, events <-chan listener.Event) ForgeStatus {
	drain(events)
	select {
	case <-f.pullDone:
	default:
	}

	best := f.state.BestBlock()

	// A heavier chain is known and is still being downloaded.
	info := f.chainInfo.Current()
	if f.state.TotalDifficulty().Cmp(info.TotalDifficulty) < 0 && !bytes.Equal(best.Hash(), info.CurrentBlockHash) {
		f.evHandler("forger: restartForging: waiting for sync: best[%s]: peer height[%d]", best.ShortDescr(), info.Height)
		return f.waitForSync(stop, events)
	}

	fi, err := f.state.NextForgeInfo(f.pubKey)
	if err != nil {
		if errors.Is(err, state.ErrNoForgePower) {
			return ForgePowerLessThanZero
		}
		f.evHandler("forger: restartForging: ERROR: %s", err)
		return ExceptionDuringForging
	}
	parent := fi.Parent

	forgeAt := time.Unix(parent.Header.TimeStamp+fi.Interval, 0)
	sleep := max(forgeAt.Sub(f.now()), 0)

	f.mu.Lock()
	f.nextForgeAt = forgeAt
	f.mu.Unlock()

	f.bus.Publish(listener.Event{Kind: listener.NextBlockForgedInterval, Interval: int64(sleep / time.Second)})
	f.bus.Publish(listener.Event{
		Kind: listener.NextBlockForgedDetail,
		Detail: &listener.ForgeDetail{
			BaseTarget: fi.BaseTarget.String(),
			GenSig:     fi.GenerationSignature,
			Power:      fi.Power.String(),
			Hit:        fi.Hit.String(),
			Interval:   fi.Interval,
		},
	})

	if sleep > 0 {
		f.evHandler("forger: restartForging: parent[%s]: sleep[%s]", parent.ShortDescr(), sleep)
		if status, interrupted := f.sleepUntilSlot(sleep, parent, stop, events); interrupted {
			return status
		}
	}

	select {
	case <-stop:
		return NormalExit
	default:
	}

	timer := time.NewTimer(f.pullTimeout)
	defer timer.Stop()

	select {
	case <-f.pullDone:
	case <-stop:
		return NormalExit
	case <-timer.C:
		f.evHandler("forger: restartForging: pull pool txs timed out")
		return PullPoolTxTimeout
	}

	if !bytes.Equal(f.state.BestBlock().Hash(), parent.Hash()) {
		return ForgeContinue
	}

	ts := max(f.now().Unix(), forgeAt.Unix())

	picked, err := f.state.PickTransactions(database.MaxBlockTxSize)
	if err != nil {
		f.evHandler("forger: restartForging: pick txs: ERROR: %s", err)
		return ExceptionDuringForging
	}

	txs := make([]*database.Transaction, 0, len(picked))
	for _, tx := range picked {
		if !tx.CheckBlockTime(ts) {
			f.evHandler("forger: restartForging: tx[%s]: skipped: outside the block time", tx.HashHex())
			continue
		}
		txs = append(txs, tx)
	}

	block, err := f.state.CreateNewBlock(f.key, parent, txs, ts)
	if err != nil {
		f.evHandler("forger: restartForging: create block: ERROR: %s", err)
		return ExceptionDuringForging
	}

	f.bus.Publish(listener.Event{Kind: listener.BlockForged, Block: block})

	result := f.state.TryToConnect(block, false)
	if !result.IsSuccessful() {
		f.evHandler("forger: restartForging: blk[%s]: import: %s", block.ShortDescr(), result)
		return ExceptionDuringForging
	}

	f.evHandler("forger: restartForging: blk[%s]: txs[%d]: forged", block.ShortDescr(), len(txs))

	if f.state.Worker != nil {
		f.state.Worker.SignalShareBlock(block)
	}

	return ForgeNormal
}

// sleepUntilSlot waits for the forging slot. A new best block or a stop
// interrupts the wait.
func (f *Forger) sleepUntilSlot(d time.Duration, parent *database.Block, stop chan struct{}, events <-chan listener.Event) (ForgeStatus, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return ForgeNormal, false

		case <-stop:
			return NormalExit, true

		case ev, ok := <-events:
			if !ok {
				return ForgeInterruptedOrCanceled, true
			}
			if ev.Kind == listener.Block && !bytes.Equal(ev.Block.Hash(), parent.Hash()) {
				return ForgeContinue, true
			}
		}
	}
}

// waitForSync holds the round until the sync reports progress.
func (f *Forger) waitForSync(stop chan struct{}, events <-chan listener.Event) ForgeStatus {
	timer := time.NewTimer(f.pullTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return BlockSyncProcessing

		case <-stop:
			return NormalExit

		case ev, ok := <-events:
			if !ok {
				return ForgeInterruptedOrCanceled
			}
			if ev.Kind == listener.SyncDone || ev.Kind == listener.Block {
				return BlockSyncProcessing
			}
		}
	}
}

func drain(events <-chan listener.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
