package chainsync

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SyncState names the stage the sync is in.
type SyncState int

// Set of sync states.
const (
	Idle SyncState = iota
	HashRetrieving
	BlockRetrieving
	ChainInfoRetrieving
	DoneChainInfoRetrieving
	DoneHashRetrieving
)

var stateNames = map[SyncState]string{
	Idle:                    "IDLE",
	HashRetrieving:          "HASH_RETRIEVING",
	BlockRetrieving:         "BLOCK_RETRIEVING",
	ChainInfoRetrieving:     "CHAININFO_RETRIEVING",
	DoneChainInfoRetrieving: "DONE_CHAININFO_RETRIEVING",
	DoneHashRetrieving:      "DONE_HASH_RETRIEVING",
}

// String implements the fmt.Stringer interface.
func (s SyncState) String() string {
	if n, exists := stateNames[s]; exists {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// stateHandler is one stage of the sync. OnTransition runs when the stage
// is entered and Maintain on every tick while it is current.
type stateHandler interface {
	OnTransition()
	Maintain()
}

// =============================================================================

type idleState struct {
	m *SyncManager
}

func (s *idleState) OnTransition() {}

func (s *idleState) Maintain() {
	m := s.m
	q := m.queue

	m.checkSyncDone()

	if m.HasToPullChainInfo(m.chainInfoPeriod) {
		m.ChangeState(ChainInfoRetrieving)
		return
	}

	pending := !q.IsHashesEmpty() || !q.IsHeadersEmpty() || !q.IsBlockNumbersEmpty()
	if (q.IsMoreBlocksNeeded() || q.NoParent()) && pending {
		m.ChangeState(BlockRetrieving)
		return
	}

	if (q.IsBlocksEmpty() || q.NoParent()) && !m.IsSyncDone() {
		m.resetGapRecovery()
		m.ChangeState(HashRetrieving)
	}
}

// =============================================================================

type chainInfoState struct {
	m *SyncManager
}

func (s *chainInfoState) OnTransition() {
	m := s.m

	m.mu.Lock()
	m.lastChainInfoPull = m.now()
	m.mu.Unlock()

	m.goRequest(func(ctx context.Context) {
		info, err := m.requests.RequestChainInfo(ctx)
		if err != nil {
			m.evHandler("chainsync: chainInfo: request: ERROR: %s", err)
			m.ChangeState(Idle)
			return
		}

		m.chainInfo.Update(info)
		m.evHandler("chainsync: chainInfo: peer[%s]: height[%d]: td[%s]", info.Peer, info.Height, info.TotalDifficulty)

		m.ChangeState(DoneChainInfoRetrieving)
	})
}

func (s *chainInfoState) Maintain() {
	m := s.m
	if m.State() != DoneChainInfoRetrieving {
		return
	}

	info := m.chainInfo.Current()
	if m.chain.TotalDifficulty().Cmp(info.TotalDifficulty) >= 0 {
		m.ChangeState(Idle)
		return
	}

	m.resetGapRecovery()
	m.ChangeState(HashRetrieving)
}

// =============================================================================

type hashState struct {
	m       *SyncManager
	mu      sync.Mutex
	started time.Time
	peer    string
}

func (s *hashState) OnTransition() {
	m := s.m

	info := m.chainInfo.Current()
	best := m.chain.BestBlock().Number
	gap := m.GapBlock()
	peer := m.masterPeer()

	s.mu.Lock()
	s.started = m.now()
	s.peer = peer
	s.mu.Unlock()

	switch {
	case gap != nil:
		m.goRequest(func(ctx context.Context) {
			s.coverFork(ctx, peer, gap.Number, gap.Hash())
		})

	case info.Height > best:
		from := best + 1
		count := min(info.Height-best, uint64(m.maxHashesAsk))

		m.goRequest(func(ctx context.Context) {
			hashes, err := m.requests.RequestHashes(ctx, peer, from, int(count))
			if err != nil {
				m.evHandler("chainsync: hashRetrieving: peer[%s]: ERROR: %s", peer, err)
				m.ChangeState(Idle)
				return
			}

			m.queue.AddHashes(hashes)
			if len(hashes) > 0 {
				m.queue.AddBlockNumberRange(from, from+uint64(len(hashes))-1)
			}

			m.evHandler("chainsync: hashRetrieving: peer[%s]: from[%d]: hashes[%d]", peer, from, len(hashes))

			m.ChangeState(DoneHashRetrieving)
		})

	case info.Height > 0 && m.chain.TotalDifficulty().Cmp(info.TotalDifficulty) < 0:
		// A heavier chain no longer than ours forks below our best block.
		m.goRequest(func(ctx context.Context) {
			s.coverFork(ctx, peer, info.Height, nil)
		})

	default:
		m.ChangeState(DoneHashRetrieving)
	}
}

// coverFork asks for the hashes of the window of blocks ending at top and
// queues the ones above the last block both chains share. When target is
// set the window must end with it.
func (s *hashState) coverFork(ctx context.Context, peer string, top uint64, target []byte) {
	m := s.m

	from := uint64(1)
	if top > uint64(m.maxHashesAsk) {
		from = top - uint64(m.maxHashesAsk) + 1
	}
	want := int(top - from + 1)

	hashes, err := m.requests.RequestHashes(ctx, peer, from, want)
	if err != nil {
		m.evHandler("chainsync: hashRetrieving: peer[%s]: ERROR: %s", peer, err)
		m.ChangeState(Idle)
		return
	}

	if target != nil {
		if len(hashes) != want || !bytes.Equal(hashes[want-1], target) {
			m.evHandler("chainsync: hashRetrieving: peer[%s]: missed block[%d]", peer, top)
			m.ReportBadAction(peer)
			m.ChangeState(Idle)
			return
		}
		hashes = hashes[:want-1]
	}

	known := 0
	for known < len(hashes) && m.chain.IsBlockExist(hashes[known]) {
		known++
	}
	hashes = hashes[known:]
	start := from + uint64(known)

	if len(hashes) > 0 {
		m.queue.AddHashes(hashes)
		m.queue.AddBlockNumberRange(start, start+uint64(len(hashes))-1)
	}

	m.evHandler("chainsync: hashRetrieving: peer[%s]: fork from[%d]: to[%d]: hashes[%d]", peer, start, top, len(hashes))

	m.ChangeState(DoneHashRetrieving)
}

func (s *hashState) Maintain() {
	m := s.m
	q := m.queue

	if !q.IsMoreBlocksNeeded() && !q.NoParent() {
		m.ChangeState(Idle)
		return
	}

	if m.State() == DoneHashRetrieving {
		m.ChangeState(BlockRetrieving)
		return
	}

	s.mu.Lock()
	stuck := m.now().Sub(s.started) > m.requestTimeout
	peer := s.peer
	s.mu.Unlock()

	if stuck {
		m.evHandler("chainsync: hashRetrieving: peer[%s]: stuck", peer)
		m.ReportBadAction(peer)
		m.ChangeState(BlockRetrieving)
	}
}

// =============================================================================

type blockState struct {
	m           *SyncManager
	downloading atomic.Bool
}

func (s *blockState) OnTransition() {
	m := s.m
	peer := m.masterPeer()

	if !s.downloading.CompareAndSwap(false, true) {
		return
	}

	m.goRequest(func(ctx context.Context) {
		defer s.downloading.Store(false)
		failures := 0

		for m.State() == BlockRetrieving {
			if !m.queue.IsMoreBlocksNeeded() {
				return
			}

			numbers := m.queue.PollBlockNumbers()
			if len(numbers) == 0 {
				return
			}

			if err := s.download(ctx, peer, numbers); err != nil {
				failures++
				m.evHandler("chainsync: blockRetrieving: peer[%s]: attempt[%d]: ERROR: %s", peer, failures, err)

				if failures >= m.maxRetries {
					m.ChangeState(HashRetrieving)
					return
				}

				select {
				case <-time.After(m.retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			failures = 0
		}
	})
}

// download fetches contiguous runs of numbers, returning the numbers it could
// not fetch to the queue.
func (s *blockState) download(ctx context.Context, peer string, numbers []uint64) error {
	m := s.m
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for start := 0; start < len(numbers); {
		end := start
		for end+1 < len(numbers) && numbers[end+1] == numbers[end]+1 {
			end++
		}

		from, to := numbers[start], numbers[end]
		blocks, err := m.requests.RequestBlocks(ctx, peer, from, to)
		if err != nil {
			m.queue.ReturnBlockNumbers(numbers[start:])
			return err
		}
		if len(blocks) == 0 {
			m.queue.ReturnBlockNumbers(numbers[start:])
			return fmt.Errorf("no blocks from[%d] to[%d]", from, to)
		}

		if uint64(len(blocks)) > to-from+1 {
			blocks = blocks[:to-from+1]
		}
		for i, block := range blocks {
			block.Number = from + uint64(i)
		}

		if err := m.queue.AddList(blocks, peer); err != nil {
			m.queue.ReturnBlockNumbers(numbers[start:])
			return err
		}

		// A short answer leaves the rest of the run for the next poll.
		if got := uint64(len(blocks)); got < to-from+1 {
			m.queue.ReturnBlockNumbers(numbers[start+int(got) : end+1])
		}

		start = end + 1
	}

	return nil
}

func (s *blockState) Maintain() {
	m := s.m
	q := m.queue

	if !q.IsMoreBlocksNeeded() || (q.IsBlockNumbersEmpty() && !s.downloading.Load()) {
		m.ChangeState(Idle)
	}
}
