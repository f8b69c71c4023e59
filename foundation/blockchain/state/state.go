// Package state is the core API for the blockchain and implements all the
// consensus rules: block validation, fork choice and reorganization.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/blockstore"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/executor"
	"github.com/taucoin/blockchain/foundation/blockchain/genesis"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/mempool"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// DefaultMutableRange is the number of blocks a reorganization may undo.
const DefaultMutableRange = database.TxExpirationHeight

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for sharing transactions and blocks with peers.
type Worker interface {
	Shutdown()
	SignalShareTx(tx *database.Transaction)
	SignalShareBlock(block *database.Block)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Host           string
	Storage        storage.KVStore
	CacheEnabled   bool
	Genesis        genesis.Genesis
	GenesisHash    string
	MutableRange   uint64
	FeeTerminate   uint64
	SelectStrategy string
	KnownPeers     *peer.PeerSet
	Bus            *listener.Bus
	EvHandler      EventHandler
	Now            func() int64
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	host         string
	evHandler    EventHandler
	now          func() int64
	genesisHash  []byte
	mutableRange uint64

	tipMu           sync.RWMutex
	bestBlock       *database.Block
	totalDifficulty *big.Int

	genesis    genesis.Genesis
	knownPeers *peer.PeerSet
	bus        *listener.Bus
	kv         storage.KVStore
	repo       *database.Repo
	store      *blockstore.Store
	mempool    *mempool.Mempool
	executor   *executor.Executor

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}

	if cfg.GenesisHash == "" {
		cfg.GenesisHash = database.GenesisHash
	}
	genesisHash, err := hexutil.Decode("0x" + cfg.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("genesis hash: %w", err)
	}

	if cfg.MutableRange == 0 {
		cfg.MutableRange = DefaultMutableRange
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	// The account repository and the block store share the same key value
	// store under different prefixes.
	repo := database.NewRepo(cfg.Storage)

	store, err := blockstore.New(cfg.Storage, cfg.CacheEnabled, ev)
	if err != nil {
		return nil, err
	}

	// Construct a mempool with the specified select strategy. Balance checks
	// go against the committed repository.
	mp, err := mempool.New(mempool.Config{
		Balances:  repo,
		Bus:       cfg.Bus,
		Strategy:  cfg.SelectStrategy,
		EvHandler: ev,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	state := State{
		host:         cfg.Host,
		evHandler:    ev,
		now:          now,
		genesisHash:  genesisHash,
		mutableRange: cfg.MutableRange,

		genesis:    cfg.Genesis,
		knownPeers: knownPeers,
		bus:        cfg.Bus,
		kv:         cfg.Storage,
		repo:       repo,
		store:      store,
		mempool:    mp,
		executor:   executor.New(ev, cfg.FeeTerminate),
	}

	// An empty store starts from the genesis block, otherwise the best
	// block is reloaded.
	if store.GetMaxNumber() < 0 {
		if err := state.initGenesis(); err != nil {
			return nil, err
		}
	} else {
		if err := state.loadBest(); err != nil {
			return nil, err
		}
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: Shutdown: started")
	defer s.evHandler("state: Shutdown: completed")

	// Make sure the database is properly closed.
	defer func() {
		s.kv.Close()
	}()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Flush(); err != nil {
		return err
	}

	return s.store.Close()
}

// =============================================================================

// initGenesis writes block #0 and the premined balances.
func (s *State) initGenesis() error {
	block, err := s.genesis.ToBlock()
	if err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}

	if err := s.validateGenesis(block); err != nil {
		return err
	}

	premine, err := s.genesis.Premine()
	if err != nil {
		return fmt.Errorf("genesis premine: %w", err)
	}

	// Premined accounts start with a forging power of one.
	for addr, balance := range premine {
		power := s.repo.IncreaseForgePower(addr)
		s.repo.AddBalance(addr, balance)
		s.evHandler("state: initGenesis: premine: account[%s]: balance[%s]: power[%s]", addr, balance, power)
	}

	if err := s.repo.Flush(); err != nil {
		return err
	}

	if err := s.store.SaveBlock(block, block.CumulativeDifficulty, true); err != nil {
		return err
	}
	if err := s.store.Flush(); err != nil {
		return err
	}

	s.setBest(block)

	s.evHandler("state: initGenesis: blk[%s]", block.HashHex())

	return nil
}

// loadBest restores the best block and total difficulty from the store.
func (s *State) loadBest() error {
	best, err := s.store.GetBestBlock()
	if err != nil {
		return fmt.Errorf("load best block: %w", err)
	}

	s.setBest(best)

	s.evHandler("state: loadBest: blk[%s]: td[%s]", best.ShortDescr(), best.CumulativeDifficulty)

	return nil
}

// setBest records the new tip of the main chain.
func (s *State) setBest(block *database.Block) {
	s.tipMu.Lock()
	defer s.tipMu.Unlock()

	s.bestBlock = block
	s.totalDifficulty = new(big.Int).Set(block.CumulativeDifficulty)
}
