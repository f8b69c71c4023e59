package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/app/services/node/handlers"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/forger"
	"github.com/taucoin/blockchain/foundation/blockchain/genesis"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
	"github.com/taucoin/blockchain/foundation/blockchain/worker"
	"github.com/taucoin/blockchain/foundation/events"
	"github.com/taucoin/blockchain/foundation/logger"
	"github.com/taucoin/blockchain/foundation/nameservice"
	"go.uber.org/zap"
)

// webConfig holds the settings shared by the node's servers.
type webConfig struct {
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
	DebugHost       string        `conf:"default:0.0.0.0:7080"`
	PublicHost      string        `conf:"default:0.0.0.0:8080"`
	PrivateHost     string        `conf:"default:0.0.0.0:9080"`
}

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web   webConfig
		State struct {
			DBPath         string   `conf:"default:zblock/taucoin.db"`
			GenesisPath    string   `conf:"default:zblock/genesis.json"`
			GenesisHash    string   `conf:"help:header hash of block #0 in hex. Empty selects efc34d57 of the bundled genesis which differs from fbc608d4 of the public network"`
			FeeTerminate   uint64   `conf:"help:last height whose fees are split between the stake holders. Zero never stops the split"`
			CacheEnabled   bool     `conf:"default:true"`
			MutableRange   uint64   `conf:"default:144"`
			SelectStrategy string   `conf:"default:fee"`
			KnownPeers     []string `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
		}
		Forger struct {
			Account     string        `conf:"default:alice,help:name of the key in the name service folder or empty to not forge"`
			AutoStart   bool          `conf:"default:true"`
			Amount      int           `conf:"default:-1,help:blocks to forge per session or -1 to forge until stopped"`
			PullTimeout time.Duration `conf:"default:30s"`
		}
		Sync struct {
			Enabled          bool          `conf:"default:true"`
			MaintainInterval time.Duration `conf:"default:3s"`
			ChainInfoPeriod  time.Duration `conf:"default:1m"`
			RequestTimeout   time.Duration `conf:"default:30s"`
			MaxHashesAsk     int           `conf:"default:1000"`
			MaxBlocksAsk     int           `conf:"default:100"`
			QueueLimit       int           `conf:"default:20000"`
		}
		Pool struct {
			PullTime time.Duration `conf:"default:6s"`
			MinFee   uint64        `conf:"default:0"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "TauCoin proof of transaction node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  _____  _    _   _  ____ ___ ___ _   _ `)
	fmt.Println(` |_   _|/ \  | | | |/ ___/ _ \_ _| \ | |`)
	fmt.Println(`   | | / _ \ | | | | |  | | | | ||  \| |`)
	fmt.Println(`   | |/ ___ \| |_| | |__| |_| | || |\  |`)
	fmt.Println(`   |_/_/   \_\\___/ \____\___/___|_| \_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the zblock/accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservce", "name", name, "account", account)
	}

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	genesisHash := cfg.State.GenesisHash
	if genesisHash == "" {
		genesisHash = genesis.DefaultHash
	}
	if genesisHash != database.GenesisHash {
		log.Infow("startup", "status", "private genesis", "hash", genesisHash, "network", database.GenesisHash)
	}

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// Chain events are published on the bus and relayed to the websocket
	// clients as well.
	bus := listener.New()
	defer bus.Shutdown()
	evts.Forward(bus)

	// The key value store holds the blocks, the accounts and the sync queue
	// under different prefixes.
	kv, err := storage.NewDisk(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	if kv.Rebuilt() {
		log.Infow("startup", "status", "database rebuilt", "path", cfg.State.DBPath)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Host:           cfg.Web.PrivateHost,
		Storage:        kv,
		CacheEnabled:   cfg.State.CacheEnabled,
		Genesis:        gen,
		GenesisHash:    genesisHash,
		MutableRange:   cfg.State.MutableRange,
		FeeTerminate:   cfg.State.FeeTerminate,
		SelectStrategy: cfg.State.SelectStrategy,
		KnownPeers:     peerSet,
		Bus:            bus,
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the network workflows such as peer
	// updates and transaction and block sharing. The worker will register
	// itself with the state.
	wrk := worker.Run(st, ev)

	genesisBlock, err := st.GenesisBlock()
	if err != nil {
		return fmt.Errorf("unable to read genesis block: %w", err)
	}
	chainInfo := chainsync.NewChainInfoManager(genesisBlock.Hash())

	// The sync manager downloads the blocks of heavier chains announced by
	// the peers through the worker.
	syncMgr, err := chainsync.NewSyncManager(chainsync.ManagerConfig{
		Chain:            st,
		Storage:          kv,
		ChainInfo:        chainInfo,
		Requests:         wrk,
		Bus:              bus,
		EvHandler:        ev,
		MaintainInterval: cfg.Sync.MaintainInterval,
		ChainInfoPeriod:  cfg.Sync.ChainInfoPeriod,
		RequestTimeout:   cfg.Sync.RequestTimeout,
		MaxHashesAsk:     cfg.Sync.MaxHashesAsk,
		MaxBlocksAsk:     cfg.Sync.MaxBlocksAsk,
		QueueLimit:       cfg.Sync.QueueLimit,
	})
	if err != nil {
		return fmt.Errorf("unable to construct sync manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without sync the queue still imports the blocks peers propose.
	if cfg.Sync.Enabled {
		syncMgr.Start(ctx)
		defer syncMgr.Stop()
	} else {
		syncMgr.Queue().Start()
		defer syncMgr.Queue().Shutdown()
	}

	// Forging needs the private key of the configured account.
	var frg *forger.Forger
	if cfg.Forger.Account != "" {
		path := fmt.Sprintf("%s%s.ecdsa", cfg.NameService.Folder, cfg.Forger.Account)
		privateKey, err := crypto.LoadECDSA(path)
		if err != nil {
			return fmt.Errorf("unable to load private key for node: %w", err)
		}

		frg, err = forger.New(forger.Config{
			State:       st,
			Key:         privateKey,
			ChainInfo:   chainInfo,
			Bus:         bus,
			PullTimeout: cfg.Forger.PullTimeout,
			EvHandler:   ev,
		})
		if err != nil {
			return fmt.Errorf("unable to construct forger: %w", err)
		}
		defer frg.Shutdown()

		// The pool synchronizer pulls the peers' pending transactions right
		// before each block is due.
		poolSync := chainsync.NewPoolSynchronizer(chainsync.PoolConfig{
			Requests:        wrk,
			Pool:            st,
			Forger:          frg,
			Bus:             bus,
			PullPoolTxsTime: cfg.Pool.PullTime,
			MinFee:          cfg.Pool.MinFee,
			RequestTimeout:  cfg.Sync.RequestTimeout,
			EvHandler:       ev,
		})
		poolSync.Start()
		defer poolSync.Shutdown()

		if cfg.Forger.AutoStart {
			frg.Start(cfg.Forger.Amount)
		}
	}

	// =========================================================================
	// Start Debug Service

	// Not concerned with shutting this down with load shedding.
	debugMux := handlers.DebugMux(build, log, st)
	go func() {
		log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Services

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// One slot per server so a failing listener never blocks.
	serverErrors := make(chan error, 2)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		NS:       ns,
		Evts:     evts,
		Sync:     syncMgr,
		Forger:   frg,
	}

	// Stopped in order, private first.
	servers := []*http.Server{
		newServer(cfg.Web.PrivateHost, handlers.PrivateMux(muxCfg), cfg.Web, log),
		newServer(cfg.Web.PublicHost, handlers.PublicMux(muxCfg), cfg.Web, log),
	}
	for _, srv := range servers {
		srv := srv
		go func() {
			log.Infow("startup", "status", "api router started", "host", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()
	}

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		for _, srv := range servers {
			if err := stopServer(srv, cfg.Web.ShutdownTimeout, log); err != nil {
				return err
			}
		}
	}

	return nil
}

// newServer binds the mux to the host with the configured timeouts.
func newServer(host string, mux http.Handler, cfg webConfig, log *zap.SugaredLogger) *http.Server {
	return &http.Server{
		Addr:         host,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}
}

// stopServer sheds load on the server, closing it when the deadline passes.
func stopServer(srv *http.Server, timeout time.Duration, log *zap.SugaredLogger) error {
	log.Infow("shutdown", "status", "shutdown api started", "host", srv.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return fmt.Errorf("could not stop %s gracefully: %w", srv.Addr, err)
	}

	return nil
}
