// This program performs administrative tasks against the node database.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ardanlabs/conf/v3"
	"github.com/taucoin/blockchain/app/tooling/admin/commands"
	"github.com/taucoin/blockchain/foundation/blockchain/blockstore"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		if !errors.Is(err, commands.ErrHelp) {
			log.Errorw("startup", "ERROR", err)
		}
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	cfg := struct {
		conf.Version
		Args conf.Args
		DB   struct {
			Path string `conf:"default:zblock/taucoin.db"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "TauCoin node database administration",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	kv, err := storage.NewDisk(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer kv.Close()

	if kv.Rebuilt() {
		log.Infow("startup", "status", "database was corrupted and has been rebuilt", "path", cfg.DB.Path)
	}

	ev := func(v string, args ...any) {
		log.Debugf(v, args...)
	}

	store, err := blockstore.New(kv, false, ev)
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer store.Close()

	return processCommands(cfg.Args, store, database.NewRepo(kv))
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args conf.Args, store *blockstore.Store, repo *database.Repo) error {
	out := os.Stdout

	switch args.Num(0) {
	case "best":
		return commands.Best(out, store)

	case "blocks":
		from, err := strconv.ParseUint(args.Num(1), 10, 64)
		if err != nil {
			return fmt.Errorf("blocks: from: %w", err)
		}
		to, err := strconv.ParseUint(args.Num(2), 10, 64)
		if err != nil {
			return fmt.Errorf("blocks: to: %w", err)
		}
		return commands.Blocks(out, store, from, to)

	case "accounts":
		return commands.Accounts(out, repo, args.Num(1))

	case "verify":
		return commands.Verify(out, store)

	case "prune":
		number, err := strconv.ParseUint(args.Num(1), 10, 64)
		if err != nil {
			return fmt.Errorf("prune: number: %w", err)
		}
		return commands.Prune(out, store, number)

	case "drop":
		return commands.Drop(out, store, args.Num(1))
	}

	fmt.Println("commands: best | blocks <from> <to> | accounts [address] | verify | prune <number> | drop <hash>")
	return commands.ErrHelp
}
