// Package commands contains the functionality for the set of commands
// currently supported by the admin tool.
package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/blockstore"
)

// ErrHelp is returned when no known command was given.
var ErrHelp = errors.New("provide a command")

// ErrBrokenChain is returned by Verify when the main chain is inconsistent.
var ErrBrokenChain = errors.New("main chain is broken")

// Best prints the best block and the total difficulty.
func Best(w io.Writer, store *blockstore.Store) error {
	best, err := store.GetBestBlock()
	if err != nil {
		return err
	}

	td, err := store.GetTotalDifficulty()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Best: %s\n", best.ShortDescr())
	fmt.Fprintf(w, "Hash: %s\n", best.HashHex())
	fmt.Fprintf(w, "TotalDifficulty: %s\n", td)

	return nil
}

// Blocks prints every block the store knows at each height of the range,
// marking the main chain one.
func Blocks(w io.Writer, store *blockstore.Store, from uint64, to uint64) error {
	for number := from; number <= to && int64(number) <= store.GetMaxNumber(); number++ {
		infos, err := store.GetBlockInfos(number)
		if err != nil {
			return fmt.Errorf("height %d: %w", number, err)
		}

		for _, info := range infos {
			mark := " "
			if info.MainChain {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %d %x td[%s]\n", mark, number, info.Hash, info.CumulativeDifficulty)
		}
	}

	return nil
}

// Verify walks the main chain checking that every block is stored, links to
// the previous one and adds difficulty.
func Verify(w io.Writer, store *blockstore.Store) error {
	maxNumber := store.GetMaxNumber()
	if maxNumber < 0 {
		return fmt.Errorf("%w: no genesis block", ErrBrokenChain)
	}

	prev, err := store.GetChainBlockByNumber(0)
	if err != nil {
		return fmt.Errorf("%w: genesis: %v", ErrBrokenChain, err)
	}
	prevTD, err := store.GetTotalDifficultyForHash(prev.Hash())
	if err != nil {
		return fmt.Errorf("%w: genesis: %v", ErrBrokenChain, err)
	}

	for number := uint64(1); int64(number) <= maxNumber; number++ {
		block, err := store.GetChainBlockByNumber(number)
		if err != nil {
			return fmt.Errorf("%w: height %d: %v", ErrBrokenChain, number, err)
		}

		if !bytes.Equal(block.Header.PreviousHeaderHash, prev.Hash()) {
			return fmt.Errorf("%w: height %d: parent mismatch", ErrBrokenChain, number)
		}

		td, err := store.GetTotalDifficultyForHash(block.Hash())
		if err != nil {
			return fmt.Errorf("%w: height %d: %v", ErrBrokenChain, number, err)
		}
		if td.Cmp(prevTD) <= 0 {
			return fmt.Errorf("%w: height %d: difficulty does not grow", ErrBrokenChain, number)
		}

		prev, prevTD = block, td
	}

	fmt.Fprintf(w, "Verified %d blocks, best %s\n", maxNumber+1, prev.ShortDescr())

	return nil
}

// Prune removes the blocks off the main chain at the height.
func Prune(w io.Writer, store *blockstore.Store, number uint64) error {
	if err := store.DelNonChainBlocksByNumber(number); err != nil {
		return err
	}

	fmt.Fprintf(w, "Pruned non chain blocks at height %d\n", number)

	return nil
}

// Drop removes the side branch ending with the block down to the main chain.
func Drop(w io.Writer, store *blockstore.Store, hash string) error {
	h, err := hexutil.Decode(hash)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}

	if err := store.DelNonChainBlocksEndWith(h); err != nil {
		return err
	}

	fmt.Fprintf(w, "Dropped the branch ending with %s\n", hash)

	return nil
}
