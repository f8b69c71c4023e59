package commands_test

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/app/tooling/admin/commands"
	"github.com/taucoin/blockchain/foundation/blockchain/blockstore"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func newBlock(parent *database.Block, number uint64, ts int64) *database.Block {
	b := database.Block{
		Header: database.BlockHeader{
			Version:   database.BlockVersion,
			TimeStamp: ts,
		},
		Number:     number,
		BaseTarget: big.NewInt(1),
		Option:     database.BlockOption,
	}
	if parent != nil {
		b.Header.PreviousHeaderHash = parent.Hash()
	}
	return &b
}

func newStore(t *testing.T) (*blockstore.Store, *database.Block, *database.Block) {
	store, err := blockstore.New(storage.NewMemory(), false, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the store: %v", failed, err)
	}

	g := newBlock(nil, 0, 1000)
	b1 := newBlock(g, 1, 1300)
	b2 := newBlock(b1, 2, 1600)
	fork := newBlock(b1, 2, 1650)

	for _, s := range []struct {
		b    *database.Block
		td   int64
		main bool
	}{{g, 0, true}, {b1, 10, true}, {b2, 20, true}, {fork, 15, false}} {
		if err := store.SaveBlock(s.b, big.NewInt(s.td), s.main); err != nil {
			t.Fatalf("\t%s\tShould be able to save block %d: %v", failed, s.b.Number, err)
		}
	}

	return store, b2, fork
}

// =============================================================================

func Test_Chain(t *testing.T) {
	t.Log("Given the need to inspect the stored chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the chain is consistent.", testID)
		{
			store, b2, fork := newStore(t)

			var out bytes.Buffer
			if err := commands.Best(&out, store); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould print the best block: %v", failed, testID, err)
			}
			if !strings.Contains(out.String(), "TotalDifficulty: 20") {
				t.Fatalf("\t%s\tTest %d:\tShould print the total difficulty, got %q.", failed, testID, out.String())
			}
			t.Logf("\t%s\tTest %d:\tShould print the best block.", success, testID)

			out.Reset()
			if err := commands.Blocks(&out, store, 0, 10); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould list the blocks: %v", failed, testID, err)
			}
			if lines := strings.Count(out.String(), "\n"); lines != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould list 4 blocks, got %d.", failed, testID, lines)
			}
			t.Logf("\t%s\tTest %d:\tShould list every stored block.", success, testID)

			out.Reset()
			if err := commands.Verify(&out, store); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould verify the chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould verify the chain.", success, testID)

			if err := commands.Prune(&out, store, 2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould prune the height: %v", failed, testID, err)
			}
			if store.IsBlockExist(fork.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould remove the fork block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove the fork block.", success, testID)

			side := newBlock(b2, 3, 1900)
			tip := newBlock(side, 4, 2200)
			store.SaveBlock(side, big.NewInt(25), false)
			store.SaveBlock(tip, big.NewInt(30), false)

			if err := commands.Drop(&out, store, tip.HashHex()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould drop the side branch: %v", failed, testID, err)
			}
			if store.IsBlockExist(side.Hash()) || store.IsBlockExist(tip.Hash()) || !store.IsBlockExist(b2.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould drop the branch down to the main chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the branch down to the main chain.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a main chain block does not link to its parent.", testID)
		{
			store, err := blockstore.New(storage.NewMemory(), false, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open the store: %v", failed, testID, err)
			}

			g := newBlock(nil, 0, 1000)
			orphan := newBlock(newBlock(nil, 0, 999), 1, 1300)
			store.SaveBlock(g, big.NewInt(0), true)
			store.SaveBlock(orphan, big.NewInt(10), true)

			var out bytes.Buffer
			if err := commands.Verify(&out, store); !errors.Is(err, commands.ErrBrokenChain) {
				t.Fatalf("\t%s\tTest %d:\tShould report a broken chain, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report a broken chain.", success, testID)
		}
	}
}

func Test_Accounts(t *testing.T) {
	t.Log("Given the need to inspect the account states.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen two accounts are stored.", testID)
		{
			repo := database.NewRepo(storage.NewMemory())

			a := common.HexToAddress("0xdd6b972ffcc631a62cae1bb9d80b7ff429c8eba4")
			b := common.HexToAddress("0xf01813e4b85e178a83e29b8e7bf26bd830a25f32")
			repo.AddBalance(a, big.NewInt(100))
			repo.AddBalance(b, big.NewInt(250))
			if err := repo.Flush(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
			}

			var out bytes.Buffer
			if err := commands.Accounts(&out, repo, ""); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould list the accounts: %v", failed, testID, err)
			}
			if !strings.Contains(out.String(), "Balance: 100") || !strings.Contains(out.String(), "Balance: 250") {
				t.Fatalf("\t%s\tTest %d:\tShould print both balances, got %q.", failed, testID, out.String())
			}
			t.Logf("\t%s\tTest %d:\tShould list the accounts.", success, testID)

			out.Reset()
			if err := commands.Accounts(&out, repo, b.Hex()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould print one account: %v", failed, testID, err)
			}
			if strings.Contains(out.String(), "Balance: 100") {
				t.Fatalf("\t%s\tTest %d:\tShould print only the requested account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould print one account.", success, testID)

			if err := commands.Accounts(&out, repo, "0x0000000000000000000000000000000000000001"); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail on an unknown account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fail on an unknown account.", success, testID)
		}
	}
}
