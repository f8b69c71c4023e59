package state_test

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/genesis"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/pot"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	aliceHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	bobHexKey   = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"

	genesisTime = 1546300800
)

type node struct {
	st    *state.State
	bus   *listener.Bus
	alice *ecdsa.PrivateKey
	bob   *ecdsa.PrivateKey
}

func keys(t *testing.T) (*ecdsa.PrivateKey, *ecdsa.PrivateKey) {
	alice, err := crypto.HexToECDSA(aliceHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load alice's key: %v", failed, err)
	}
	bob, err := crypto.HexToECDSA(bobHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load bob's key: %v", failed, err)
	}
	return alice, bob
}

func testGenesis(alice *ecdsa.PrivateKey, bob *ecdsa.PrivateKey) genesis.Genesis {
	return genesis.Genesis{
		ChainID:             1,
		Version:             database.BlockVersion,
		TimeStamp:           genesisTime,
		GeneratorPublicKey:  hexutil.Encode(signature.PublicKeyBytes(alice)),
		Option:              database.BlockOption,
		GenerationSignature: hexutil.Encode(signature.Sha256([]byte("test genesis"))),
		BaseTarget:          hexutil.EncodeBig(pot.InitialBaseTarget),
		Balances: map[string]string{
			crypto.PubkeyToAddress(alice.PublicKey).Hex(): "10000",
			crypto.PubkeyToAddress(bob.PublicKey).Hex():   "10000",
		},
	}
}

func newNode(t *testing.T, mutableRange uint64) node {
	return newNodeOn(t, mutableRange, storage.NewMemory())
}

func newNodeOn(t *testing.T, mutableRange uint64, kv storage.KVStore) node {
	alice, bob := keys(t)
	g := testGenesis(alice, bob)

	block, err := g.ToBlock()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to build the genesis block: %v", failed, err)
	}

	bus := listener.New()

	st, err := state.New(state.Config{
		Host:         "localhost:9080",
		Storage:      kv,
		Genesis:      g,
		GenesisHash:  strings.TrimPrefix(block.HashHex(), "0x"),
		MutableRange: mutableRange,
		Bus:          bus,
		Now:          func() int64 { return genesisTime + 100_000 },
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return node{st: st, bus: bus, alice: alice, bob: bob}
}

// forge builds a block the key is allowed to produce on top of parent given
// the forging power it has on that branch.
func forge(t *testing.T, st *state.State, key *ecdsa.PrivateKey, power int64, parent *database.Block, txs ...*database.Transaction) *database.Block {
	bt, err := st.NextBaseTarget(parent)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to compute the base target: %v", failed, err)
	}

	genSig := pot.NextGenerationSignature(parent.GenerationSignature, signature.PublicKeyBytes(key))
	interval := pot.ForgingTimeInterval(pot.RandomHit(genSig), bt, big.NewInt(power))

	block, err := st.CreateNewBlock(key, parent, txs, parent.Header.TimeStamp+interval)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create a block: %v", failed, err)
	}
	return block
}

func transfer(t *testing.T, from *ecdsa.PrivateKey, to *ecdsa.PrivateKey, amount int64, fee int64, ts int64) *database.Transaction {
	tx, err := database.NewTransaction(crypto.PubkeyToAddress(to.PublicKey), big.NewInt(amount), big.NewInt(fee))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to create a transaction: %v", failed, err)
	}
	tx.TimeStamp = ts

	if err := tx.Sign(from); err != nil {
		t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
	}
	return tx
}

func genesisBlock(t *testing.T, st *state.State) *database.Block {
	g, err := st.GenesisBlock()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the genesis block: %v", failed, err)
	}
	return g
}

func connect(t *testing.T, testID int, st *state.State, block *database.Block, exp state.ImportResult) {
	if got := st.TryToConnect(block, true); got != exp {
		t.Fatalf("\t%s\tTest %d:\tShould import blk[%d] as %s, got %s.", failed, testID, block.Number, exp, got)
	}
	t.Logf("\t%s\tTest %d:\tShould import blk[%d] as %s.", success, testID, block.Number, exp)
}

// =============================================================================

func Test_Extend(t *testing.T) {
	t.Log("Given the need to extend the main chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen alice forges a block with her own transfer.", testID)
		{
			n := newNode(t, 0)
			aliceAddr := crypto.PubkeyToAddress(n.alice.PublicKey)
			bobAddr := crypto.PubkeyToAddress(n.bob.PublicKey)

			g := genesisBlock(t, n.st)
			if p := n.st.ForgePower(aliceAddr); p.Int64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould give premined accounts a forge power of one, got %s.", failed, testID, p)
			}

			tx := transfer(t, n.alice, n.bob, 100, 8, genesisTime)
			b1 := forge(t, n.st, n.alice, 1, g, tx)

			connect(t, testID, n.st, b1, state.ImportedBest)
			connect(t, testID, n.st, b1, state.Exist)

			if !n.st.BestBlock().IsEqual(b1) {
				t.Fatalf("\t%s\tTest %d:\tShould make the block the best block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould make the block the best block.", success, testID)

			if n.st.TotalDifficulty().Cmp(g.CumulativeDifficulty) <= 0 {
				t.Fatalf("\t%s\tTest %d:\tShould grow the cumulative difficulty.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould grow the cumulative difficulty.", success, testID)

			// The receive share of the fee is taken out of circulation, the
			// other three shares go back to alice as the forger.
			if bal := n.st.Balance(aliceAddr); bal.Int64() != 9898 {
				t.Fatalf("\t%s\tTest %d:\tShould debit alice 102, got balance %s.", failed, testID, bal)
			}
			if bal := n.st.Balance(bobAddr); bal.Int64() != 10100 {
				t.Fatalf("\t%s\tTest %d:\tShould credit bob 100, got balance %s.", failed, testID, bal)
			}
			t.Logf("\t%s\tTest %d:\tShould move the exact amounts.", success, testID)

			if p := n.st.ForgePower(aliceAddr); p.Int64() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould increase alice's forge power, got %s.", failed, testID, p)
			}
			t.Logf("\t%s\tTest %d:\tShould increase alice's forge power.", success, testID)

			acc, err := n.st.QueryAccount(bobAddr)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould find bob's account: %v", failed, testID, err)
			}
			if wit, ok := acc.Witness(); !ok || wit != aliceAddr {
				t.Fatalf("\t%s\tTest %d:\tShould make the forger bob's witness.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould make the forger bob's witness.", success, testID)

			// A sibling with the same cumulative difficulty is only stored.
			connect(t, testID, n.st, forge(t, n.st, n.bob, 1, g), state.ImportedNotBest)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a block does not link to a known block.", testID)
		{
			n := newNode(t, 0)

			orphan := database.Block{
				Header: database.BlockHeader{
					Version:            database.BlockVersion,
					TimeStamp:          genesisTime + 10,
					PreviousHeaderHash: bytes.Repeat([]byte{1}, 20),
				},
				Option: database.BlockOption,
			}
			if err := orphan.Sign(n.alice); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign the block: %v", failed, testID, err)
			}

			connect(t, testID, n.st, &orphan, state.NoParent)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a block claims a time it could not have been forged at.", testID)
		{
			n := newNode(t, 0)
			g := genesisBlock(t, n.st)

			b1 := forge(t, n.st, n.alice, 1, g)
			early, err := n.st.CreateNewBlock(n.alice, g, nil, b1.Header.TimeStamp-1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the block: %v", failed, testID, err)
			}

			// One second short of the forging interval.
			connect(t, testID, n.st, early, state.InvalidBlock)
			connect(t, testID, n.st, b1, state.ImportedBest)
		}
	}
}

func Test_Reorganize(t *testing.T) {
	t.Log("Given the need to switch to a branch with more cumulative difficulty.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a two block branch overtakes a one block chain.", testID)
		{
			n := newNode(t, 0)
			aliceAddr := crypto.PubkeyToAddress(n.alice.PublicKey)

			g := genesisBlock(t, n.st)

			tx := transfer(t, n.alice, n.bob, 100, 8, genesisTime)
			b1 := forge(t, n.st, n.alice, 1, g, tx)
			connect(t, testID, n.st, b1, state.ImportedBest)

			f1 := forge(t, n.st, n.bob, 1, g)
			f2 := forge(t, n.st, n.alice, 1, f1)

			events := n.bus.Subscribe("test")
			defer n.bus.Unsubscribe("test")

			connect(t, testID, n.st, f1, state.ImportedNotBest)
			connect(t, testID, n.st, f2, state.ImportedBest)

			if !n.st.BestBlock().IsEqual(f2) {
				t.Fatalf("\t%s\tTest %d:\tShould make the branch tip the best block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould make the branch tip the best block.", success, testID)

			chain1, err := n.st.ChainBlockByNumber(1)
			if err != nil || !chain1.IsEqual(f1) {
				t.Fatalf("\t%s\tTest %d:\tShould move height 1 to the branch: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould move height 1 to the branch.", success, testID)

			if bal := n.st.Balance(aliceAddr); bal.Int64() != 10000 {
				t.Fatalf("\t%s\tTest %d:\tShould undo alice's transfer, got balance %s.", failed, testID, bal)
			}
			if p := n.st.ForgePower(aliceAddr); p.Int64() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould undo alice's forge power, got %s.", failed, testID, p)
			}
			t.Logf("\t%s\tTest %d:\tShould undo the old main chain.", success, testID)

			exp := []listener.Kind{listener.BlockDisconnected, listener.BlockConnected, listener.BlockConnected, listener.Block}
			expBlocks := []*database.Block{b1, f1, f2, f2}
			for i := range exp {
				select {
				case ev := <-events:
					if ev.Kind != exp[i] || !ev.Block.IsEqual(expBlocks[i]) {
						t.Fatalf("\t%s\tTest %d:\tShould publish %s for blk[%d], got %s for blk[%d].", failed, testID, exp[i], expBlocks[i].Number, ev.Kind, ev.Block.Number)
					}
				default:
					t.Fatalf("\t%s\tTest %d:\tShould publish %s.", failed, testID, exp[i])
				}
			}
			t.Logf("\t%s\tTest %d:\tShould publish the events in order.", success, testID)

			// A node that only ever saw the branch must hold the same accounts.
			fresh := newNode(t, 0)
			connect(t, testID, fresh.st, f1, state.ImportedBest)
			connect(t, testID, fresh.st, f2, state.ImportedBest)

			if err := sameAccounts(n.st, fresh.st); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould hold the accounts of the branch only: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould hold the accounts of the branch only.", success, testID)

			// The transfer is valid again on top of the new branch.
			f3 := forge(t, n.st, n.alice, 1, f2, tx)
			connect(t, testID, n.st, f3, state.ImportedBest)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the branch would undo more than the mutable range.", testID)
		{
			n := newNode(t, 1)

			g := genesisBlock(t, n.st)
			b1 := forge(t, n.st, n.alice, 1, g)
			connect(t, testID, n.st, b1, state.ImportedBest)
			b2 := forge(t, n.st, n.alice, 1, b1)
			connect(t, testID, n.st, b2, state.ImportedBest)

			f1 := forge(t, n.st, n.bob, 1, g)
			connect(t, testID, n.st, f1, state.ImportedNotBest)
			f2 := forge(t, n.st, n.bob, 1, f1)
			connect(t, testID, n.st, f2, state.ImportedNotBest)
			f3 := forge(t, n.st, n.bob, 1, f2)
			connect(t, testID, n.st, f3, state.ImmutableBranch)

			if !n.st.BestBlock().IsEqual(b2) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the best block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the best block.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a block in the middle of the branch overspends.", testID)
		{
			n := newNode(t, 0)

			g := genesisBlock(t, n.st)
			b1 := forge(t, n.st, n.alice, 1, g)
			connect(t, testID, n.st, b1, state.ImportedBest)
			b2 := forge(t, n.st, n.alice, 1, b1)
			connect(t, testID, n.st, b2, state.ImportedBest)

			before, err := n.st.DumpAccounts()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to dump the accounts: %v", failed, testID, err)
			}

			overspend := transfer(t, n.bob, n.alice, 20000, 8, genesisTime)

			f1 := forge(t, n.st, n.bob, 1, g)
			connect(t, testID, n.st, f1, state.ImportedNotBest)
			f2 := forge(t, n.st, n.bob, 1, f1, overspend)
			connect(t, testID, n.st, f2, state.ImportedNotBest)
			f3 := forge(t, n.st, n.bob, 1, f2)
			connect(t, testID, n.st, f3, state.InvalidBlock)

			if !n.st.BestBlock().IsEqual(b2) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the best block.", failed, testID)
			}
			for number, exp := range map[uint64]*database.Block{1: b1, 2: b2} {
				got, err := n.st.ChainBlockByNumber(number)
				if err != nil || !got.IsEqual(exp) {
					t.Fatalf("\t%s\tTest %d:\tShould keep blk[%d] on the main chain: %v", failed, testID, number, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould keep the main chain.", success, testID)

			after, err := n.st.DumpAccounts()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to dump the accounts: %v", failed, testID, err)
			}
			if len(after) != len(before) {
				t.Fatalf("\t%s\tTest %d:\tShould keep %d accounts, got %d.", failed, testID, len(before), len(after))
			}
			for addr, enc := range before {
				if !bytes.Equal(enc, after[addr]) {
					t.Fatalf("\t%s\tTest %d:\tShould leave account %s untouched.", failed, testID, addr)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould leave every account untouched.", success, testID)

			b3 := forge(t, n.st, n.alice, 1, b2)
			connect(t, testID, n.st, b3, state.ImportedBest)
		}

		testID = 3
		t.Logf("\tTest %d:\tWhen the branch lost a block to pruning.", testID)
		{
			n := newNode(t, 2)

			g := genesisBlock(t, n.st)
			b1 := forge(t, n.st, n.alice, 1, g)
			connect(t, testID, n.st, b1, state.ImportedBest)
			b2 := forge(t, n.st, n.alice, 1, b1)
			connect(t, testID, n.st, b2, state.ImportedBest)

			f1 := forge(t, n.st, n.bob, 1, g)
			connect(t, testID, n.st, f1, state.ImportedNotBest)
			f2 := forge(t, n.st, n.bob, 1, f1)
			connect(t, testID, n.st, f2, state.ImportedNotBest)

			// Height 1 leaves the mutable range and its side blocks go.
			b3 := forge(t, n.st, n.alice, 1, b2)
			connect(t, testID, n.st, b3, state.ImportedBest)

			if n.st.IsBlockExist(f1.Hash()) || !n.st.IsBlockExist(f2.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould prune only the side block below the mutable range.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould prune only the side block below the mutable range.", success, testID)

			result := state.ImportedNotBest
			parent := f2
			for i := 0; i < 6 && result == state.ImportedNotBest; i++ {
				next := forge(t, n.st, n.bob, 1, parent)
				result = n.st.TryToConnect(next, true)
				parent = next
			}

			if result != state.DiscontinuousBranch {
				t.Fatalf("\t%s\tTest %d:\tShould report a discontinuous branch, got %s.", failed, testID, result)
			}
			if !n.st.BestBlock().IsEqual(b3) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the best block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould report a discontinuous branch and keep the best block.", success, testID)
		}
	}
}

// failingStore refuses to write undo records while fail is set.
type failingStore struct {
	*storage.Memory
	fail atomic.Bool
}

func (fs *failingStore) Put(key []byte, value []byte) error {
	if fs.fail.Load() && bytes.HasPrefix(key, []byte("undo/")) {
		return errors.New("disk full")
	}
	return fs.Memory.Put(key, value)
}

func Test_StoreFailure(t *testing.T) {
	t.Log("Given the need to keep the accounts and the blocks in step.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the best block can not be stored.", testID)
		{
			kv := failingStore{Memory: storage.NewMemory()}
			n := newNodeOn(t, 0, &kv)
			aliceAddr := crypto.PubkeyToAddress(n.alice.PublicKey)

			g := genesisBlock(t, n.st)
			tx := transfer(t, n.alice, n.bob, 100, 8, genesisTime)
			b1 := forge(t, n.st, n.alice, 1, g, tx)

			kv.fail.Store(true)
			connect(t, testID, n.st, b1, state.InvalidBlock)

			if !n.st.BestBlock().IsEqual(g) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the genesis block as the best block.", failed, testID)
			}
			if bal := n.st.Balance(aliceAddr); bal.Int64() != 10000 {
				t.Fatalf("\t%s\tTest %d:\tShould not apply the transfer, got balance %s.", failed, testID, bal)
			}
			if n.st.IsBlockExist(b1.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould not store the block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the state untouched.", success, testID)

			kv.fail.Store(false)
			connect(t, testID, n.st, b1, state.ImportedBest)

			if bal := n.st.Balance(aliceAddr); bal.Int64() != 9898 {
				t.Fatalf("\t%s\tTest %d:\tShould apply the transfer once, got balance %s.", failed, testID, bal)
			}
			t.Logf("\t%s\tTest %d:\tShould apply the transfer once.", success, testID)
		}
	}
}

func Test_GenesisHash(t *testing.T) {
	t.Log("Given the need to only start from the well known genesis block.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the genesis file does not produce the configured hash.", testID)
		{
			alice, bob := keys(t)

			_, err := state.New(state.Config{
				Storage: storage.NewMemory(),
				Genesis: testGenesis(alice, bob),
			})
			if !errors.Is(err, state.ErrGenesisHash) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to start: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to start.", success, testID)
		}
	}
}

func Test_NextForgeInfo(t *testing.T) {
	t.Log("Given the need to know when an account may forge.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen checking the accounts of a fresh chain.", testID)
		{
			n := newNode(t, 0)

			info, err := n.st.NextForgeInfo(signature.PublicKeyBytes(n.alice))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould let a premined account forge: %v", failed, testID, err)
			}
			if info.Interval < 1 || !info.Parent.IsGenesis() {
				t.Fatalf("\t%s\tTest %d:\tShould wait at least a second after the genesis block, got %d.", failed, testID, info.Interval)
			}
			t.Logf("\t%s\tTest %d:\tShould let a premined account forge.", success, testID)

			stranger, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a key: %v", failed, testID, err)
			}
			if _, err := n.st.NextForgeInfo(signature.PublicKeyBytes(stranger)); !errors.Is(err, state.ErrNoForgePower) {
				t.Fatalf("\t%s\tTest %d:\tShould not let an unknown account forge: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not let an unknown account forge.", success, testID)
		}
	}
}

// =============================================================================

func sameAccounts(a *state.State, b *state.State) error {
	da, err := a.DumpAccounts()
	if err != nil {
		return err
	}
	db, err := b.DumpAccounts()
	if err != nil {
		return err
	}

	if len(da) != len(db) {
		return errors.New("account count differs")
	}
	for addr, enc := range da {
		if !bytes.Equal(enc, db[addr]) {
			return errors.New("account " + addr.Hex() + " differs")
		}
	}
	return nil
}
