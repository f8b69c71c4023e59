package executor_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/executor"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

var (
	alice  = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob    = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	forger = common.HexToAddress("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
	wit    = common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
	assoc1 = common.HexToAddress("0x6Fe6CF3c8fF57c58d24BfC869668F48BCbDb3BD9")
	assoc2 = common.HexToAddress("0xa988b1866EaBF72B4c53b592c97aAD8e4b9bDCC0")
)

// =============================================================================

func Test_DistributeFee(t *testing.T) {
	type table struct {
		name       string
		fee        int64
		receive    int64
		lastWit    int64
		currentWit int64
		lastAssoc  int64
	}

	tt := []table{
		{name: "even", fee: 8, receive: 2, lastWit: 2, currentWit: 2, lastAssoc: 2},
		{name: "remainder", fee: 7, receive: 1, lastWit: 1, currentWit: 4, lastAssoc: 1},
		{name: "minimum", fee: 1, receive: 0, lastWit: 0, currentWit: 1, lastAssoc: 0},
	}

	t.Log("Given the need to split a fee over the stake holders.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				fd, err := executor.DistributeFee(big.NewInt(tst.fee))
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to distribute the fee: %v", failed, testID, err)
				}

				got := []int64{fd.Receive.Int64(), fd.LastWit.Int64(), fd.CurrentWit.Int64(), fd.LastAssoc.Int64()}
				exp := []int64{tst.receive, tst.lastWit, tst.currentWit, tst.lastAssoc}
				for i := range got {
					if got[i] != exp[i] {
						t.Logf("\t%s\tTest %d:\tgot: %v", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %v", failed, testID, exp)
						t.Fatalf("\t%s\tTest %d:\tShould give the remainder to the forger.", failed, testID)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould give the remainder to the forger.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_DistributeAssociatedFee(t *testing.T) {
	t.Log("Given the need to split a fee over the associated addresses.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the fee does not divide evenly.", testID)
		{
			shares, err := executor.DistributeAssociatedFee(3, big.NewInt(7))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to distribute the fee: %v", failed, testID, err)
			}

			if shares[0].Int64() != 2 || shares[1].Int64() != 2 || shares[2].Int64() != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould give the remainder to the last associate: %v", failed, testID, shares)
			}
			t.Logf("\t%s\tTest %d:\tShould give the remainder to the last associate.", success, testID)

			if _, err := executor.DistributeAssociatedFee(0, big.NewInt(7)); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a split without associates.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a split without associates.", success, testID)
		}
	}
}

func Test_ExecuteUndo(t *testing.T) {
	type table struct {
		name       string
		identity   bool
		fee        int64
		forgerGain int64
		witGain    int64
		assocGain  []int64
	}

	tt := []table{
		{name: "no-identity", fee: 10, forgerGain: 8},
		{name: "identity", identity: true, fee: 11, forgerGain: 5, witGain: 2, assocGain: []int64{1, 1}},
	}

	t.Log("Given the need to apply and reverse a transaction.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				repo := database.NewRepo(storage.NewMemory())
				repo.AddBalance(alice, big.NewInt(1000))
				repo.IncreaseForgePower(alice)
				repo.AddBalance(forger, big.NewInt(50))
				repo.AddBalance(wit, big.NewInt(0))
				repo.AddBalance(assoc1, big.NewInt(0))
				repo.AddBalance(assoc2, big.NewInt(0))

				if tst.identity {
					as := repo.GetAccountState(alice)
					as.SetWitness(wit.Bytes())
					as.SetAssociates([]common.Address{assoc1, assoc2}, 7)
					repo.SetAccountState(alice, as)
				}

				if err := repo.Flush(); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
				}
				before := dump(t, repo)

				tx := signedTx(t, bob, 100, tst.fee)
				ex := executor.New(nil, 0)
				track := repo.StartTracking()

				if err := ex.Init(tx, track); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould pass init: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould pass init.", success, testID)

				out, undo, err := ex.Execute(tx, track, forger, []byte{1}, 9, tx.TimeStamp)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to execute: %v", failed, testID, err)
				}
				if err := ex.UpdateIdentity(tx, track, forger, 9, &undo); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to update identity: %v", failed, testID, err)
				}
				track.Commit()
				t.Logf("\t%s\tTest %d:\tShould be able to execute.", success, testID)

				exp := map[common.Address]int64{
					alice:  1000 - 100 - tst.fee,
					bob:    100,
					forger: 50 + tst.forgerGain,
					wit:    tst.witGain,
				}
				for i, a := range []common.Address{assoc1, assoc2} {
					var v int64
					if i < len(tst.assocGain) {
						v = tst.assocGain[i]
					}
					exp[a] = v
				}
				for addr, bal := range exp {
					if got := repo.Balance(addr).Int64(); got != bal {
						t.Fatalf("\t%s\tTest %d:\tShould pay %s exactly %d, got %d.", failed, testID, addr, bal, got)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould pay every party exactly.", success, testID)

				if got := out.CurrentWitness[forger].Int64(); got != tst.forgerGain {
					t.Fatalf("\t%s\tTest %d:\tShould report the forger earnings %d, got %d.", failed, testID, tst.forgerGain, got)
				}
				t.Logf("\t%s\tTest %d:\tShould report the forger earnings.", success, testID)

				if repo.ForgePower(alice).Int64() != 2 {
					t.Fatalf("\t%s\tTest %d:\tShould increase the sender forge power.", failed, testID)
				}
				if w, ok := repo.GetAccountState(bob).Witness(); !ok || w != forger {
					t.Fatalf("\t%s\tTest %d:\tShould make the forger the receiver witness.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould update the stake holder identity.", success, testID)

				// Duplicate protection.
				if err := ex.Init(tx, repo.StartTracking()); err == nil {
					t.Fatalf("\t%s\tTest %d:\tShould reject the same transaction twice.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould reject the same transaction twice.", success, testID)

				track = repo.StartTracking()
				if err := executor.RollbackIdentity(tx, track, undo); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to roll back identity: %v", failed, testID, err)
				}
				if err := ex.Undo(tx, track, undo); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to undo: %v", failed, testID, err)
				}
				track.Commit()
				if err := repo.Flush(); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
				}

				if !same(before, dump(t, repo)) {
					t.Fatalf("\t%s\tTest %d:\tShould restore the repository bit for bit.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould restore the repository bit for bit.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_InitNoBalance(t *testing.T) {
	t.Log("Given the need to reject transactions the sender cannot pay.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the balance does not cover amount plus fee.", testID)
		{
			repo := database.NewRepo(storage.NewMemory())
			repo.AddBalance(alice, big.NewInt(100))

			tx := signedTx(t, bob, 100, 1)
			err := executor.New(nil, 0).Init(tx, repo)
			if err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)

			if tx.Status() != database.StatusNoBalance {
				t.Fatalf("\t%s\tTest %d:\tShould set the status, got %q.", failed, testID, tx.Status())
			}
			t.Logf("\t%s\tTest %d:\tShould set the status.", success, testID)
		}
	}
}

func Test_FeeTerminate(t *testing.T) {
	t.Log("Given the need to stop splitting fees after the cut-over height.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block above the cut-over holds a transaction.", testID)
		{
			ex := executor.New(nil, 5)
			if !ex.FeeSplit(5) || ex.FeeSplit(6) {
				t.Fatalf("\t%s\tTest %d:\tShould split the fees up to the cut-over height only.", failed, testID)
			}
			if !executor.New(nil, 0).FeeSplit(1 << 62) {
				t.Fatalf("\t%s\tTest %d:\tShould never reach the default cut-over.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould split the fees up to the cut-over height only.", success, testID)

			repo := database.NewRepo(storage.NewMemory())
			repo.AddBalance(alice, big.NewInt(1000))
			repo.AddBalance(forger, big.NewInt(50))
			repo.AddBalance(wit, big.NewInt(0))
			repo.AddBalance(assoc1, big.NewInt(0))

			as := repo.GetAccountState(alice)
			as.SetWitness(wit.Bytes())
			as.SetAssociates([]common.Address{assoc1}, 4)
			repo.SetAccountState(alice, as)

			if err := repo.Flush(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
			}
			before := dump(t, repo)

			tx := signedTx(t, bob, 100, 11)
			track := repo.StartTracking()

			out, undo, err := ex.Execute(tx, track, forger, []byte{1}, 6, tx.TimeStamp)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to execute: %v", failed, testID, err)
			}
			if err := ex.UpdateIdentity(tx, track, forger, 6, &undo); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to update identity: %v", failed, testID, err)
			}
			track.Commit()

			exp := map[common.Address]int64{forger: 61, wit: 0, assoc1: 0}
			for addr, bal := range exp {
				if got := repo.Balance(addr).Int64(); got != bal {
					t.Fatalf("\t%s\tTest %d:\tShould pay %s exactly %d, got %d.", failed, testID, addr, bal, got)
				}
			}
			if got := out.CurrentWitness[forger].Int64(); got != 11 || len(out.LastWitness) != 0 || len(out.Associates) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould report the whole fee for the forger, got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould give the whole fee to the forger.", success, testID)

			acc := repo.GetAccountState(alice)
			if w, ok := acc.Witness(); !ok || w != wit || len(acc.Associates()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the witness and clear the associates.", failed, testID)
			}
			if _, ok := repo.GetAccountState(bob).Witness(); ok {
				t.Fatalf("\t%s\tTest %d:\tShould not give the receiver a witness.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould freeze the witnesses.", success, testID)

			track = repo.StartTracking()
			if err := executor.RollbackIdentity(tx, track, undo); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to roll back identity: %v", failed, testID, err)
			}
			if err := ex.Undo(tx, track, undo); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to undo: %v", failed, testID, err)
			}
			track.Commit()
			if err := repo.Flush(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
			}

			if !same(before, dump(t, repo)) {
				t.Fatalf("\t%s\tTest %d:\tShould restore the repository bit for bit.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould restore the repository bit for bit.", success, testID)
		}
	}
}

// =============================================================================

func signedTx(t *testing.T, to common.Address, amount int64, fee int64) *database.Transaction {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the key: %v", err)
	}

	tx, err := database.NewTransaction(to, big.NewInt(amount), big.NewInt(fee))
	if err != nil {
		t.Fatalf("Should be able to construct the transaction: %v", err)
	}

	if err := tx.Sign(pk); err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}

	return tx
}

func dump(t *testing.T, repo *database.Repo) map[common.Address][]byte {
	d, err := repo.Dump()
	if err != nil {
		t.Fatalf("Should be able to dump the repository: %v", err)
	}
	return d
}

func same(a, b map[common.Address][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !bytes.Equal(v, b[k]) {
			return false
		}
	}
	return true
}
