package database_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
	to       = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
)

// =============================================================================

func Test_TransactionRoundTrip(t *testing.T) {
	t.Log("Given the need to move transactions over the wire.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a signed transaction.", testID)
		{
			tx := signedTx(t, to, 100, 10)

			if err := tx.Verify(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to verify the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to verify the transaction.", success, testID)

			got, err := database.DecodeTransaction(tx.Encode())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to decode the transaction.", success, testID)

			if err := got.Verify(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to verify the decoded transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to verify the decoded transaction.", success, testID)

			if !bytes.Equal(tx.Hash(), got.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the same hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the same hash.", success, testID)

			sender, err := got.Sender()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to recover the sender: %v", failed, testID, err)
			}
			if sender != common.HexToAddress(from) {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, sender)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, from)
				t.Fatalf("\t%s\tTest %d:\tShould recover the signing account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould recover the signing account.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling a tampered transaction.", testID)
		{
			tx := signedTx(t, to, 100, 10)
			tx.Amount = big.NewInt(1_000_000)

			sender, err := tx.Sender()
			if err == nil && sender == common.HexToAddress(from) {
				t.Fatalf("\t%s\tTest %d:\tShould not recover the signing account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not recover the signing account.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling a bad receiver address.", testID)
		{
			tx := signedTx(t, to, 100, 10)
			tx.ToAddress = []byte{1, 2, 3}

			if err := tx.Validate(); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject an address that is not 20 bytes.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an address that is not 20 bytes.", success, testID)
		}
	}
}

func Test_CheckTime(t *testing.T) {
	type table struct {
		name string
		now  int64
		exp  bool
	}

	const ts = 1_000_000
	const expire = 600

	tt := []table{
		{name: "fresh", now: ts + 1, exp: true},
		{name: "boundary", now: ts + expire, exp: true},
		{name: "expired", now: ts + expire + 1, exp: false},
	}

	t.Log("Given the need to expire old transactions.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				tx := database.Transaction{TimeStamp: ts, ExpireTime: expire}

				if got := tx.CheckTime(tst.now); got != tst.exp {
					t.Fatalf("\t%s\tTest %d:\tShould get %v for now %d, got %v.", failed, testID, tst.exp, tst.now, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get %v for now %d.", success, testID, tst.exp, tst.now)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_CheckBlockTime(t *testing.T) {
	type table struct {
		name      string
		expire    int64
		blockTime int64
		exp       bool
	}

	const ts = 1_000_000

	tt := []table{
		{name: "inside", expire: 600, blockTime: ts + 300, exp: true},
		{name: "drift", expire: 600, blockTime: ts - database.MaxTimeDrift, exp: true},
		{name: "too-early", expire: 600, blockTime: ts - database.MaxTimeDrift - 1, exp: false},
		{name: "expired", expire: 600, blockTime: ts + 601, exp: false},
		{name: "expire-too-long", expire: database.TxMaxExpireTime + 1, blockTime: ts, exp: false},
	}

	t.Log("Given the need to check transaction time against the block.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				tx := database.Transaction{TimeStamp: ts, ExpireTime: tst.expire}

				if got := tx.CheckBlockTime(tst.blockTime); got != tst.exp {
					t.Fatalf("\t%s\tTest %d:\tShould get %v, got %v.", failed, testID, tst.exp, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get %v.", success, testID, tst.exp)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Block(t *testing.T) {
	t.Log("Given the need to sign and share blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a signed block.", testID)
		{
			pk, err := crypto.HexToECDSA(pkHexKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to load the key: %v", failed, testID, err)
			}

			parent := database.Block{
				Header: database.BlockHeader{Version: database.BlockVersion, TimeStamp: 1_000},
				Option: database.BlockOption,
			}

			b := database.Block{
				Header: database.BlockHeader{
					Version:            database.BlockVersion,
					TimeStamp:          1_300,
					PreviousHeaderHash: parent.Hash(),
				},
				Number:               1,
				BaseTarget:           big.NewInt(100),
				CumulativeDifficulty: big.NewInt(200),
				Option:               database.BlockOption,
				Transactions:         []*database.Transaction{signedTx(t, to, 5, 1)},
			}

			if err := b.Sign(pk); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to sign the block.", success, testID)

			if err := b.ValidateSimple(&parent, 1_300, func(string, ...any) {}); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould pass simple validation: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould pass simple validation.", success, testID)

			msg, err := database.DecodeBlockMsg(b.EncodeMsg())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the message: %v", failed, testID, err)
			}
			if !msg.IsEqual(&b) || !msg.VerifySignature() {
				t.Fatalf("\t%s\tTest %d:\tShould keep hash and signature over the wire.", failed, testID)
			}
			if msg.Number != 0 || msg.BaseTarget != nil {
				t.Fatalf("\t%s\tTest %d:\tShould not carry locally computed fields.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep hash and signature over the wire.", success, testID)

			full, err := database.DecodeBlock(b.EncodeFull())
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the full block: %v", failed, testID, err)
			}
			if full.Number != 1 || full.CumulativeDifficulty.Cmp(big.NewInt(200)) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the locally computed fields on disk.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the locally computed fields on disk.", success, testID)

			forger, err := full.ForgerAddress()
			if err != nil || forger != common.HexToAddress(from) {
				t.Fatalf("\t%s\tTest %d:\tShould derive the forger account: %s %v", failed, testID, forger, err)
			}
			t.Logf("\t%s\tTest %d:\tShould derive the forger account.", success, testID)

			late := parent
			late.Header.TimeStamp = 1_400
			if err := b.ValidateSimple(&late, 1_300, func(string, ...any) {}); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block that does not link to the parent.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block that does not link to the parent.", success, testID)
		}
	}
}

func Test_Track(t *testing.T) {
	t.Log("Given the need to change accounts on a disposable snapshot.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen committing and rolling back changes.", testID)
		{
			alice := common.HexToAddress(from)
			bob := common.HexToAddress(to)

			repo := database.NewRepo(storage.NewMemory())
			repo.AddBalance(alice, big.NewInt(1000))
			repo.IncreaseForgePower(alice)
			if err := repo.Flush(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
			}

			before, err := repo.Dump()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to dump: %v", failed, testID, err)
			}

			track := repo.StartTracking()
			track.AddBalance(alice, big.NewInt(-300))
			track.AddBalance(bob, big.NewInt(300))

			nested := track.StartTracking()
			nested.IncreaseForgePower(bob)
			nested.Rollback()

			if repo.Balance(bob).Sign() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not leak track changes before commit.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not leak track changes before commit.", success, testID)

			if track.ForgePower(bob).Sign() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould discard the nested track.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould discard the nested track.", success, testID)

			track.Rollback()

			after, err := repo.Dump()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to dump: %v", failed, testID, err)
			}
			if !sameDump(before, after) {
				t.Fatalf("\t%s\tTest %d:\tShould leave the repository untouched after rollback.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the repository untouched after rollback.", success, testID)

			track = repo.StartTracking()
			track.AddBalance(alice, big.NewInt(-300))
			track.AddBalance(bob, big.NewInt(300))
			track.Commit()
			if err := repo.Flush(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to flush: %v", failed, testID, err)
			}

			if repo.Balance(alice).Int64() != 700 || repo.Balance(bob).Int64() != 300 {
				t.Fatalf("\t%s\tTest %d:\tShould commit exact balances, got %s %s.", failed, testID, repo.Balance(alice), repo.Balance(bob))
			}
			t.Logf("\t%s\tTest %d:\tShould commit exact balances.", success, testID)

			track = repo.StartTracking()
			track.Delete(bob)
			track.Commit()
			if repo.IsExist(bob) {
				t.Fatalf("\t%s\tTest %d:\tShould delete the account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould delete the account.", success, testID)
		}
	}
}

func Test_AccountHistory(t *testing.T) {
	t.Log("Given the need to remember sent transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen pruning history.", testID)
		{
			as := database.NewAccountState()
			as.AddHistory(10, []byte{1})
			as.AddHistory(20, []byte{2})
			as.AddHistory(30, []byte{3})

			pruned := as.PruneHistory(25)
			if len(pruned) != 2 || pruned[0].Time != 10 || pruned[1].Time != 20 {
				t.Fatalf("\t%s\tTest %d:\tShould prune the oldest entries in order: %v", failed, testID, pruned)
			}
			t.Logf("\t%s\tTest %d:\tShould prune the oldest entries in order.", success, testID)

			if !as.HasHistory(30) || as.HasHistory(10) {
				t.Fatalf("\t%s\tTest %d:\tShould keep only the newer entries.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep only the newer entries.", success, testID)

			data, err := as.Encode()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to encode the account: %v", failed, testID, err)
			}
			got, err := database.DecodeAccountState(data)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the account: %v", failed, testID, err)
			}
			if !got.Equal(as) {
				t.Fatalf("\t%s\tTest %d:\tShould decode the same account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould decode the same account.", success, testID)
		}
	}
}

// =============================================================================

func signedTx(t *testing.T, toHex string, amount int64, fee int64) *database.Transaction {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the key: %v", err)
	}

	tx, err := database.NewTransaction(common.HexToAddress(toHex), big.NewInt(amount), big.NewInt(fee))
	if err != nil {
		t.Fatalf("Should be able to construct the transaction: %v", err)
	}

	if err := tx.Sign(pk); err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}

	return tx
}

func sameDump(a, b map[common.Address][]byte) bool {
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
