package mempool_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/database/storage"
	"github.com/taucoin/blockchain/foundation/blockchain/listener"
	"github.com/taucoin/blockchain/foundation/blockchain/mempool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	to       = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
)

type clock struct {
	now int64
}

func (c *clock) Now() int64 { return c.now }

func setup(t *testing.T, balance int64) (*mempool.Mempool, *database.Repo, *clock, common.Address) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the key: %v", err)
	}
	from := crypto.PubkeyToAddress(pk.PublicKey)

	repo := database.NewRepo(storage.NewMemory())
	repo.AddBalance(from, big.NewInt(balance))

	clk := clock{now: 1_000_000}
	mp, err := mempool.New(mempool.Config{
		Balances: repo,
		Now:      clk.Now,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the pool: %v", err)
	}

	return mp, repo, &clk, from
}

func signedTx(t *testing.T, ts int64, amount int64, fee int64) *database.Transaction {
	return signedTxExpire(t, ts, database.TxMaxExpireTime, amount, fee)
}

func signedTxExpire(t *testing.T, ts int64, expire int64, amount int64, fee int64) *database.Transaction {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to load the key: %v", err)
	}

	tx, err := database.NewTransaction(common.HexToAddress(to), big.NewInt(amount), big.NewInt(fee))
	if err != nil {
		t.Fatalf("Should be able to build the transaction: %v", err)
	}
	tx.TimeStamp = ts
	tx.ExpireTime = expire

	if err := tx.Sign(pk); err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}
	return tx
}

// =============================================================================

func Test_Overspend(t *testing.T) {
	t.Log("Given the need to stop a sender from spending the same coins twice.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a pending transaction reserves the whole balance.", testID)
		{
			mp, _, clk, from := setup(t, 100)

			first := signedTx(t, clk.now, 90, 10)
			if err := mp.AddPendingTransaction(first); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the first transaction: %v", failed, testID, err)
			}
			if mp.Reserved(from).Int64() != 100 {
				t.Fatalf("\t%s\tTest %d:\tShould reserve 100, got %s.", failed, testID, mp.Reserved(from))
			}
			t.Logf("\t%s\tTest %d:\tShould accept the first transaction.", success, testID)

			second := signedTx(t, clk.now+1, 1, 1)
			err := mp.AddPendingTransaction(second)
			if !errors.Is(err, mempool.ErrOverspend) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the second transaction, got %v.", failed, testID, err)
			}
			if second.Status() != database.StatusInsufficient {
				t.Fatalf("\t%s\tTest %d:\tShould set the status, got %q.", failed, testID, second.Status())
			}
			t.Logf("\t%s\tTest %d:\tShould reject the second transaction.", success, testID)

			if got := mp.AddWireTransactions([]*database.Transaction{signedTx(t, clk.now+2, 1, 1)}); len(got) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould reject the same overspend from the wire.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the same overspend from the wire.", success, testID)

			mp.ProcessBest(&database.Block{Number: 1, Transactions: []*database.Transaction{first}})
			if mp.Count() != 0 || mp.Reserved(from).Sign() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould release the reservation of included transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould release the reservation of included transactions.", success, testID)
		}
	}
}

func Test_Wire(t *testing.T) {
	t.Log("Given the need to accept transactions from peers.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the same transaction arrives twice.", testID)
		{
			clk := clock{now: 1_000_000}

			bus := listener.New()
			ch := bus.Subscribe("test")
			mp, err := mempool.New(mempool.Config{Balances: balances(1000), Bus: bus, Now: clk.Now})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the pool: %v", failed, testID, err)
			}

			tx := signedTx(t, clk.now, 10, 5)
			if got := mp.AddWireTransactions([]*database.Transaction{tx, tx}); len(got) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould accept the transaction once, got %d.", failed, testID, len(got))
			}
			if got := mp.AddWireTransactions([]*database.Transaction{tx}); len(got) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould skip a seen transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the transaction once.", success, testID)

			select {
			case ev := <-ch:
				if ev.Kind != listener.PendingTransactionsReceived || len(ev.Transactions) != 1 {
					t.Fatalf("\t%s\tTest %d:\tShould publish the accepted transactions.", failed, testID)
				}
			default:
				t.Fatalf("\t%s\tTest %d:\tShould publish the accepted transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould publish the accepted transactions.", success, testID)

			if err := mp.AddPendingTransaction(tx); !errors.Is(err, mempool.ErrDuplicate) {
				t.Fatalf("\t%s\tTest %d:\tShould keep the lists disjoint, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the lists disjoint.", success, testID)

			if len(mp.WireTransactions()) != 1 || len(mp.PendingTransactions()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould list the wire transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould list the wire transaction.", success, testID)
		}
	}
}

func Test_Expire(t *testing.T) {
	t.Log("Given the need to evict old transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the clock passes the expire time.", testID)
		{
			mp, _, clk, from := setup(t, 1000)

			old := signedTx(t, clk.now-database.TxMaxExpireTime, 10, 1)
			fresh := signedTx(t, clk.now, 20, 1)

			if err := mp.AddPendingTransaction(old); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept a transaction on the boundary: %v", failed, testID, err)
			}
			if err := mp.AddPendingTransaction(fresh); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept a fresh transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept a transaction on the boundary.", success, testID)

			clk.now++
			mp.ProcessBest(&database.Block{Number: 1})

			pending := mp.PendingTransactions()
			if len(pending) != 1 || !pending[0].Equal(fresh) {
				t.Fatalf("\t%s\tTest %d:\tShould evict the expired transaction.", failed, testID)
			}
			if old.Status() != database.StatusExpired {
				t.Fatalf("\t%s\tTest %d:\tShould mark the expired transaction.", failed, testID)
			}
			if mp.Reserved(from).Int64() != 21 {
				t.Fatalf("\t%s\tTest %d:\tShould release the expired reservation, got %s.", failed, testID, mp.Reserved(from))
			}
			t.Logf("\t%s\tTest %d:\tShould evict the expired transaction.", success, testID)

			expired := signedTx(t, clk.now-database.TxMaxExpireTime-1, 1, 1)
			if err := mp.AddPendingTransaction(expired); !errors.Is(err, mempool.ErrExpired) {
				t.Fatalf("\t%s\tTest %d:\tShould reject an expired transaction, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an expired transaction.", success, testID)

			picked, err := mp.Pick("", database.MaxBlockTxSize)
			if err != nil || len(picked) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould pick the remaining transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould pick the remaining transaction.", success, testID)

			mp.Truncate()
			if mp.Count() != 0 || mp.Reserved(from).Sign() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould clear the pool and the reservations.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould clear the pool and the reservations.", success, testID)
		}
	}
}

func Test_BadTime(t *testing.T) {
	t.Log("Given the need to keep transactions no block could include out of the pool.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer sends a transaction asking for a longer life.", testID)
		{
			mp, _, clk, from := setup(t, 1000)

			long := signedTxExpire(t, clk.now, database.TxMaxExpireTime*10, 10, 1)
			if accepted := mp.AddWireTransactions([]*database.Transaction{long}); len(accepted) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction, accepted %d.", failed, testID, len(accepted))
			}
			if mp.Count() != 0 || mp.Reserved(from).Sign() != 0 || long.Status() != database.StatusInvalid {
				t.Fatalf("\t%s\tTest %d:\tShould leave no trace of the transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)

			picked, err := mp.Pick("", database.MaxBlockTxSize)
			if err != nil || len(picked) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould have nothing to forge: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould have nothing to forge.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a transaction is stamped in the future.", testID)
		{
			mp, _, clk, _ := setup(t, 1000)

			ahead := signedTx(t, clk.now+database.MaxTimeDrift+1, 10, 1)
			if err := mp.AddPendingTransaction(ahead); !errors.Is(err, mempool.ErrBadTime) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a transaction beyond the drift, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a transaction beyond the drift.", success, testID)

			edge := signedTx(t, clk.now+database.MaxTimeDrift, 10, 1)
			if err := mp.AddPendingTransaction(edge); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept a transaction on the drift: %v", failed, testID, err)
			}
			if !edge.CheckBlockTime(clk.now) {
				t.Fatalf("\t%s\tTest %d:\tShould accept only what a block at the same time accepts.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould accept a transaction on the drift.", success, testID)
		}
	}
}

// =============================================================================

type balances int64

func (b balances) Balance(common.Address) *big.Int {
	return big.NewInt(int64(b))
}
