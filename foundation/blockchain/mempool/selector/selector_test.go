package selector_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	signAlice = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signBob   = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	signCarol = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

type txArgs struct {
	key  string
	ts   int64
	fee  int64
	name string
}

func TestSelect(t *testing.T) {
	type test struct {
		name     string
		strategy string
		txs      []txArgs
		howMany  int
		best     []string
	}

	txs := []txArgs{
		{key: signAlice, ts: 10, fee: 150, name: "a10"},
		{key: signAlice, ts: 20, fee: 250, name: "a20"},
		{key: signBob, ts: 10, fee: 75, name: "b10"},
		{key: signBob, ts: 20, fee: 200, name: "b20"},
		{key: signCarol, ts: 10, fee: 100, name: "c10"},
		{key: signCarol, ts: 20, fee: 75, name: "c20"},
	}

	tt := []test{
		{name: "fee", strategy: selector.StrategyFee, txs: txs, howMany: 3, best: []string{"a20", "b20", "a10"}},
		{name: "fee-tie", strategy: selector.StrategyFee, txs: txs, howMany: -1, best: []string{"a20", "b20", "a10", "c10", "b10", "c20"}},
		{name: "time", strategy: selector.StrategyTime, txs: txs, howMany: 4},
		{name: "fair", strategy: selector.StrategyFair, txs: txs, howMany: 4, best: []string{"a10", "c10", "b10", "a20"}},
	}

	t.Log("Given the need to pick transactions for a block.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen using the %q strategy.", testID, tst.strategy)

				fn, err := selector.Retrieve(tst.strategy)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to retrieve the strategy: %v", failed, testID, err)
				}

				names := make(map[string]string)
				m := make(map[common.Address][]*database.Transaction)
				for _, s := range tst.txs {
					tx, from := sign(t, s)
					names[tx.HashHex()] = s.name
					m[from] = append(m[from], tx)
				}

				got := fn(m, tst.howMany)

				if tst.strategy == selector.StrategyTime {
					if len(got) != tst.howMany {
						t.Fatalf("\t%s\tTest %d:\tShould get %d transactions, got %d.", failed, testID, tst.howMany, len(got))
					}
					for i := 1; i < len(got); i++ {
						if got[i-1].TimeStamp > got[i].TimeStamp {
							t.Fatalf("\t%s\tTest %d:\tShould order by time.", failed, testID)
						}
					}
					if got[3].TimeStamp != 20 {
						t.Fatalf("\t%s\tTest %d:\tShould take every old transaction first.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould order by time.", success, testID)
					return
				}

				if len(got) != len(tst.best) {
					t.Fatalf("\t%s\tTest %d:\tShould get %d transactions, got %d.", failed, testID, len(tst.best), len(got))
				}
				for i, tx := range got {
					if names[tx.HashHex()] != tst.best[i] {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, names[tx.HashHex()])
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.best[i])
						t.Fatalf("\t%s\tTest %d:\tShould get back the right transaction.", failed, testID)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould get back the right transactions.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func TestRetrieveUnknown(t *testing.T) {
	t.Log("Given the need to reject unknown strategies.")
	{
		if _, err := selector.Retrieve("tip"); err == nil {
			t.Fatalf("\t%s\tShould fail for an unknown strategy.", failed)
		}
		t.Logf("\t%s\tShould fail for an unknown strategy.", success)
	}
}

// =============================================================================

func sign(t *testing.T, s txArgs) (*database.Transaction, common.Address) {
	pk, err := crypto.HexToECDSA(s.key)
	if err != nil {
		t.Fatalf("Should be able to load the key: %v", err)
	}

	to := common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")
	tx, err := database.NewTransaction(to, big.NewInt(1), big.NewInt(s.fee))
	if err != nil {
		t.Fatalf("Should be able to build the transaction: %v", err)
	}
	tx.TimeStamp = s.ts

	if err := tx.Sign(pk); err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}

	return tx, crypto.PubkeyToAddress(pk.PublicKey)
}
