package public

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/nameservice"
)

type tx struct {
	Hash       string         `json:"hash"`
	From       common.Address `json:"from"`
	FromName   string         `json:"from_name"`
	To         string         `json:"to"`
	ToName     string         `json:"to_name"`
	Amount     *big.Int       `json:"amount"`
	Fee        *big.Int       `json:"fee"`
	TimeStamp  int64          `json:"timestamp"`
	ExpireTime int64          `json:"expire_time"`
	Status     string         `json:"status,omitempty"`
}

type block struct {
	Number               uint64         `json:"number"`
	Hash                 string         `json:"hash"`
	PreviousHeaderHash   hexutil.Bytes  `json:"previous_header_hash"`
	Forger               common.Address `json:"forger"`
	ForgerName           string         `json:"forger_name"`
	TimeStamp            int64          `json:"timestamp"`
	BaseTarget           *big.Int       `json:"base_target"`
	GenerationSignature  hexutil.Bytes  `json:"generation_signature"`
	CumulativeDifficulty *big.Int       `json:"cumulative_difficulty"`
	CumulativeFee        *big.Int       `json:"cumulative_fee"`
	Transactions         []tx           `json:"txs"`
}

type account struct {
	Account     common.Address   `json:"account"`
	Name        string           `json:"name"`
	Balance     *big.Int         `json:"balance"`
	ForgePower  *big.Int         `json:"forge_power"`
	Witness     *common.Address  `json:"witness,omitempty"`
	Associates  []common.Address `json:"associates,omitempty"`
	StateHeight uint64           `json:"state_height"`
}

type chainInfo struct {
	Height          uint64 `json:"height"`
	BestBlock       string `json:"best_block"`
	TotalDifficulty string `json:"total_difficulty"`
	Uncommitted     int    `json:"uncommitted"`
	SyncState       string `json:"sync_state"`
	SyncDone        bool   `json:"sync_done"`
	Forging         bool   `json:"forging"`
	Peers           int    `json:"peers"`
}

// =============================================================================

func toTx(ns *nameservice.NameService, t *database.Transaction) tx {
	from, _ := t.Sender()
	to := t.Receiver()

	return tx{
		Hash:       t.HashHex(),
		From:       from,
		FromName:   ns.Lookup(from),
		To:         to.Hex(),
		ToName:     ns.Lookup(to),
		Amount:     t.Amount,
		Fee:        t.Fee,
		TimeStamp:  t.TimeStamp,
		ExpireTime: t.ExpireTime,
		Status:     t.Status(),
	}
}

func toBlock(ns *nameservice.NameService, b *database.Block) block {
	forger, _ := b.ForgerAddress()

	txs := make([]tx, len(b.Transactions))
	for i, t := range b.Transactions {
		txs[i] = toTx(ns, t)
	}

	return block{
		Number:               b.Number,
		Hash:                 b.HashHex(),
		PreviousHeaderHash:   b.Header.PreviousHeaderHash,
		Forger:               forger,
		ForgerName:           ns.Lookup(forger),
		TimeStamp:            b.Header.TimeStamp,
		BaseTarget:           b.BaseTarget,
		GenerationSignature:  b.GenerationSignature,
		CumulativeDifficulty: b.CumulativeDifficulty,
		CumulativeFee:        b.CumulativeFee,
		Transactions:         txs,
	}
}
