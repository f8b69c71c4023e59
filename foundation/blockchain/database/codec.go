package database

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// The structs in this file are the wire contract. Field order is the
// encoding order and must never change.

type txRLP struct {
	Version    uint8
	Option     uint8
	TimeStamp  uint64
	ToAddress  []byte
	Amount     *big.Int
	Fee        *big.Int
	ExpireTime uint64
	V          uint8
	R          *big.Int
	S          *big.Int
}

type txRawRLP struct {
	Version    uint8
	Option     uint8
	TimeStamp  uint64
	ToAddress  []byte
	Amount     *big.Int
	Fee        *big.Int
	ExpireTime uint64
}

type headerRLP struct {
	Version            uint8
	TimeStamp          uint64
	PreviousHeaderHash []byte
	GeneratorPublicKey []byte
}

type blockSigRLP struct {
	R *big.Int
	S *big.Int
}

type blockFullRLP struct {
	Header               headerRLP
	Number               uint64
	BaseTarget           *big.Int
	GenerationSignature  []byte
	CumulativeDifficulty *big.Int
	CumulativeFee        *big.Int
	Signature            blockSigRLP
	Option               uint8
	Txs                  []txRLP
}

type blockMsgRLP struct {
	Header    headerRLP
	Signature blockSigRLP
	Option    uint8
	Txs       []txRLP
}

type blockRawRLP struct {
	Header headerRLP
	Option uint8
	Txs    []txRLP
}

type historyRLP struct {
	Time uint64
	Hash []byte
}

type accountRLP struct {
	ForgePower  *big.Int
	Balance     *big.Int
	Witness     []byte
	Associates  [][]byte
	StateHeight uint64
	History     []historyRLP
}

// =============================================================================

func encode(v any) []byte {

	// Every value passed here is one of the structs above which only hold
	// types rlp supports.
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic("database: rlp encode: " + err.Error())
	}
	return data
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
