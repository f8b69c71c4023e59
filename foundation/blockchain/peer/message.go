package peer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// BlockMsg carries a block between nodes. The number travels next to the
// encoded block since the block message does not include it. From names
// the node proposing a block it forged.
type BlockMsg struct {
	From   string        `json:"from,omitempty"`
	Number uint64        `json:"number"`
	Data   hexutil.Bytes `json:"data" validate:"required"`
}

// NewBlockMsg constructs the message for the block.
func NewBlockMsg(block *database.Block) BlockMsg {
	return BlockMsg{
		Number: block.Number,
		Data:   block.EncodeMsg(),
	}
}

// ToBlock decodes the block carried by the message.
func (bm BlockMsg) ToBlock() (*database.Block, error) {
	block, err := database.DecodeBlockMsg(bm.Data)
	if err != nil {
		return nil, err
	}
	block.Number = bm.Number

	return block, nil
}

// TxMsg carries a signed transaction between nodes.
type TxMsg struct {
	Data hexutil.Bytes `json:"data" validate:"required"`
}

// NewTxMsg constructs the message for the transaction.
func NewTxMsg(tx *database.Transaction) TxMsg {
	return TxMsg{
		Data: tx.Encode(),
	}
}

// ToTransaction decodes the transaction carried by the message.
func (tm TxMsg) ToTransaction() (*database.Transaction, error) {
	return database.DecodeTransaction(tm.Data)
}
