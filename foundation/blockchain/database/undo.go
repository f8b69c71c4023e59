package database

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Identity is the stake holder identity of an account before a block
// changed it.
type Identity struct {
	Witness     []byte
	Associates  [][]byte
	StateHeight uint64
}

// Credit is a payment made to an account while executing a transaction.
type Credit struct {
	Address []byte
	Amount  *big.Int
}

// PrunedEntry is a history entry dropped from the sender while executing a
// transaction.
type PrunedEntry struct {
	Time uint64
	Hash []byte
}

// TxUndo holds what is needed to reverse one transaction exactly.
type TxUndo struct {
	Sender   Identity
	Receiver Identity
	Credits  []Credit
	Created  [][]byte
	Pruned   []PrunedEntry
}

// BlockUndo holds the undo data of every transaction of a block in block
// order.
type BlockUndo struct {
	Txs []TxUndo
}

// Encode returns the stored encoding of the undo record.
func (bu BlockUndo) Encode() ([]byte, error) {
	data, err := rlp.EncodeToBytes(bu)
	if err != nil {
		return nil, fmt.Errorf("encode undo: %w", err)
	}
	return data, nil
}

// DecodeBlockUndo constructs an undo record from its stored encoding.
func DecodeBlockUndo(data []byte) (BlockUndo, error) {
	var bu BlockUndo
	if err := rlp.DecodeBytes(data, &bu); err != nil {
		return BlockUndo{}, fmt.Errorf("decode undo: %w", err)
	}
	return bu, nil
}

// AddCredit records a payment to addr.
func (tu *TxUndo) AddCredit(addr common.Address, amount *big.Int) {
	tu.Credits = append(tu.Credits, Credit{Address: addr.Bytes(), Amount: new(big.Int).Set(amount)})
}

// AddCreated records that addr did not exist before the transaction.
func (tu *TxUndo) AddCreated(addr common.Address) {
	tu.Created = append(tu.Created, addr.Bytes())
}

// =============================================================================

// Identity captures the current stake holder identity of the account.
func (as *AccountState) Identity() Identity {
	id := Identity{
		Witness:     cloneBytes(as.witness),
		StateHeight: as.stateHeight,
	}
	for _, a := range as.associates {
		id.Associates = append(id.Associates, cloneBytes(a))
	}
	return id
}

// RestoreIdentity puts back an identity captured earlier.
func (as *AccountState) RestoreIdentity(id Identity) {
	as.encoded = nil
	as.witness = cloneBytes(id.Witness)
	as.associates = nil
	for _, a := range id.Associates {
		as.associates = append(as.associates, cloneBytes(a))
	}
	as.stateHeight = id.StateHeight
	as.dirty = true
}
