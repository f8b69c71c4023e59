package database

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
)

// Status messages set on a transaction when it is executed or rejected.
const (
	StatusSuccess         = "transaction success!"
	StatusInsufficient    = "less sufficient funds,transaction fail"
	StatusNoBalance       = "No enough balance"
	StatusNotEnoughFee    = "Not enough fee for transaction"
	StatusDuplicate       = "duplicate transaction"
	StatusExpired         = "transaction expired"
	StatusInvalid         = "invalid transaction"
	StatusInvalidAccount  = "invalid account"
	StatusSignatureFailed = "signature verification failed"
)

// Set of errors returned by transaction validation.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFee       = errors.New("invalid fee")
	ErrInvalidTime      = errors.New("invalid time")
)

// =============================================================================

// Transaction is the signed value transfer between two parties.
type Transaction struct {
	Version    uint8
	Option     uint8
	TimeStamp  int64    // Unix seconds when the transaction was created.
	ToAddress  []byte   // Empty for a burn or exactly 20 bytes.
	Amount     *big.Int // Coins moved to the receiver.
	Fee        *big.Int // Coins paid to the forger and witnesses.
	ExpireTime int64    // Seconds the transaction stays valid after TimeStamp.
	V          uint8    // Recovery id plus 27.
	R          *big.Int
	S          *big.Int

	mu     sync.Mutex
	sender *common.Address
	status string
}

// NewTransaction constructs an unsigned transaction stamped with the
// current time and the default expire time.
func NewTransaction(to common.Address, amount *big.Int, fee *big.Int) (*Transaction, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if fee == nil || fee.Sign() < 1 {
		return nil, ErrInvalidFee
	}

	tx := Transaction{
		Version:    TxVersion,
		Option:     TxOption,
		TimeStamp:  time.Now().Unix(),
		Amount:     new(big.Int).Set(amount),
		Fee:        new(big.Int).Set(fee),
		ExpireTime: TxMaxExpireTime,
	}

	if !IsBurn(to) {
		tx.ToAddress = to.Bytes()
	}

	return &tx, nil
}

// DecodeTransaction constructs a transaction from its wire encoding.
func DecodeTransaction(data []byte) (*Transaction, error) {
	var w txRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}

	return fromTxRLP(w), nil
}

// Sign uses the specified private key to sign the raw hash of the
// transaction.
func (tx *Transaction) Sign(privateKey *ecdsa.PrivateKey) error {
	v, r, s, err := signature.Sign(tx.RawHash(), privateKey)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.V, tx.R, tx.S = v, r, s
	tx.sender = nil

	return nil
}

// Encode returns the wire encoding including the signature.
func (tx *Transaction) Encode() []byte {
	return encode(tx.toRLP())
}

// EncodeRaw returns the wire encoding without the signature.
func (tx *Transaction) EncodeRaw() []byte {
	w := tx.toRLP()
	raw := txRawRLP{
		Version:    w.Version,
		Option:     w.Option,
		TimeStamp:  w.TimeStamp,
		ToAddress:  w.ToAddress,
		Amount:     w.Amount,
		Fee:        w.Fee,
		ExpireTime: w.ExpireTime,
	}
	return encode(raw)
}

// Hash returns the identity of the transaction.
func (tx *Transaction) Hash() []byte {
	return signature.Sha3(tx.Encode())
}

// HashHex returns the hash as a hex string.
func (tx *Transaction) HashHex() string {
	return hexutil.Encode(tx.Hash())
}

// RawHash is the hash that gets signed.
func (tx *Transaction) RawHash() []byte {
	return signature.Sha3(tx.EncodeRaw())
}

// Sender recovers the address that signed the transaction. The result is
// cached after the first successful recovery.
func (tx *Transaction) Sender() (common.Address, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.sender != nil {
		return *tx.sender, nil
	}

	if tx.R == nil || tx.S == nil {
		return common.Address{}, ErrInvalidSignature
	}

	addr, err := signature.RecoverAddress(signature.Sha3(tx.EncodeRaw()), tx.V, tx.R, tx.S)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	tx.sender = &addr

	return addr, nil
}

// Receiver returns the receiving address. A burn transaction returns the
// burn address.
func (tx *Transaction) Receiver() common.Address {
	if len(tx.ToAddress) == 0 {
		return BurnAddress
	}
	return common.BytesToAddress(tx.ToAddress)
}

// TotalCost is amount plus fee.
func (tx *Transaction) TotalCost() *big.Int {
	return new(big.Int).Add(bigOrZero(tx.Amount), bigOrZero(tx.Fee))
}

// Validate performs the structural checks of the transaction.
func (tx *Transaction) Validate() error {
	if len(tx.ToAddress) != 0 && len(tx.ToAddress) != AddressLength {
		return ErrInvalidAddress
	}

	if tx.R == nil || tx.S == nil || tx.R.BitLen() > 256 || tx.S.BitLen() > 256 {
		return ErrInvalidSignature
	}

	if tx.Amount == nil || tx.Amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	if tx.Fee == nil || tx.Fee.Sign() < 1 {
		return ErrInvalidFee
	}

	if tx.TimeStamp < 0 || tx.ExpireTime < 0 {
		return ErrInvalidTime
	}

	if _, err := tx.Sender(); err != nil {
		return err
	}

	return nil
}

// Verify performs the structural checks and makes sure the transaction
// carries a signature.
func (tx *Transaction) Verify() error {
	if tx.R == nil || tx.S == nil || tx.R.Sign() == 0 || tx.S.Sign() == 0 {
		return ErrInvalidSignature
	}

	return tx.Validate()
}

// CheckTime reports whether the transaction is still valid at now. A
// transaction that is exactly expireTime seconds old is still valid.
func (tx *Transaction) CheckTime(now int64) bool {
	return now-tx.TimeStamp <= tx.ExpireTime
}

// CheckBlockTime validates the transaction time against the timestamp of
// the block that includes it.
func (tx *Transaction) CheckBlockTime(blockTime int64) bool {
	if tx.ExpireTime > TxMaxExpireTime {
		return false
	}

	if tx.TimeStamp-MaxTimeDrift > blockTime {
		return false
	}

	return tx.CheckTime(blockTime)
}

// Status returns the last status message recorded for the transaction.
func (tx *Transaction) Status() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	return tx.status
}

// SetStatus records a status message on the transaction.
func (tx *Transaction) SetStatus(status string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	tx.status = status
}

// Equal compares two transactions by hash.
func (tx *Transaction) Equal(other *Transaction) bool {
	return bytes.Equal(tx.Hash(), other.Hash())
}

// String implements the fmt.Stringer interface for logging.
func (tx *Transaction) String() string {
	from, _ := tx.Sender()
	return fmt.Sprintf("%s:%s->%s:%s:%s", hexutil.Encode(tx.Hash()[:4]), from.Hex()[:8], tx.Receiver().Hex()[:8], bigOrZero(tx.Amount), bigOrZero(tx.Fee))
}

// =============================================================================

func (tx *Transaction) toRLP() txRLP {
	return txRLP{
		Version:    tx.Version,
		Option:     tx.Option,
		TimeStamp:  uint64(tx.TimeStamp),
		ToAddress:  tx.ToAddress,
		Amount:     bigOrZero(tx.Amount),
		Fee:        bigOrZero(tx.Fee),
		ExpireTime: uint64(tx.ExpireTime),
		V:          tx.V,
		R:          bigOrZero(tx.R),
		S:          bigOrZero(tx.S),
	}
}

func fromTxRLP(w txRLP) *Transaction {
	return &Transaction{
		Version:    w.Version,
		Option:     w.Option,
		TimeStamp:  int64(w.TimeStamp),
		ToAddress:  w.ToAddress,
		Amount:     w.Amount,
		Fee:        w.Fee,
		ExpireTime: int64(w.ExpireTime),
		V:          w.V,
		R:          w.R,
		S:          w.S,
	}
}
