package database

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
)

// Set of errors returned by block validation.
var (
	ErrBlockVersion    = errors.New("unsupported block version")
	ErrBlockOption     = errors.New("unsupported block option")
	ErrBlockSignature  = errors.New("block signature does not match the generator key")
	ErrBlockTime       = errors.New("block timestamp is not after its parent")
	ErrBlockFuture     = errors.New("block timestamp is too far in the future")
	ErrBlockTooManyTxs = errors.New("block carries too many transactions")
	ErrBlockParent     = errors.New("block does not link to its parent")
)

// =============================================================================

// BlockHeader represents the part of a block that links the chain. Its hash
// is the identity of the block.
type BlockHeader struct {
	Version            uint8  // Block format version, always BlockVersion.
	TimeStamp          int64  // Unix seconds when the block was forged.
	PreviousHeaderHash []byte // Hash of the parent header.
	GeneratorPublicKey []byte // Compressed public key of the forger.
}

// Hash returns ripemd160(sha256(encoded header)).
func (h BlockHeader) Hash() []byte {
	return signature.HeaderHash(encode(h.toRLP()))
}

// Encode returns the wire encoding of the header.
func (h BlockHeader) Encode() []byte {
	return encode(h.toRLP())
}

// DecodeBlockHeader constructs a header from its wire encoding.
func DecodeBlockHeader(data []byte) (BlockHeader, error) {
	var w headerRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return BlockHeader{}, fmt.Errorf("decode header: %w", err)
	}
	return fromHeaderRLP(w), nil
}

func (h BlockHeader) toRLP() headerRLP {
	return headerRLP{
		Version:            h.Version,
		TimeStamp:          uint64(h.TimeStamp),
		PreviousHeaderHash: h.PreviousHeaderHash,
		GeneratorPublicKey: h.GeneratorPublicKey,
	}
}

func fromHeaderRLP(w headerRLP) BlockHeader {
	return BlockHeader{
		Version:            w.Version,
		TimeStamp:          int64(w.TimeStamp),
		PreviousHeaderHash: w.PreviousHeaderHash,
		GeneratorPublicKey: w.GeneratorPublicKey,
	}
}

// =============================================================================

// Block represents a group of transactions batched together. The fields
// after the header are computed locally from the parent when a block
// arrives from the network.
type Block struct {
	Header               BlockHeader
	Number               uint64
	BaseTarget           *big.Int
	GenerationSignature  []byte
	CumulativeDifficulty *big.Int
	CumulativeFee        *big.Int
	R                    *big.Int // Block signature.
	S                    *big.Int
	Option               uint8
	Transactions         []*Transaction
}

// DecodeBlock constructs a block from the full encoding used on disk.
func DecodeBlock(data []byte) (*Block, error) {
	var w blockFullRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	b := Block{
		Header:               fromHeaderRLP(w.Header),
		Number:               w.Number,
		BaseTarget:           bigOrZero(w.BaseTarget),
		GenerationSignature:  w.GenerationSignature,
		CumulativeDifficulty: bigOrZero(w.CumulativeDifficulty),
		CumulativeFee:        bigOrZero(w.CumulativeFee),
		R:                    w.Signature.R,
		S:                    w.Signature.S,
		Option:               w.Option,
		Transactions:         fromTxList(w.Txs),
	}

	return &b, nil
}

// DecodeBlockMsg constructs a block from the message encoding used on the
// network. Number, base target, generation signature and the cumulative
// values are left empty for the receiver to compute.
func DecodeBlockMsg(data []byte) (*Block, error) {
	var w blockMsgRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode block msg: %w", err)
	}

	b := Block{
		Header:       fromHeaderRLP(w.Header),
		R:            w.Signature.R,
		S:            w.Signature.S,
		Option:       w.Option,
		Transactions: fromTxList(w.Txs),
	}

	return &b, nil
}

// EncodeFull returns the encoding written to disk.
func (b *Block) EncodeFull() []byte {
	w := blockFullRLP{
		Header:               b.Header.toRLP(),
		Number:               b.Number,
		BaseTarget:           bigOrZero(b.BaseTarget),
		GenerationSignature:  b.GenerationSignature,
		CumulativeDifficulty: bigOrZero(b.CumulativeDifficulty),
		CumulativeFee:        bigOrZero(b.CumulativeFee),
		Signature:            b.sigRLP(),
		Option:               b.Option,
		Txs:                  b.txList(),
	}
	return encode(w)
}

// EncodeMsg returns the encoding sent to peers.
func (b *Block) EncodeMsg() []byte {
	w := blockMsgRLP{
		Header:    b.Header.toRLP(),
		Signature: b.sigRLP(),
		Option:    b.Option,
		Txs:       b.txList(),
	}
	return encode(w)
}

// EncodeRaw returns the encoding covered by the block signature.
func (b *Block) EncodeRaw() []byte {
	w := blockRawRLP{
		Header: b.Header.toRLP(),
		Option: b.Option,
		Txs:    b.txList(),
	}
	return encode(w)
}

// Hash returns the unique hash for the block.
func (b *Block) Hash() []byte {
	return b.Header.Hash()
}

// HashHex returns the block hash as a hex string.
func (b *Block) HashHex() string {
	return hexutil.Encode(b.Hash())
}

// RawHash is the hash the forger signs.
func (b *Block) RawHash() []byte {
	return signature.Sha3(b.EncodeRaw())
}

// Sign signs the raw hash with the forger's key. The generator public key
// is set from the key so it always matches the signature.
func (b *Block) Sign(privateKey *ecdsa.PrivateKey) error {
	b.Header.GeneratorPublicKey = signature.PublicKeyBytes(privateKey)

	r, s, err := signature.SignWithKey(b.RawHash(), privateKey)
	if err != nil {
		return err
	}
	b.R, b.S = r, s

	return nil
}

// VerifySignature checks the block signature against the generator key.
func (b *Block) VerifySignature() bool {
	if b.R == nil || b.S == nil {
		return false
	}
	return signature.VerifyWithKey(b.Header.GeneratorPublicKey, b.RawHash(), b.R, b.S)
}

// ForgerAddress derives the account of the forger from the generator key.
func (b *Block) ForgerAddress() (common.Address, error) {
	return signature.PublicKeyToAddress(b.Header.GeneratorPublicKey)
}

// IsGenesis reports whether the block is block #0.
func (b *Block) IsGenesis() bool {
	return b.Number == 0
}

// IsParentOf reports whether other links to this block.
func (b *Block) IsParentOf(other *Block) bool {
	return bytes.Equal(b.Hash(), other.Header.PreviousHeaderHash)
}

// IsEqual compares two blocks by hash.
func (b *Block) IsEqual(other *Block) bool {
	return bytes.Equal(b.Hash(), other.Hash())
}

// TotalFee sums the fees of every transaction in the block.
func (b *Block) TotalFee() *big.Int {
	total := new(big.Int)
	for _, tx := range b.Transactions {
		total.Add(total, bigOrZero(tx.Fee))
	}
	return total
}

// ShortDescr is used in log lines.
func (b *Block) ShortDescr() string {
	h := b.Hash()
	return fmt.Sprintf("#%d (%s) txs:%d", b.Number, hexutil.Encode(h[:4]), len(b.Transactions))
}

// ValidateSimple performs the checks of a block that need nothing beyond
// its parent: format, signature, time and size.
func (b *Block) ValidateSimple(parent *Block, now int64, evHandler func(v string, args ...any)) error {
	evHandler("database: ValidateSimple: validate: blk[%d]: check: version and option", b.Number)

	if b.Header.Version != BlockVersion {
		return fmt.Errorf("%w: got %d", ErrBlockVersion, b.Header.Version)
	}
	if b.Option != BlockOption {
		return fmt.Errorf("%w: got %d", ErrBlockOption, b.Option)
	}

	evHandler("database: ValidateSimple: validate: blk[%d]: check: parent hash does match parent block", b.Number)

	if !parent.IsParentOf(b) {
		return ErrBlockParent
	}

	evHandler("database: ValidateSimple: validate: blk[%d]: check: block signature", b.Number)

	if !b.VerifySignature() {
		return ErrBlockSignature
	}

	evHandler("database: ValidateSimple: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", b.Number)

	if b.Header.TimeStamp <= parent.Header.TimeStamp {
		return fmt.Errorf("%w: parent %d, block %d", ErrBlockTime, parent.Header.TimeStamp, b.Header.TimeStamp)
	}

	if b.Header.TimeStamp-MaxTimeDrift > now {
		return fmt.Errorf("%w: now %d, block %d", ErrBlockFuture, now, b.Header.TimeStamp)
	}

	evHandler("database: ValidateSimple: validate: blk[%d]: check: transaction count", b.Number)

	if len(b.Transactions) > MaxBlockTxSize {
		return fmt.Errorf("%w: %d", ErrBlockTooManyTxs, len(b.Transactions))
	}

	return nil
}

// =============================================================================

func (b *Block) sigRLP() blockSigRLP {
	return blockSigRLP{R: bigOrZero(b.R), S: bigOrZero(b.S)}
}

func (b *Block) txList() []txRLP {
	txs := make([]txRLP, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.toRLP()
	}
	return txs
}

func fromTxList(ws []txRLP) []*Transaction {
	txs := make([]*Transaction, len(ws))
	for i, w := range ws {
		txs[i] = fromTxRLP(w)
	}
	return txs
}

// =============================================================================

// BlockData is the JSON view of a block served by the node API.
type BlockData struct {
	Hash                 string   `json:"hash"`
	Number               uint64   `json:"number"`
	Version              uint8    `json:"version"`
	TimeStamp            int64    `json:"timestamp"`
	PreviousHeaderHash   string   `json:"previous_header_hash"`
	GeneratorPublicKey   string   `json:"generator_public_key"`
	Forger               string   `json:"forger"`
	BaseTarget           string   `json:"base_target"`
	GenerationSignature  string   `json:"generation_signature"`
	CumulativeDifficulty string   `json:"cumulative_difficulty"`
	CumulativeFee        string   `json:"cumulative_fee"`
	Transactions         []TxData `json:"transactions"`
}

// NewBlockData constructs the JSON view of a block.
func NewBlockData(b *Block) BlockData {
	forger, _ := b.ForgerAddress()

	bd := BlockData{
		Hash:                 b.HashHex(),
		Number:               b.Number,
		Version:              b.Header.Version,
		TimeStamp:            b.Header.TimeStamp,
		PreviousHeaderHash:   hexutil.Encode(b.Header.PreviousHeaderHash),
		GeneratorPublicKey:   hexutil.Encode(b.Header.GeneratorPublicKey),
		Forger:               forger.Hex(),
		BaseTarget:           bigOrZero(b.BaseTarget).String(),
		GenerationSignature:  hexutil.Encode(b.GenerationSignature),
		CumulativeDifficulty: bigOrZero(b.CumulativeDifficulty).String(),
		CumulativeFee:        bigOrZero(b.CumulativeFee).String(),
		Transactions:         make([]TxData, len(b.Transactions)),
	}
	for i, tx := range b.Transactions {
		bd.Transactions[i] = NewTxData(tx)
	}

	return bd
}

// TxData is the JSON view of a transaction served by the node API.
type TxData struct {
	Hash       string `json:"hash"`
	From       string `json:"from"`
	To         string `json:"to"`
	Amount     string `json:"amount"`
	Fee        string `json:"fee"`
	TimeStamp  int64  `json:"timestamp"`
	ExpireTime int64  `json:"expire_time"`
	Status     string `json:"status,omitempty"`
}

// NewTxData constructs the JSON view of a transaction.
func NewTxData(tx *Transaction) TxData {
	from, _ := tx.Sender()

	return TxData{
		Hash:       tx.HashHex(),
		From:       from.Hex(),
		To:         tx.Receiver().Hex(),
		Amount:     bigOrZero(tx.Amount).String(),
		Fee:        bigOrZero(tx.Fee).String(),
		TimeStamp:  tx.TimeStamp,
		ExpireTime: tx.ExpireTime,
		Status:     tx.Status(),
	}
}
