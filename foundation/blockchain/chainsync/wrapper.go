package chainsync

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// SolidBlockDuration is how long a block announced as new waits before it
// is treated like a block downloaded during the main sync.
const SolidBlockDuration = 60 * time.Second

// BlockWrapper carries a block through the sync queue with the metadata
// needed to retry its import. Blocks from the network do not carry their
// number so it travels with the wrapper.
type BlockWrapper struct {
	Block          *database.Block
	Number         uint64
	NodeID         string
	NewBlock       bool
	ReceivedAt     time.Time
	ImportFailedAt time.Time
}

// NewBlockWrapper constructs a wrapper for a block received from nodeID.
func NewBlockWrapper(block *database.Block, number uint64, nodeID string, newBlock bool, now time.Time) *BlockWrapper {
	return &BlockWrapper{
		Block:      block,
		Number:     number,
		NodeID:     nodeID,
		NewBlock:   newBlock,
		ReceivedAt: now,
	}
}

// Hash returns the hash of the wrapped block.
func (w *BlockWrapper) Hash() []byte {
	return w.Block.Hash()
}

// ParentHash returns the hash of the parent of the wrapped block.
func (w *BlockWrapper) ParentHash() []byte {
	return w.Block.Header.PreviousHeaderHash
}

// IsSolidBlock reports whether the block came from the main sync or was
// announced long enough ago.
func (w *BlockWrapper) IsSolidBlock(now time.Time) bool {
	return !w.NewBlock || w.TimeSinceReceiving(now) > SolidBlockDuration
}

// ImportFailed records the first failed import.
func (w *BlockWrapper) ImportFailed(now time.Time) {
	if w.ImportFailedAt.IsZero() {
		w.ImportFailedAt = now
	}
}

// ResetImportFail forgets a failed import.
func (w *BlockWrapper) ResetImportFail() {
	w.ImportFailedAt = time.Time{}
}

// TimeSinceFail returns how long ago the first import failed, zero when it
// never did.
func (w *BlockWrapper) TimeSinceFail(now time.Time) time.Duration {
	if w.ImportFailedAt.IsZero() {
		return 0
	}
	return now.Sub(w.ImportFailedAt)
}

// TimeSinceReceiving returns how long ago the block arrived.
func (w *BlockWrapper) TimeSinceReceiving(now time.Time) time.Duration {
	return now.Sub(w.ReceivedAt)
}

// IsEqual compares the wrapped blocks.
func (w *BlockWrapper) IsEqual(other *BlockWrapper) bool {
	return bytes.Equal(w.Hash(), other.Hash())
}

// =============================================================================

type wrapperRLP struct {
	Block          []byte
	Number         uint64
	ImportFailedAt uint64
	ReceivedAt     uint64
	NewBlock       bool
	NodeID         string
}

func millis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

func fromMillis(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

// Encode returns the storage encoding of the wrapper.
func (w *BlockWrapper) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(wrapperRLP{
		Block:          w.Block.EncodeMsg(),
		Number:         w.Number,
		ImportFailedAt: millis(w.ImportFailedAt),
		ReceivedAt:     millis(w.ReceivedAt),
		NewBlock:       w.NewBlock,
		NodeID:         w.NodeID,
	})
}

// DecodeBlockWrapper constructs a wrapper from its storage encoding.
func DecodeBlockWrapper(data []byte) (*BlockWrapper, error) {
	var r wrapperRLP
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, fmt.Errorf("decode block wrapper: %w", err)
	}

	block, err := database.DecodeBlockMsg(r.Block)
	if err != nil {
		return nil, err
	}

	w := BlockWrapper{
		Block:          block,
		Number:         r.Number,
		NodeID:         r.NodeID,
		NewBlock:       r.NewBlock,
		ReceivedAt:     fromMillis(r.ReceivedAt),
		ImportFailedAt: fromMillis(r.ImportFailedAt),
	}

	return &w, nil
}
