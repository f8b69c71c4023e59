package state

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/pot"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
)

// ErrNoForgePower is returned when an account without forging power asks
// to forge.
var ErrNoForgePower = errors.New("forge power is not positive")

// ForgeInfo describes the next block an account is allowed to forge on top
// of a parent.
type ForgeInfo struct {
	Parent              *database.Block
	BaseTarget          *big.Int
	GenerationSignature []byte
	Power               *big.Int
	Hit                 *big.Int
	Interval            int64 // Seconds after the parent's timestamp.
}

// =============================================================================

// NextForgeInfo computes when the account owning the public key may forge
// on top of the current best block.
func (s *State) NextForgeInfo(pubKey []byte) (ForgeInfo, error) {
	parent := s.BestBlock()

	forger, err := signature.PublicKeyToAddress(pubKey)
	if err != nil {
		return ForgeInfo{}, err
	}

	baseTarget, err := s.NextBaseTarget(parent)
	if err != nil {
		return ForgeInfo{}, err
	}

	info := ForgeInfo{
		Parent:              parent,
		BaseTarget:          baseTarget,
		GenerationSignature: pot.NextGenerationSignature(parent.GenerationSignature, pubKey),
		Power:               s.repo.ForgePower(forger),
	}

	if info.Power.Sign() <= 0 {
		return info, ErrNoForgePower
	}

	info.Hit = pot.RandomHit(info.GenerationSignature)
	info.Interval = pot.ForgingTimeInterval(info.Hit, baseTarget, info.Power)

	s.evHandler("state: NextForgeInfo: parent[%s]: bt[%s]: power[%s]: hit[%s]: interval[%d]", parent.ShortDescr(), baseTarget, info.Power, info.Hit, info.Interval)

	return info, nil
}

// NextBaseTarget returns the base target of the block that follows parent.
func (s *State) NextBaseTarget(parent *database.Block) (*big.Int, error) {
	return s.requiredBaseTarget(parent)
}

// CreateNewBlock assembles and signs a block on top of parent. The derived
// fields are filled in so the block can be announced right away.
func (s *State) CreateNewBlock(privateKey *ecdsa.PrivateKey, parent *database.Block, txs []*database.Transaction, timeStamp int64) (*database.Block, error) {
	block := database.Block{
		Header: database.BlockHeader{
			Version:            database.BlockVersion,
			TimeStamp:          timeStamp,
			PreviousHeaderHash: parent.Hash(),
		},
		Option:       database.BlockOption,
		Transactions: txs,
	}

	if err := block.Sign(privateKey); err != nil {
		return nil, err
	}

	if err := s.wrap(&block, parent); err != nil {
		return nil, err
	}

	s.evHandler("state: CreateNewBlock: blk[%s]: bt[%s]: cd[%s]", block.ShortDescr(), block.BaseTarget, block.CumulativeDifficulty)

	return &block, nil
}
