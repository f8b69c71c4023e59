package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/pot"
)

// Set of errors returned by full block validation.
var (
	ErrGenesisHash   = errors.New("genesis block hash is not the well known hash")
	ErrTxVersion     = errors.New("transaction version or option mismatch")
	ErrTxBlockTime   = errors.New("transaction time does not fit the block time")
	ErrTxReference   = errors.New("transaction is older than the reference block")
	ErrPoT           = errors.New("target value is smaller than hit")
	ErrForgerKey     = errors.New("forger public key can not be extracted")
	ErrBlockNotFound = errors.New("block not found")
)

// =============================================================================

// wrap computes the fields of a block that are derived from its parent:
// number, base target, generation signature and the cumulative values.
// Blocks coming from the network never carry them.
func (s *State) wrap(block *database.Block, parent *database.Block) error {
	if _, err := block.ForgerAddress(); err != nil {
		return fmt.Errorf("%w: %s", ErrForgerKey, err)
	}

	baseTarget, err := s.requiredBaseTarget(parent)
	if err != nil {
		return err
	}

	cumFee := new(big.Int).Set(parent.CumulativeFee)
	cumFee.Add(cumFee, block.TotalFee())

	block.Number = parent.Number + 1
	block.BaseTarget = baseTarget
	block.GenerationSignature = pot.NextGenerationSignature(parent.GenerationSignature, block.Header.GeneratorPublicKey)
	block.CumulativeDifficulty = pot.CumulativeDifficulty(parent.CumulativeDifficulty, baseTarget)
	block.CumulativeFee = cumFee

	return nil
}

// requiredBaseTarget computes the base target of the child of parent using
// the block AncestorSpan blocks below the parent on the same branch.
func (s *State) requiredBaseTarget(parent *database.Block) (*big.Int, error) {
	p := pot.Ancestor{
		Number:     parent.Number,
		TimeStamp:  parent.Header.TimeStamp,
		BaseTarget: parent.BaseTarget,
	}

	if parent.Number <= pot.AncestorSpan {
		return pot.RequiredBaseTarget(p, pot.Ancestor{}), nil
	}

	ancestor := parent
	for i := 0; i < pot.AncestorSpan; i++ {
		b, err := s.store.GetBlockByHash(ancestor.Header.PreviousHeaderHash)
		if err != nil {
			return nil, fmt.Errorf("ancestor of blk[%d]: %w", parent.Number, err)
		}
		ancestor = b
	}

	a := pot.Ancestor{
		Number:     ancestor.Number,
		TimeStamp:  ancestor.Header.TimeStamp,
		BaseTarget: ancestor.BaseTarget,
	}

	return pot.RequiredBaseTarget(p, a), nil
}

// validateGenesis makes sure block #0 is the well known one.
func (s *State) validateGenesis(block *database.Block) error {
	if !bytes.Equal(block.Hash(), s.genesisHash) {
		return fmt.Errorf("%w: got %s want %s", ErrGenesisHash, block.HashHex(), hexutil.Encode(s.genesisHash))
	}
	return nil
}

// validateBlock performs the full validation of a block against its parent
// and the account view the block will be applied to.
func (s *State) validateBlock(block *database.Block, parent *database.Block, repo database.Repository) error {
	if block.IsGenesis() {
		return s.validateGenesis(block)
	}

	if err := block.ValidateSimple(parent, s.now(), s.evHandler); err != nil {
		return err
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: transactions", block.Number)

	blockTime := block.Header.TimeStamp

	for _, tx := range block.Transactions {
		if tx.Version != database.TxVersion || tx.Option != database.TxOption {
			return fmt.Errorf("%w: tx[%s]", ErrTxVersion, tx.HashHex())
		}

		if err := tx.Validate(); err != nil {
			return fmt.Errorf("tx[%s]: %w", tx.HashHex(), err)
		}

		if !tx.CheckBlockTime(blockTime) {
			return fmt.Errorf("%w: tx[%s]: time[%d]: block[%d]", ErrTxBlockTime, tx.HashHex(), tx.TimeStamp, blockTime)
		}

		// The transaction can not be older than the block its expire time
		// reaches back to.
		span := uint64(tx.ExpireTime / pot.BlockTimeInterval)
		if parent.Number >= span {
			refTime, err := s.timeAt(parent, parent.Number-span)
			if err != nil {
				return err
			}
			if tx.TimeStamp < refTime {
				return fmt.Errorf("%w: tx[%s]: time[%d]: reference[%d]", ErrTxReference, tx.HashHex(), tx.TimeStamp, refTime)
			}
		}
	}

	s.evHandler("state: validateBlock: validate: blk[%d]: check: proof of transaction", block.Number)

	forger, err := block.ForgerAddress()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForgerKey, err)
	}

	power := repo.ForgePower(forger)
	elapsed := blockTime - parent.Header.TimeStamp

	if !pot.Verify(block.BaseTarget, power, elapsed, block.GenerationSignature) {
		target := pot.MinerTargetValue(block.BaseTarget, power, elapsed)
		hit := pot.RandomHit(block.GenerationSignature)
		return fmt.Errorf("%w: forger[%s]: power[%s]: target[%s]: hit[%s]", ErrPoT, forger, power, target, hit)
	}

	return nil
}

// timeAt returns the timestamp of the block at height on the branch that
// ends with parent.
func (s *State) timeAt(parent *database.Block, height uint64) (int64, error) {
	b := parent
	for b.Number > height {

		// Once the branch meets the main chain the cached block times can
		// be used.
		if hash, err := s.store.GetBlockHashByNumber(b.Number); err == nil && bytes.Equal(hash, b.Hash()) {
			return s.store.GetBlockTimeByNumber(height), nil
		}

		prev, err := s.store.GetBlockByHash(b.Header.PreviousHeaderHash)
		if err != nil {
			return 0, fmt.Errorf("%w: blk[%d]: %s", ErrBlockNotFound, b.Number-1, err)
		}
		b = prev
	}

	return b.Header.TimeStamp, nil
}
