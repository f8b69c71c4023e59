// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// DefaultPath is where the node looks for the genesis file.
const DefaultPath = "zblock/genesis.json"

// DefaultHash is the header hash of the block built from the file at
// DefaultPath.
const DefaultHash = "efc34d571cbf18ed8309d0dc19329789877ddba6"

// Genesis represents the genesis file.
type Genesis struct {
	Date                time.Time         `json:"date"`
	ChainID             uint16            `json:"chain_id"`             // The chain id represents an unique id for this running instance.
	Version             uint8             `json:"version"`              // Block version of block #0.
	TimeStamp           int64             `json:"timestamp"`            // Unix seconds of block #0.
	PreviousHeaderHash  string            `json:"previous_header_hash"` // Hex, usually empty.
	GeneratorPublicKey  string            `json:"generator_public_key"` // Hex compressed public key.
	BlockSignature      string            `json:"block_signature"`      // Hex r||s, 64 bytes.
	Option              uint8             `json:"option"`
	GenerationSignature string            `json:"generation_signature"` // Hex seed for the first forging round.
	BaseTarget          string            `json:"base_target"`          // Hex base target of block #0.
	Balances            map[string]string `json:"balances"`             // Address to decimal balance.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	if path == "" {
		path = DefaultPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// ToBlock builds block #0 from the file.
func (g Genesis) ToBlock() (*database.Block, error) {
	prev, err := decodeHex(g.PreviousHeaderHash)
	if err != nil {
		return nil, fmt.Errorf("previous header hash: %w", err)
	}

	pub, err := decodeHex(g.GeneratorPublicKey)
	if err != nil {
		return nil, fmt.Errorf("generator public key: %w", err)
	}

	sig, err := decodeHex(g.BlockSignature)
	if err != nil {
		return nil, fmt.Errorf("block signature: %w", err)
	}
	if len(sig) != 0 && len(sig) != 64 {
		return nil, fmt.Errorf("block signature: want 64 bytes, got %d", len(sig))
	}

	genSig, err := decodeHex(g.GenerationSignature)
	if err != nil {
		return nil, fmt.Errorf("generation signature: %w", err)
	}

	baseTarget, err := hexutil.DecodeBig(g.BaseTarget)
	if err != nil {
		return nil, fmt.Errorf("base target: %w", err)
	}

	r, s := new(big.Int), new(big.Int)
	if len(sig) == 64 {
		r.SetBytes(sig[:32])
		s.SetBytes(sig[32:])
	}

	b := database.Block{
		Header: database.BlockHeader{
			Version:            g.Version,
			TimeStamp:          g.TimeStamp,
			PreviousHeaderHash: prev,
			GeneratorPublicKey: pub,
		},
		Number:               0,
		BaseTarget:           baseTarget,
		GenerationSignature:  genSig,
		CumulativeDifficulty: new(big.Int),
		CumulativeFee:        new(big.Int),
		R:                    r,
		S:                    s,
		Option:               g.Option,
	}

	return &b, nil
}

// Premine returns the starting balances.
func (g Genesis) Premine() (map[common.Address]*big.Int, error) {
	premine := make(map[common.Address]*big.Int, len(g.Balances))

	for addr, balance := range g.Balances {
		a, err := database.ToAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", addr, err)
		}

		v, ok := new(big.Int).SetString(balance, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("account %q: invalid balance %q", addr, balance)
		}

		premine[a] = v
	}

	return premine, nil
}

func decodeHex(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}
