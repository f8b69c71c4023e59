// Package pot implements the proof of transaction consensus math. Every
// function is pure so the results can be reproduced bit for bit by any
// node validating the chain.
package pot

import (
	"math"
	"math/big"

	"github.com/taucoin/blockchain/foundation/blockchain/signature"
)

// Consensus constants shared by block validation and forging.
const (
	BlockTimeInterval = 300 // Target spacing between blocks in seconds.
	MaxRatio          = 335 // Upper clamp on the average spacing when scaling up.
	MinRatio          = 265 // Lower clamp on the average spacing when decaying.
	AncestorSpan      = 3   // Number of blocks the average spacing is measured over.
)

var (
	// InitialBaseTarget is used for the first blocks of the chain.
	InitialBaseTarget, _ = new(big.Int).SetString("369D0369D036978", 16)

	diffAdjustNumerator     = new(big.Int).Lsh(big.NewInt(1), 64)
	diffAdjustNumeratorHalf = float64(uint64(1) << 32)
	diffAdjustNumeratorCoe  = new(big.Int).Lsh(big.NewInt(1), 59)

	// decay = lastBT/1875 * (300-avg) * 4 is the 0.64 gamma scaled to the
	// 300 second interval.
	decayDivisor    = big.NewInt(1875)
	decayMultiplier = big.NewInt(4)
)

// Ancestor is the minimal view of a block needed for base target math.
type Ancestor struct {
	Number     uint64
	TimeStamp  int64
	BaseTarget *big.Int
}

// =============================================================================

// RequiredBaseTarget computes the base target for the block that follows
// parent. ancestor is the chain block AncestorSpan blocks below the parent.
func RequiredBaseTarget(parent Ancestor, ancestor Ancestor) *big.Int {
	if parent.Number <= AncestorSpan {
		return new(big.Int).Set(InitialBaseTarget)
	}

	pastTime := parent.TimeStamp - ancestor.TimeStamp
	if pastTime < 0 {
		pastTime = 0
	}
	avg := pastTime / AncestorSpan

	last := parent.BaseTarget

	if avg > BlockTimeInterval {
		ratio := min(avg, MaxRatio)

		bt := new(big.Int).Mul(last, big.NewInt(ratio))
		return bt.Div(bt, big.NewInt(BlockTimeInterval))
	}

	ratio := max(avg, MinRatio)

	dec := new(big.Int).Div(last, decayDivisor)
	dec.Mul(dec, big.NewInt(BlockTimeInterval-ratio))
	dec.Mul(dec, decayMultiplier)

	return new(big.Int).Sub(last, dec)
}

// NextGenerationSignature computes sha256(prevSig || pubkey).
func NextGenerationSignature(prevSig []byte, pubkey []byte) []byte {
	return signature.Sha256(prevSig, pubkey)
}

// MinerTargetValue computes baseTarget * forgingPower * elapsed.
func MinerTargetValue(baseTarget *big.Int, forgingPower *big.Int, elapsed int64) *big.Int {
	target := new(big.Int).Mul(baseTarget, forgingPower)
	return target.Mul(target, big.NewInt(elapsed))
}

// RandomHit converts a generation signature into the hit value a forger has
// to reach. The first 8 bytes are read as an unsigned integer and rebased
// with a logarithm. The float result is multiplied by 1000 and truncated
// before any integer math happens.
func RandomHit(genSig []byte) *big.Int {
	var head [8]byte
	copy(head[:], genSig)

	x := new(big.Int).SetBytes(head[:])
	x.Add(x, big.NewInt(1))
	xf, _ := new(big.Float).SetInt(x).Float64()

	l := math.Abs(math.Log(xf) - 2*math.Log(diffAdjustNumeratorHalf))
	u := int64(l * 1000)

	hit := new(big.Int).Mul(diffAdjustNumeratorCoe, big.NewInt(u))
	return hit.Div(hit, big.NewInt(1000))
}

// CumulativeDifficulty computes prevCD + 2^64 / baseTarget.
func CumulativeDifficulty(prevCD *big.Int, baseTarget *big.Int) *big.Int {
	delta := new(big.Int).Div(diffAdjustNumerator, baseTarget)
	return delta.Add(delta, prevCD)
}

// ForgingTimeInterval returns the smallest number of seconds after the
// parent block at which the target value reaches the hit.
func ForgingTimeInterval(hit *big.Int, baseTarget *big.Int, forgingPower *big.Int) int64 {
	denom := new(big.Int).Mul(baseTarget, forgingPower)
	if denom.Sign() <= 0 {
		return math.MaxInt64
	}

	q, m := new(big.Int).QuoRem(hit, denom, new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return math.MaxInt64
	}

	return max(q.Int64(), 1)
}

// Verify reports whether a forger with the power, waiting elapsed seconds
// after the parent, is allowed to produce a block with this signature.
func Verify(baseTarget *big.Int, forgingPower *big.Int, elapsed int64, genSig []byte) bool {
	if forgingPower == nil || forgingPower.Sign() <= 0 || elapsed <= 0 {
		return false
	}

	target := MinerTargetValue(baseTarget, forgingPower, elapsed)
	return target.Cmp(RandomHit(genSig)) >= 0
}
