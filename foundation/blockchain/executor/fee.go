package executor

import (
	"errors"
	"math/big"
)

// Share weights of a transaction fee.
const (
	integrityShare  = 4
	receiveShare    = 1
	lastWitShare    = 1
	currentWitShare = 1
	lastAssShare    = 1
)

// ErrDistribution is returned when the parts of a fee do not add up to the
// fee itself.
var ErrDistribution = errors.New("fee distribution does not match the fee")

// FeeDistribution is the split of one transaction fee.
type FeeDistribution struct {
	Receive    *big.Int // Kept out of circulation.
	LastWit    *big.Int // Paid to the sender's previous witness.
	CurrentWit *big.Int // Paid to the forger, absorbs the remainder.
	LastAssoc  *big.Int // Split over the sender's associated addresses.
}

// DistributeFee splits fee over the four shares. The forger's share
// absorbs fee % 4.
func DistributeFee(fee *big.Int) (FeeDistribution, error) {
	if receiveShare+lastWitShare+currentWitShare+lastAssShare != integrityShare {
		return FeeDistribution{}, ErrDistribution
	}

	stake, residual := new(big.Int).QuoRem(fee, big.NewInt(integrityShare), new(big.Int))

	fd := FeeDistribution{
		Receive:    new(big.Int).Mul(stake, big.NewInt(receiveShare)),
		LastWit:    new(big.Int).Mul(stake, big.NewInt(lastWitShare)),
		CurrentWit: new(big.Int).Mul(stake, big.NewInt(currentWitShare)),
		LastAssoc:  new(big.Int).Mul(stake, big.NewInt(lastAssShare)),
	}
	fd.CurrentWit.Add(fd.CurrentWit, residual)

	sum := new(big.Int).Add(fd.Receive, fd.LastWit)
	sum.Add(sum, fd.CurrentWit)
	sum.Add(sum, fd.LastAssoc)
	if sum.Cmp(fee) != 0 {
		return FeeDistribution{}, ErrDistribution
	}

	return fd, nil
}

// DistributeAssociatedFee splits fee evenly over count associates. The last
// associate absorbs the remainder. The slice holds one share per associate.
func DistributeAssociatedFee(count int, fee *big.Int) ([]*big.Int, error) {
	if count == 0 {
		return nil, ErrDistribution
	}

	average, residual := new(big.Int).QuoRem(fee, big.NewInt(int64(count)), new(big.Int))

	shares := make([]*big.Int, count)
	sum := new(big.Int)
	for i := range shares {
		shares[i] = new(big.Int).Set(average)
		if i == count-1 {
			shares[i].Add(shares[i], residual)
		}
		sum.Add(sum, shares[i])
	}

	if sum.Cmp(fee) != 0 {
		return nil, ErrDistribution
	}

	return shares, nil
}
