// Package selector provides different transaction selecting algorithms used
// when a block is forged.
package selector

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee  = "fee"
	StrategyTime = "time"
	StrategyFair = "fair"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyTime: timeSelect,
	StrategyFair: fairSelect,
}

// Func defines a function that takes the pool of transactions grouped by
// sender and selects howMany of them in an order based on the functions
// strategy. Receiving -1 for howMany must return all the transactions in the
// strategies ordering.
type Func func(transactions map[common.Address][]*database.Transaction, howMany int) []*database.Transaction

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// feeSelect returns the transactions with the highest fee first. Equal fees
// are ordered oldest first.
var feeSelect = func(m map[common.Address][]*database.Transaction, howMany int) []*database.Transaction {
	txs := flatten(m)
	sort.Sort(byFee(txs))

	return limit(txs, howMany)
}

// timeSelect returns the oldest transactions first.
var timeSelect = func(m map[common.Address][]*database.Transaction, howMany int) []*database.Transaction {
	txs := flatten(m)
	sort.Sort(byTime(txs))

	return limit(txs, howMany)
}

func flatten(m map[common.Address][]*database.Transaction) []*database.Transaction {
	var txs []*database.Transaction
	for _, group := range m {
		txs = append(txs, group...)
	}
	return txs
}

func limit(txs []*database.Transaction, howMany int) []*database.Transaction {
	if howMany < 0 || howMany >= len(txs) {
		return txs
	}
	return txs[:howMany]
}

// =============================================================================

// byTime provides sorting support by the transaction time stamp.
type byTime []*database.Transaction

// Len returns the number of transactions in the list.
func (bt byTime) Len() int {
	return len(bt)
}

// Less helps to sort the list by time stamp in ascending order. Ties are
// broken by hash so the order is the same on every call.
func (bt byTime) Less(i, j int) bool {
	if bt[i].TimeStamp != bt[j].TimeStamp {
		return bt[i].TimeStamp < bt[j].TimeStamp
	}
	return bt[i].HashHex() < bt[j].HashHex()
}

// Swap moves transactions in the order of the time stamp.
func (bt byTime) Swap(i, j int) {
	bt[i], bt[j] = bt[j], bt[i]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []*database.Transaction

// Len returns the number of transactions in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward.
func (bf byFee) Less(i, j int) bool {
	switch bf[i].Fee.Cmp(bf[j].Fee) {
	case 1:
		return true
	case -1:
		return false
	}
	return byTime(bf).Less(i, j)
}

// Swap moves transactions in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
