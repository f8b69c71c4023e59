package selector

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// fairSelect takes one transaction per sender per round so a single busy
// sender can not fill a block. Inside a round the best fee wins.
var fairSelect = func(m map[common.Address][]*database.Transaction, howMany int) []*database.Transaction {

	/*
		Alice: {Time: 20, Fee: 250},
		       {Time: 10, Fee: 150},
		Bob:   {Time: 20, Fee: 200},
		       {Time: 10, Fee: 75},
		Carol: {Time: 20, Fee: 75},
		       {Time: 10, Fee: 100},
	*/

	// Sort the transactions per sender by time stamp.
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byTime(m[key]))
		}
	}

	/*
		Alice: {Time: 10, Fee: 150},
		       {Time: 20, Fee: 250},
		Bob:   {Time: 10, Fee: 75},
		       {Time: 20, Fee: 200},
		Carol: {Time: 10, Fee: 100},
		       {Time: 20, Fee: 75},
	*/

	// Pick the oldest transaction of every sender. Each iteration represents
	// a new row of selections until all the transactions have been selected.
	var rows [][]*database.Transaction
	for {
		var row []*database.Transaction
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		sort.Sort(byFee(row))
		rows = append(rows, row)
	}

	/*
		0: Alice: {Time: 10, Fee: 150},
		0: Carol: {Time: 10, Fee: 100},
		0: Bob:   {Time: 10, Fee: 75},
		1: Alice: {Time: 20, Fee: 250},
		1: Bob:   {Time: 20, Fee: 200},
		1: Carol: {Time: 20, Fee: 75},
	*/

	final := []*database.Transaction{}
	for _, row := range rows {
		if howMany >= 0 {
			need := howMany - len(final)
			if len(row) >= need {
				final = append(final, row[:need]...)
				break
			}
		}
		final = append(final, row...)
	}

	return final
}
