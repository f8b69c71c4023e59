package database

import (
	"github.com/taucoin/blockchain/foundation/blockchain/pot"
)

// Consensus constants every node agrees on.
const (
	MaxBlockTxSize     = 50  // Maximum number of transactions in a block.
	TxExpirationHeight = 144 // Number of blocks a transaction stays valid for.
	MaxTimeDrift       = 60  // Allowed clock difference in seconds.

	// TxMaxExpireTime is the largest expire time a transaction may ask for.
	TxMaxExpireTime = TxExpirationHeight * pot.BlockTimeInterval

	BlockVersion = 1
	BlockOption  = 1
	TxVersion    = 1
	TxOption     = 1
)

// GenesisHash is the well known header hash of block #0.
const GenesisHash = "fbc608d4e9a8c31576df9065d55289465c4be9f7"
