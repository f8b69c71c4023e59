package chainsync

import (
	"context"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
)

// RequestManager represents the behavior required to be implemented by any
// package talking to the peers on behalf of the sync.
type RequestManager interface {
	ChangeSyncState(state SyncState)
	RequestChainInfo(ctx context.Context) (ChainInfo, error)
	RequestHashes(ctx context.Context, peer string, from uint64, count int) ([][]byte, error)
	RequestBlocks(ctx context.Context, peer string, from uint64, to uint64) ([]*database.Block, error)
	RequestPoolTxs(ctx context.Context, max int, minFee uint64) ([]*database.Transaction, error)
	Ban(peer string)
}
