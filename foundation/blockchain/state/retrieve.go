package state

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/genesis"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveMempool returns the wire and pending transactions.
func (s *State) RetrieveMempool() []*database.Transaction {
	return append(s.mempool.WireTransactions(), s.mempool.PendingTransactions()...)
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// RetrieveMutableRange returns the number of blocks a reorganization may
// undo.
func (s *State) RetrieveMutableRange() uint64 {
	return s.mutableRange
}

// RetrieveHeaviestPeer returns the known peer that reported the most
// cumulative difficulty.
func (s *State) RetrieveHeaviestPeer() (peer.Peer, peer.PeerStatus, bool) {
	return s.knownPeers.Heaviest(s.host)
}

// RetrieveStatus returns the chain information this node reports to its
// peers.
func (s *State) RetrieveStatus() peer.PeerStatus {
	best := s.BestBlock()

	return peer.PeerStatus{
		GenesisHash:       s.genesisHash,
		Height:            best.Number,
		PreviousBlockHash: best.Header.PreviousHeaderHash,
		CurrentBlockHash:  best.Hash(),
		TotalDifficulty:   (*hexutil.Big)(s.TotalDifficulty()),
		MedianFee:         medianFee(s.RetrieveMempool()),
		KnownPeers:        s.RetrieveKnownPeers(),
	}
}

// RetrievePoolTransactions returns up to max pool transactions paying at
// least minFee, highest fee first.
func (s *State) RetrievePoolTransactions(max int, minFee uint64) []*database.Transaction {
	floor := new(big.Int).SetUint64(minFee)

	var txs []*database.Transaction
	for _, tx := range s.RetrieveMempool() {
		if tx.Fee.Cmp(floor) >= 0 {
			txs = append(txs, tx)
		}
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Fee.Cmp(txs[j].Fee) > 0
	})

	if max > 0 && len(txs) > max {
		txs = txs[:max]
	}

	return txs
}

func medianFee(txs []*database.Transaction) uint64 {
	if len(txs) == 0 {
		return 0
	}

	fees := make([]uint64, len(txs))
	for i, tx := range txs {
		fees[i] = tx.Fee.Uint64()
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })

	return fees[len(fees)/2]
}
