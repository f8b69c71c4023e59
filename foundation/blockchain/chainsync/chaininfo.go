package chainsync

import (
	"bytes"
	"math/big"
	"sync"
)

// ChainInfo is the best chain a peer reported.
type ChainInfo struct {
	Peer              string
	Height            uint64
	PreviousBlockHash []byte
	CurrentBlockHash  []byte
	TotalDifficulty   *big.Int
	MedianFee         uint64
}

// ChainInfoManager keeps the last chain info received from the network and
// tells subscribers when it changes.
type ChainInfoManager struct {
	mu   sync.RWMutex
	info ChainInfo
	subs []chan ChainInfo
}

// NewChainInfoManager constructs a manager that starts out pointing at the
// genesis block.
func NewChainInfoManager(genesisHash []byte) *ChainInfoManager {
	return &ChainInfoManager{
		info: ChainInfo{
			CurrentBlockHash: genesisHash,
			TotalDifficulty:  new(big.Int),
		},
	}
}

// Current returns a copy of the last chain info.
func (cim *ChainInfoManager) Current() ChainInfo {
	cim.mu.RLock()
	defer cim.mu.RUnlock()

	info := cim.info
	info.TotalDifficulty = new(big.Int).Set(cim.info.TotalDifficulty)

	return info
}

// Update replaces the chain info and reports whether anything changed.
func (cim *ChainInfoManager) Update(info ChainInfo) bool {
	if info.TotalDifficulty == nil {
		info.TotalDifficulty = new(big.Int)
	}

	cim.mu.Lock()
	defer cim.mu.Unlock()

	changed := info.Height != cim.info.Height ||
		!bytes.Equal(info.CurrentBlockHash, cim.info.CurrentBlockHash) ||
		info.TotalDifficulty.Cmp(cim.info.TotalDifficulty) != 0 ||
		info.MedianFee != cim.info.MedianFee
	cim.info = info

	if !changed {
		return false
	}

	for _, ch := range cim.subs {

		// Only the latest value matters to a slow subscriber.
		select {
		case <-ch:
		default:
		}
		ch <- info
	}

	return true
}

// Subscribe returns a channel receiving every change of the chain info.
func (cim *ChainInfoManager) Subscribe() <-chan ChainInfo {
	cim.mu.Lock()
	defer cim.mu.Unlock()

	ch := make(chan ChainInfo, 1)
	cim.subs = append(cim.subs, ch)

	return ch
}
