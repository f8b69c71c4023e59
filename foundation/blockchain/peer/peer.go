// Package peer maintains the peer related information such as the set
// of know peers and the chain they last reported.
package peer

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host string
}

// New contructs a new info value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents the chain information a peer reports about itself.
type PeerStatus struct {
	GenesisHash       hexutil.Bytes `json:"genesis_hash"`
	Height            uint64        `json:"height"`
	PreviousBlockHash hexutil.Bytes `json:"previous_block_hash"`
	CurrentBlockHash  hexutil.Bytes `json:"current_block_hash"`
	TotalDifficulty   *hexutil.Big  `json:"total_difficulty"`
	MedianFee         uint64        `json:"median_fee"`
	KnownPeers        []Peer        `json:"known_peers"`
}

// Difficulty returns the total difficulty or zero when none was reported.
func (ps PeerStatus) Difficulty() *big.Int {
	if ps.TotalDifficulty == nil {
		return new(big.Int)
	}
	return ps.TotalDifficulty.ToInt()
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]*PeerStatus
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]*PeerStatus),
	}
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = nil
		return true
	}

	return false
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Copy returns a list of the known peers.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// UpdateStatus records the chain a known peer reported.
func (ps *PeerSet) UpdateStatus(peer Peer, status PeerStatus) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; !exists {
		return
	}
	ps.set[peer] = &status
}

// Status returns the chain the peer reported last.
func (ps *PeerSet) Status(peer Peer) (PeerStatus, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	status := ps.set[peer]
	if status == nil {
		return PeerStatus{}, false
	}
	return *status, true
}

// Heaviest returns the peer that reported the largest total difficulty.
func (ps *PeerSet) Heaviest(host string) (Peer, PeerStatus, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var (
		best   Peer
		status PeerStatus
		found  bool
	)

	for peer, st := range ps.set {
		if st == nil || peer.Match(host) {
			continue
		}
		if !found || st.Difficulty().Cmp(status.Difficulty()) > 0 {
			best, status, found = peer, *st, true
		}
	}

	return best, status, found
}
