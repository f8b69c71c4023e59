package state

import (
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// AddKnownPeer provides the ability to add a new peer.
func (s *State) AddKnownPeer(peer peer.Peer) bool {
	return s.knownPeers.Add(peer)
}

// RemoveKnownPeer removes a peer that misbehaved or went away.
func (s *State) RemoveKnownPeer(peer peer.Peer) {
	s.knownPeers.Remove(peer)
}

// UpdatePeerStatus records the chain a known peer reported.
func (s *State) UpdatePeerStatus(p peer.Peer, status peer.PeerStatus) {
	s.knownPeers.UpdateStatus(p, status)
}
