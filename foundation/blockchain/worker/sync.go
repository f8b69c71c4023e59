package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// Sync refreshes the chain status of every known peer. Peers that can't be
// reached or that run a different chain are forgotten.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	genesisHash := w.state.RetrieveStatus().GenesisHash

	for _, p := range w.state.RetrieveKnownPeers() {
		status, err := w.requestPeerStatus(context.Background(), p)
		if err != nil {
			w.evHandler("worker: sync: queryPeerStatus: %s: ERROR: %s", p.Host, err)
			w.state.RemoveKnownPeer(p)
			continue
		}

		if !bytes.Equal(status.GenesisHash, genesisHash) {
			w.evHandler("worker: sync: %s: genesis[%s]: runs another chain", p.Host, status.GenesisHash)
			w.state.RemoveKnownPeer(p)
			continue
		}

		w.state.UpdatePeerStatus(p, status)
		w.evHandler("worker: sync: %s: height[%d]: td[%s]", p.Host, status.Height, status.Difficulty())

		// Add new peers to this nodes list.
		w.addNewPeers(status.KnownPeers)
	}
}

// requestPeerStatus asks the peer for the chain it holds.
func (w *Worker) requestPeerStatus(ctx context.Context, p peer.Peer) (peer.PeerStatus, error) {
	url := fmt.Sprintf("%s/status", fmt.Sprintf(w.baseURL, p.Host))

	var status peer.PeerStatus
	if err := w.send(ctx, http.MethodGet, url, nil, &status); err != nil {
		return peer.PeerStatus{}, err
	}

	return status, nil
}
