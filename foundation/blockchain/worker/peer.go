package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// peerOperations handles finding new peers.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.runPeersOperation()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation refreshes the peer statuses and lets the peers know this
// node is available to chat.
func (w *Worker) runPeersOperation() {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	w.Sync()

	host := peer.New(w.state.RetrieveHost())
	for _, p := range w.state.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/peers", fmt.Sprintf(w.baseURL, p.Host))
		if err := w.send(context.Background(), http.MethodPost, url, host, nil); err != nil {
			w.evHandler("worker: runPeersOperation: addPeer: %s: ERROR: %s", p.Host, err)
		}
	}
}

// addNewPeers takes the list of known peers and makes sure they are included
// in the nodes list of know peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, p := range knownPeers {

		// Don't add this running node to the known peer list.
		if p.Match(w.state.RetrieveHost()) {
			continue
		}

		if w.isBanned(p.Host) {
			continue
		}

		if w.state.AddKnownPeer(p) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", p.Host)
		}
	}
}
