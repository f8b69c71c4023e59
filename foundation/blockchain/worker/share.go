package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// shareTxOperations handles sharing new transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case tx := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(tx)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// runShareTxOperation shares a new transaction with the known peers.
func (w *Worker) runShareTxOperation(tx *database.Transaction) {
	w.evHandler("worker: runShareTxOperation: started")
	defer w.evHandler("worker: runShareTxOperation: completed")

	msg := peer.NewTxMsg(tx)
	for _, p := range w.state.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/tx/submit", fmt.Sprintf(w.baseURL, p.Host))
		if err := w.send(context.Background(), http.MethodPost, url, msg, nil); err != nil {
			w.evHandler("worker: runShareTxOperation: WARNING: %s", err)
		}
	}
}

// =============================================================================

// shareBlockOperations handles proposing forged blocks to the peers.
func (w *Worker) shareBlockOperations() {
	w.evHandler("worker: shareBlockOperations: G started")
	defer w.evHandler("worker: shareBlockOperations: G completed")

	for {
		select {
		case block := <-w.blockSharing:
			if !w.isShutdown() {
				w.runShareBlockOperation(block)
			}
		case <-w.shut:
			w.evHandler("worker: shareBlockOperations: received shut signal")
			return
		}
	}
}

// runShareBlockOperation proposes the block to the known peers.
func (w *Worker) runShareBlockOperation(block *database.Block) {
	w.evHandler("worker: runShareBlockOperation: blk[%s]: started", block.ShortDescr())
	defer w.evHandler("worker: runShareBlockOperation: completed")

	msg := peer.NewBlockMsg(block)
	msg.From = w.state.RetrieveHost()

	for _, p := range w.state.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/block/propose", fmt.Sprintf(w.baseURL, p.Host))
		if err := w.send(context.Background(), http.MethodPost, url, msg, nil); err != nil {
			w.evHandler("worker: runShareBlockOperation: %s: WARNING: %s", p.Host, err)
		}
	}
}
