package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
)

// ErrNoPeers is returned when a request needs a peer and none is known.
var ErrNoPeers = errors.New("no peers available")

// =============================================================================
// These methods implement the chainsync.RequestManager interface.

// ChangeSyncState records the state the sync manager moved to.
func (w *Worker) ChangeSyncState(s chainsync.SyncState) {
	old := chainsync.SyncState(w.syncState.Swap(int32(s)))
	if old != s {
		w.evHandler("worker: ChangeSyncState: %s -> %s", old, s)
	}
}

// RequestChainInfo refreshes the peer statuses and returns the chain of the
// heaviest peer.
func (w *Worker) RequestChainInfo(ctx context.Context) (chainsync.ChainInfo, error) {
	w.Sync()

	p, status, found := w.state.RetrieveHeaviestPeer()
	if !found {
		return chainsync.ChainInfo{}, ErrNoPeers
	}

	info := chainsync.ChainInfo{
		Peer:              p.Host,
		Height:            status.Height,
		PreviousBlockHash: status.PreviousBlockHash,
		CurrentBlockHash:  status.CurrentBlockHash,
		TotalDifficulty:   status.Difficulty(),
		MedianFee:         status.MedianFee,
	}

	return info, nil
}

// RequestHashes asks the peer for count chain hashes starting at from.
func (w *Worker) RequestHashes(ctx context.Context, host string, from uint64, count int) ([][]byte, error) {
	url := fmt.Sprintf("%s/hashes/%d/%d", fmt.Sprintf(w.baseURL, host), from, count)

	var resp []hexutil.Bytes
	if err := w.send(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	hashes := make([][]byte, len(resp))
	for i, h := range resp {
		hashes[i] = h
	}

	return hashes, nil
}

// RequestBlocks asks the peer for the chain blocks numbered from to to.
func (w *Worker) RequestBlocks(ctx context.Context, host string, from uint64, to uint64) ([]*database.Block, error) {
	url := fmt.Sprintf("%s/block/list/%d/%d", fmt.Sprintf(w.baseURL, host), from, to)

	var msgs []peer.BlockMsg
	if err := w.send(ctx, http.MethodGet, url, nil, &msgs); err != nil {
		return nil, err
	}

	blocks := make([]*database.Block, 0, len(msgs))
	for _, msg := range msgs {
		block, err := msg.ToBlock()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// RequestPoolTxs asks every known peer for its pending transactions paying
// at least minFee.
func (w *Worker) RequestPoolTxs(ctx context.Context, max int, minFee uint64) ([]*database.Transaction, error) {
	var txs []*database.Transaction

	for _, p := range w.state.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/tx/pool?max=%d&minfee=%d", fmt.Sprintf(w.baseURL, p.Host), max, minFee)

		var msgs []peer.TxMsg
		if err := w.send(ctx, http.MethodGet, url, nil, &msgs); err != nil {
			w.evHandler("worker: RequestPoolTxs: %s: ERROR: %s", p.Host, err)
			continue
		}

		for _, msg := range msgs {
			tx, err := msg.ToTransaction()
			if err != nil {
				w.evHandler("worker: RequestPoolTxs: %s: ERROR: %s", p.Host, err)
				continue
			}
			txs = append(txs, tx)
		}
	}

	return txs, nil
}

// Ban forgets the peer and ignores it for a while.
func (w *Worker) Ban(host string) {
	w.evHandler("worker: Ban: %s", host)

	w.mu.Lock()
	w.banned[host] = time.Now().Add(banDuration)
	w.mu.Unlock()

	w.state.RemoveKnownPeer(peer.New(host))
}

// =============================================================================

// send is a helper function to send an HTTP request to a node.
func (w *Worker) send(ctx context.Context, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
