// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/taucoin/blockchain/business/web/errs"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
	"github.com/taucoin/blockchain/foundation/web"
	"go.uber.org/zap"
)

// maxHashesAnswer bounds the hashes returned by one call.
const maxHashesAnswer = chainsync.DefaultMaxHashesAsk

// maxBlocksAnswer bounds the blocks returned by one call.
const maxBlocksAnswer = chainsync.DefaultMaxBlocksAsk

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	Queue *chainsync.SyncQueue
}

// SubmitPeer is called by a node so they can be added to the known peer list.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var p peer.Peer
	if err := web.Decode(r, &p); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	if p.Host == "" {
		return errs.NewTrustedf(http.StatusBadRequest, "peer host is required")
	}

	if !h.State.AddKnownPeer(p) {
		h.Log.Infow("adding peer", "traceid", v.TraceID, "host", p.Host)
	}

	return web.Respond(ctx, w, nil, http.StatusOK)
}

// Status returns the chain this node holds.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveStatus(), http.StatusOK)
}

// Hashes returns the main chain hashes starting at a block number.
func (h Handlers) Hashes(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	count, err := strconv.Atoi(web.Param(r, "count"))
	if err != nil || count <= 0 {
		return errs.NewTrustedf(http.StatusBadRequest, "count must be positive")
	}
	count = min(count, maxHashesAnswer)

	hashes := h.State.HashesStartFromBlock(from, count)

	resp := make([]hexutil.Bytes, len(hashes))
	for i, hash := range hashes {
		resp[i] = hash
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByNumber returns all the main chain blocks in the range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	if fromStr == "latest" || fromStr == "" {
		fromStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	toStr := web.Param(r, "to")
	if toStr == "latest" || toStr == "" {
		toStr = fmt.Sprintf("%d", state.QueryLastest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrustedf(http.StatusBadRequest, "from is greater than to")
	}
	if from != state.QueryLastest && to-from >= maxBlocksAnswer {
		to = from + maxBlocksAnswer - 1
	}

	blocks := h.State.QueryBlocksByNumber(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	msgs := make([]peer.BlockMsg, len(blocks))
	for i, block := range blocks {
		msgs[i] = peer.NewBlockMsg(block)
	}

	return web.Respond(ctx, w, msgs, http.StatusOK)
}

// ProposeBlock takes a block a peer just forged and hands it to the sync
// queue for import.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var msg peer.BlockMsg
	if err := web.Decode(r, &msg); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	block, err := msg.ToBlock()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("propose block", "traceid", v.TraceID, "from", msg.From, "blk", block.ShortDescr())

	if err := h.Queue.AddNew(block, msg.From); err != nil {
		return errs.NewTrusted(err, http.StatusNotAcceptable)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "block queued",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitNodeTransaction adds new node transactions to the mempool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var msg peer.TxMsg
	if err := web.Decode(r, &msg); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	tx, err := msg.ToTransaction()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add tran", "traceid", v.TraceID, "tx", tx.HashHex(), "amount", tx.Amount, "fee", tx.Fee)

	if added := h.State.UpsertNodeTransactions([]*database.Transaction{tx}); len(added) == 0 {
		return errs.NewTrustedf(http.StatusBadRequest, "transaction not accepted")
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transactions added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// PoolTransactions returns the pending transactions paying at least the
// requested fee.
func (h Handlers) PoolTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	limit := database.MaxBlockTxSize
	if s := r.URL.Query().Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		limit = n
	}

	var minFee uint64
	if s := r.URL.Query().Get("minfee"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		minFee = n
	}

	txs := h.State.RetrievePoolTransactions(limit, minFee)

	msgs := make([]peer.TxMsg, len(txs))
	for i, tx := range txs {
		msgs[i] = peer.NewTxMsg(tx)
	}

	return web.Respond(ctx, w, msgs, http.StatusOK)
}
