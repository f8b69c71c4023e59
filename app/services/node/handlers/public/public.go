// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/taucoin/blockchain/business/web/errs"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/database"
	"github.com/taucoin/blockchain/foundation/blockchain/forger"
	"github.com/taucoin/blockchain/foundation/blockchain/peer"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
	"github.com/taucoin/blockchain/foundation/events"
	"github.com/taucoin/blockchain/foundation/nameservice"
	"github.com/taucoin/blockchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of wallet and explorer endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	State  *state.State
	NS     *nameservice.NameService
	WS     websocket.Upgrader
	Evts   *events.Events
	Sync   *chainsync.SyncManager
	Forger *forger.Forger
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new user transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
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

	h.Log.Infow("add user tran", "traceid", v.TraceID, "tx", tx.HashHex(), "to", tx.Receiver(), "amount", tx.Amount, "fee", tx.Fee)
	if err := h.State.UpsertWalletTransaction(tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
		Hash   string `json:"hash"`
	}{
		Status: "transactions added to mempool",
		Hash:   tx.HashHex(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	var filter common.Address
	if acct != "" {
		addr, err := database.ToAddress(acct)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		filter = addr
	}

	mempool := h.State.RetrieveMempool()

	trans := make([]tx, 0, len(mempool))
	for _, tran := range mempool {
		t := toTx(h.NS, tran)
		if acct != "" && t.From != filter && tran.Receiver() != filter {
			continue
		}
		trans = append(trans, t)
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the committed state of one account, or of every named
// account when none is given.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var addrs []common.Address

	switch acct := web.Param(r, "account"); acct {
	case "":
		for addr := range h.NS.Copy() {
			addrs = append(addrs, addr)
		}

	default:
		addr, err := database.ToAddress(acct)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		addrs = append(addrs, addr)
	}

	acts := make([]account, 0, len(addrs))
	for _, addr := range addrs {
		as, err := h.State.QueryAccount(addr)
		if err != nil {
			if errors.Is(err, state.ErrAccountNotFound) {
				continue
			}
			return err
		}

		act := account{
			Account:     addr,
			Name:        h.NS.Lookup(addr),
			Balance:     as.Balance(),
			ForgePower:  as.ForgePower(),
			Associates:  as.Associates(),
			StateHeight: as.StateHeight(),
		}
		if witness, ok := as.Witness(); ok {
			act.Witness = &witness
		}
		acts = append(acts, act)
	}

	if len(acts) == 0 {
		return errs.NewTrusted(state.ErrAccountNotFound, http.StatusNotFound)
	}

	return web.Respond(ctx, w, acts, http.StatusOK)
}

// BlocksByNumber returns the main chain blocks in the range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := parseNumber(web.Param(r, "from"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := parseNumber(web.Param(r, "to"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrustedf(http.StatusBadRequest, "from is greater than to")
	}

	dbBlocks := h.State.QueryBlocksByNumber(from, to)
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, b := range dbBlocks {
		blocks[i] = toBlock(h.NS, b)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// ChainInfo returns a summary of the chain and of what the node is doing.
func (h Handlers) ChainInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	best := h.State.BestBlock()

	info := chainInfo{
		Height:          best.Number,
		BestBlock:       best.HashHex(),
		TotalDifficulty: h.State.TotalDifficulty().String(),
		Uncommitted:     h.State.QueryMempoolLength(),
		Peers:           len(h.State.RetrieveKnownPeers()),
	}

	if h.Sync != nil {
		info.SyncState = h.Sync.State().String()
		info.SyncDone = h.Sync.IsSyncDone()
	}
	if h.Forger != nil {
		info.Forging = h.Forger.IsForging()
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// StartForging starts a forging session for the node's account. The amount
// is the number of blocks to forge, forever when missing.
func (h Handlers) StartForging(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Forger == nil {
		return errs.NewTrustedf(http.StatusConflict, "node has no forging key")
	}

	amount := forger.Unlimited
	if s := web.Param(r, "amount"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return errs.NewTrustedf(http.StatusBadRequest, "amount must be positive")
		}
		amount = n
	}

	resp := struct {
		Started bool `json:"started"`
	}{
		Started: h.Forger.Start(amount),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// StopForging stops the running forging session.
func (h Handlers) StopForging(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.Forger == nil {
		return errs.NewTrustedf(http.StatusConflict, "node has no forging key")
	}

	h.Forger.Stop()

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// =============================================================================

func parseNumber(s string) (uint64, error) {
	if s == "" || s == "latest" {
		return state.QueryLastest, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
