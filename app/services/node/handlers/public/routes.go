package public

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/taucoin/blockchain/foundation/blockchain/chainsync"
	"github.com/taucoin/blockchain/foundation/blockchain/forger"
	"github.com/taucoin/blockchain/foundation/blockchain/state"
	"github.com/taucoin/blockchain/foundation/events"
	"github.com/taucoin/blockchain/foundation/nameservice"
	"github.com/taucoin/blockchain/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log    *zap.SugaredLogger
	State  *state.State
	NS     *nameservice.NameService
	Evts   *events.Events
	Sync   *chainsync.SyncManager
	Forger *forger.Forger
}

// Routes binds all the public routes.
func Routes(app *web.App, cfg Config) {
	pbl := Handlers{
		Log:    cfg.Log,
		State:  cfg.State,
		NS:     cfg.NS,
		WS:     websocket.Upgrader{},
		Evts:   cfg.Evts,
		Sync:   cfg.Sync,
		Forger: cfg.Forger,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/chain/info", pbl.ChainInfo)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByNumber)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list/:account", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
	app.Handle(http.MethodPost, version, "/forging/start", pbl.StartForging)
	app.Handle(http.MethodPost, version, "/forging/start/:amount", pbl.StartForging)
	app.Handle(http.MethodPost, version, "/forging/stop", pbl.StopForging)
}
