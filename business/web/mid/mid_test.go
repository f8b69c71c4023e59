package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/taucoin/blockchain/business/web/errs"
	"github.com/taucoin/blockchain/business/web/mid"
	"github.com/taucoin/blockchain/foundation/web"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type payload struct {
	Host string `json:"host" validate:"required"`
}

func newApp() *web.App {
	log := zap.NewNop().Sugar()

	app := web.NewApp(make(chan os.Signal, 1), mid.Logger(log), mid.Errors(log), mid.Metrics(), mid.Panics())

	app.Handle(http.MethodGet, "v1", "/echo/:name", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, map[string]string{"name": web.Param(r, "name")}, http.StatusOK)
	})
	app.Handle(http.MethodPost, "v1", "/peers", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var p payload
		if err := web.Decode(r, &p); err != nil {
			return err
		}
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	})
	app.Handle(http.MethodGet, "v1", "/trusted", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.NewTrusted(errors.New("not here"), http.StatusNotFound)
	})
	app.Handle(http.MethodGet, "v1", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})

	return app
}

func Test_Middleware(t *testing.T) {
	t.Log("Given the need to serve requests through the middleware chain.")
	{
		app := newApp()

		tests := []struct {
			name   string
			method string
			path   string
			body   string
			status int
			want   string
		}{
			{"param", http.MethodGet, "/v1/echo/alice", "", http.StatusOK, `"alice"`},
			{"valid body", http.MethodPost, "/v1/peers", `{"host":"localhost:9080"}`, http.StatusNoContent, ""},
			{"missing field", http.MethodPost, "/v1/peers", `{}`, http.StatusBadRequest, `"host"`},
			{"trusted error", http.MethodGet, "/v1/trusted", "", http.StatusNotFound, "not here"},
			{"panic", http.MethodGet, "/v1/panic", "", http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)},
		}

		for testID, tt := range tests {
			t.Logf("\tTest %d:\tWhen handling %s.", testID, tt.name)
			{
				r := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				w := httptest.NewRecorder()
				app.ServeHTTP(w, r)

				if w.Code != tt.status {
					t.Fatalf("\t%s\tTest %d:\tShould get status %d, got %d: %s", failed, testID, tt.status, w.Code, w.Body.String())
				}
				t.Logf("\t%s\tTest %d:\tShould get status %d.", success, testID, tt.status)

				if !strings.Contains(w.Body.String(), tt.want) {
					t.Fatalf("\t%s\tTest %d:\tShould find %s in %s.", failed, testID, tt.want, w.Body.String())
				}
				t.Logf("\t%s\tTest %d:\tShould get the expected body.", success, testID)

				if tt.status >= http.StatusBadRequest {
					var er errs.Response
					if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Error == "" {
						t.Fatalf("\t%s\tTest %d:\tShould get an error document: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould get an error document.", success, testID)
				}
			}
		}
	}
}
