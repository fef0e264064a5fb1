package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/connector/sqlite"
	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/schema"
	"github.com/faucetdb/basin/internal/server/middleware"
	"github.com/faucetdb/basin/internal/service"
	"github.com/faucetdb/basin/internal/webhook"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	authSvc  *service.AuthService
	models   *service.ModelService
	webhooks *service.WebhookService
	handler  *SystemHandler
	router   chi.Router
}

// newTestEnv creates a fresh environment with an in-memory metadata store,
// an in-memory SQLite backing store and a router with the system and data
// routes mounted. Webhook destinations on loopback are allowed.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, webhook.Options{AllowPrivate: true, Timeout: 5 * time.Second})
}

func newTestEnvWith(t *testing.T, hookOpts webhook.Options) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })

	authSvc := service.NewAuthService(store, testJWTSecret, time.Hour, logger)
	models := service.NewModelService(store, schema.New(conn, logger), logger)
	webhooks := service.NewWebhookService(store, webhook.New(store, logger, hookOpts))
	sysHandler := NewSystemHandler(store, authSvc, models, webhooks)
	dataHandler := NewDataHandler(data.New(conn, store, nil, nil, logger, data.DefaultOptions()))

	// Routes are mounted without the auth middleware. Data requests pick
	// their principal from test headers instead.
	r := chi.NewRouter()
	r.Route("/api/v1/system", func(r chi.Router) {
		r.Post("/admin/session", sysHandler.Login)
		r.Delete("/admin/session", sysHandler.Logout)
		r.Get("/admin", sysHandler.ListAdmins)
		r.Post("/admin", sysHandler.CreateAdmin)

		r.Get("/model", sysHandler.ListModels)
		r.Post("/model", sysHandler.CreateModel)
		r.Get("/model/{table}", sysHandler.GetModel)
		r.Put("/model/{table}", sysHandler.UpdateModel)
		r.Delete("/model/{table}", sysHandler.DeleteModel)
		r.Post("/model/{table}/sync", sysHandler.SyncModel)
		r.Get("/model/{table}/drift", sysHandler.ModelDrift)
		r.Post("/model/{table}/field", sysHandler.AddField)
		r.Put("/model/{table}/field/{field}", sysHandler.UpdateField)
		r.Delete("/model/{table}/field/{field}", sysHandler.DeleteField)
		r.Post("/model/{table}/relationship", sysHandler.AddRelationship)
		r.Delete("/model/{table}/relationship/{name}", sysHandler.DeleteRelationship)

		r.Get("/api-key", sysHandler.ListAPIKeys)
		r.Post("/api-key", sysHandler.CreateAPIKey)
		r.Get("/api-key/{keyId}", sysHandler.GetAPIKey)
		r.Put("/api-key/{keyId}", sysHandler.UpdateAPIKey)
		r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)

		r.Get("/webhook", sysHandler.ListWebhooks)
		r.Post("/webhook", sysHandler.CreateWebhook)
		r.Get("/webhook/{id}", sysHandler.GetWebhook)
		r.Put("/webhook/{id}", sysHandler.UpdateWebhook)
		r.Delete("/webhook/{id}", sysHandler.DeleteWebhook)
		r.Post("/webhook/{id}/test", sysHandler.TestWebhook)

		r.Get("/analytics", sysHandler.Analytics)
	})
	r.Route("/data/{table}", func(r chi.Router) {
		r.Use(testPrincipal)
		r.Get("/", dataHandler.List)
		r.Post("/", dataHandler.Create)
		r.Get("/schema", dataHandler.Schema)
		r.Get("/{id}", dataHandler.Get)
		r.Put("/{id}", dataHandler.Update)
		r.Patch("/{id}", dataHandler.Update)
		r.Delete("/{id}", dataHandler.Delete)
	})

	return &testEnv{
		store:    store,
		authSvc:  authSvc,
		models:   models,
		webhooks: webhooks,
		handler:  sysHandler,
		router:   r,
	}
}

// testPrincipal attaches X-Test-Admin or X-Test-User as the request principal.
func testPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p *model.Principal
		if r.Header.Get("X-Test-Admin") != "" {
			p = model.SystemPrincipal()
		} else if raw := r.Header.Get("X-Test-User"); raw != "" {
			id, _ := strconv.ParseInt(raw, 10, 64)
			p = &model.Principal{UserID: &id}
		}
		if p != nil {
			r = r.WithContext(middleware.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	admin, err := e.authSvc.CreateAdmin(context.Background(), service.AdminInput{
		Email:    "admin@example.com",
		Name:     "Test Admin",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedModel creates and syncs def.
func (e *testEnv) seedModel(t *testing.T, def *model.ModelDefinition) {
	t.Helper()
	if _, err := e.models.Create(context.Background(), def); err != nil {
		t.Fatalf("seedModel %s: %v", def.TableName, err)
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
