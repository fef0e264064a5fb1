package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/handler"
	"github.com/faucetdb/basin/internal/server/middleware"
	"github.com/faucetdb/basin/internal/service"
	"github.com/faucetdb/basin/internal/webhook"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	MaxBodySize     int64 // bytes
	APIKeyHeader    string
	RateLimit       middleware.RateLimitOptions
	// TrustedProxies may set the client address through X-Forwarded-For
	// or X-Real-IP. Empty means the socket address is always used.
	TrustedProxies []netip.Prefix
	// LoginPerMinute bounds admin login attempts per client IP.
	LoginPerMinute int
	Version        string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		MaxBodySize:     10 * 1024 * 1024, // 10MB
		APIKeyHeader:    "X-API-Key",
		RateLimit:       middleware.RateLimitOptions{IPPerMinute: 60, InternalHeader: "X-Basin-Internal"},
		LoginPerMinute:  10,
		Version:         "dev",
	}
}

// ConfigFromYAML maps the file configuration onto a server Config.
func ConfigFromYAML(cfg *config.YAMLConfig, version string) (Config, error) {
	out := DefaultConfig()
	out.Host = cfg.Server.Host
	out.Port = cfg.Server.Port
	if cfg.Server.ShutdownTimeout > 0 {
		out.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	if len(cfg.Server.CORS.Origins) > 0 {
		out.CORSOrigins = cfg.Server.CORS.Origins
	}
	if len(cfg.Server.CORS.Methods) > 0 {
		out.CORSMethods = cfg.Server.CORS.Methods
	}
	if cfg.Server.MaxBodySize != "" {
		n, err := config.ParseSize(cfg.Server.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("server.max_body_size: %w", err)
		}
		out.MaxBodySize = n
	}
	if cfg.Auth.APIKeyHeader != "" {
		out.APIKeyHeader = cfg.Auth.APIKeyHeader
	}
	out.RateLimit = middleware.RateLimitOptions{
		IPPerMinute:    cfg.RateLimit.IPPerMinute,
		InternalHeader: cfg.RateLimit.InternalHeader,
		InternalSecret: cfg.RateLimit.InternalSecret,
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return Config{}, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	out.TrustedProxies = proxies
	if version != "" {
		out.Version = version
	}
	return out, nil
}

// Deps are the services the server routes to. The server starts and stops
// the dispatcher and analytics recorder along with itself.
type Deps struct {
	Store      *config.Store
	Conn       connector.Connector
	Auth       *service.AuthService
	Models     *service.ModelService
	Data       *data.Service
	Webhooks   *service.WebhookService
	Dispatcher *webhook.Dispatcher
	Analytics  *service.AnalyticsRecorder
}

// Server is the top-level HTTP server for Basin. It owns the Chi router and
// the background workers behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	limiter    *middleware.Limiter
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: middleware.NewLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TrustedRealIP(s.cfg.TrustedProxies))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   s.cfg.CORSMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI document (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.deps.Models, s.cfg.Version).ServeSpec)

	// --- Metadata API ---
	r.Route("/api/v1/system", func(r chi.Router) {
		sysHandler := handler.NewSystemHandler(s.deps.Store, s.deps.Auth, s.deps.Models, s.deps.Webhooks)

		// Login is unauthenticated and throttled per IP; logout is a no-op.
		r.With(middleware.RateLimit(s.cfg.LoginPerMinute)).Post("/admin/session", sysHandler.Login)
		r.Delete("/admin/session", sysHandler.Logout)

		// Everything else requires an admin session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(s.deps.Auth))
			r.Use(middleware.RequireAdmin())

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
	})

	// --- Data API ---
	r.Route("/data/{table}", func(r chi.Router) {
		r.Use(middleware.DataAuth(s.deps.Auth, middleware.AuthOptions{
			APIKeyHeader: s.cfg.APIKeyHeader,
			TableParam:   "table",
			Limiter:      s.limiter,
		}))
		// Only authenticated requests reach analytics.
		if s.deps.Analytics != nil {
			r.Use(middleware.Analytics(s.deps.Analytics, "table"))
		}

		dataHandler := handler.NewDataHandler(s.deps.Data)
		r.Get("/", dataHandler.List)
		r.Post("/", dataHandler.Create)
		r.Get("/schema", dataHandler.Schema)
		r.Get("/{id}", dataHandler.Get)
		r.Put("/{id}", dataHandler.Update)
		r.Patch("/{id}", dataHandler.Update)
		r.Delete("/{id}", dataHandler.Delete)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the metadata store and
// the backing store both answer, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	probe := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = "error: " + err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	probe("metadata", s.deps.Store.Ping)
	probe("database", s.deps.Conn.Ping)

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Start launches the webhook workers and the analytics writer.
func (s *Server) Start() {
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Start()
	}
	if s.deps.Analytics != nil {
		s.deps.Analytics.Start()
	}
}

// Stop drains the background workers. Pending webhook deliveries and
// analytics entries are flushed before it returns.
func (s *Server) Stop() {
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Close()
	}
	if s.deps.Analytics != nil {
		s.deps.Analytics.Shutdown()
	}
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and background workers before closing the backing store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.Start()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "version", s.cfg.Version)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		s.Stop()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.Stop()
	if cerr := s.deps.Conn.Disconnect(); cerr != nil {
		s.logger.Warn("close backing store", "error", cerr)
	}
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
