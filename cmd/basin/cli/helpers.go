package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/connector"
	"github.com/faucetdb/basin/internal/connector/mssql"
	"github.com/faucetdb/basin/internal/connector/mysql"
	"github.com/faucetdb/basin/internal/connector/postgres"
	"github.com/faucetdb/basin/internal/connector/sqlite"
	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/schema"
	"github.com/faucetdb/basin/internal/service"
	"github.com/faucetdb/basin/internal/validate"
	"github.com/faucetdb/basin/internal/webhook"
)

// jwtSecretSetting is the settings key holding the generated signing
// secret when auth.jwt_secret is not configured.
const jwtSecretSetting = "auth.jwt_secret"

// resolveJWTSecret returns the configured secret, or the one persisted in
// the config store, generating it on first use so tokens survive restarts.
func resolveJWTSecret(ctx context.Context, store *config.Store, configured string, logger *slog.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}
	secret, created, err := store.EnsureSecret(ctx, jwtSecretSetting)
	if err != nil {
		return "", fmt.Errorf("load jwt secret: %w", err)
	}
	if created {
		logger.Warn("auth.jwt_secret is not set; generated one and stored it in the config database")
	}
	return secret, nil
}

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// envKeyReplacer maps nested keys such as auth.jwt_secret to
// BASIN_AUTH_JWT_SECRET.
var envKeyReplacer = strings.NewReplacer(".", "_")

// resolveDataDir returns the data directory from --data-dir flag,
// BASIN_DATA_DIR env var, or ~/.basin as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("BASIN_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".basin")
}

// openConfigStore opens the metadata store in the data directory.
func openConfigStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// newRegistry creates a connector registry with all supported backing store
// dialects registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", postgres.New)
	registry.RegisterDriver("mysql", mysql.New)
	registry.RegisterDriver("mssql", mssql.New)
	registry.RegisterDriver("sqlite", sqlite.New)
	return registry
}

// loadConfig returns the merged file, environment and flag configuration.
func loadConfig() (*config.YAMLConfig, error) {
	return config.FromViper(viper.GetViper())
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// backend bundles the services every data-facing command needs. Close
// releases them in reverse order.
type backend struct {
	cfg        *config.YAMLConfig
	logger     *slog.Logger
	store      *config.Store
	conn       connector.Connector
	auth       *service.AuthService
	models     *service.ModelService
	dispatcher *webhook.Dispatcher
	webhooks   *service.WebhookService
	data       *data.Service
}

// openBackend opens the metadata store and the backing store and wires
// the services on top of them. Nothing is started.
func openBackend() (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)

	store, err := openConfigStore()
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}

	conn, err := newRegistry().Open(connector.ConfigFromDataSource(cfg.Database))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect %s backing store: %w", cfg.Database.Driver, err)
	}

	jwtSecret, err := resolveJWTSecret(context.Background(), store, cfg.Auth.JWTSecret, logger)
	if err != nil {
		conn.Disconnect()
		store.Close()
		return nil, err
	}

	dispatcher := webhook.New(store, logger, webhook.Options{
		Workers:      cfg.Webhooks.Workers,
		QueueSize:    cfg.Webhooks.QueueSize,
		Timeout:      cfg.Webhooks.Timeout,
		AllowPrivate: cfg.Webhooks.AllowPrivate,
	})
	models := service.NewModelService(store, schema.New(conn, logger), logger)

	return &backend{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		conn:       conn,
		auth:       service.NewAuthService(store, jwtSecret, cfg.Auth.JWTExpiry, logger),
		models:     models,
		dispatcher: dispatcher,
		webhooks:   service.NewWebhookService(store, dispatcher),
		data: data.New(conn, store, validate.New(), dispatcher, logger, data.Options{
			DefaultPerPage: cfg.Data.DefaultPerPage,
			MaxPerPage:     cfg.Data.MaxPerPage,
		}),
	}, nil
}

func (b *backend) Close() {
	b.dispatcher.Close()
	b.conn.Disconnect()
	b.store.Close()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// cmdCtx returns a background context for CLI commands.
func cmdCtx() context.Context {
	return context.Background()
}
