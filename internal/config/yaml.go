package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/basin/internal/model"
)

// YAMLConfig represents the top-level basin configuration file. The same
// struct is populated from viper (file, BASIN_* env vars and flags) at
// startup and read once.
type YAMLConfig struct {
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Database  model.DataSource `yaml:"database" mapstructure:"database"`
	Data      DataConfig       `yaml:"data" mapstructure:"data"`
	RateLimit RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Webhooks  WebhookConfig    `yaml:"webhooks" mapstructure:"webhooks"`
	MCP       MCPConfig        `yaml:"mcp" mapstructure:"mcp"`
	Logging   LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	MaxBodySize     string        `yaml:"max_body_size" mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors" mapstructure:"cors"`
	// TrustedProxies lists proxy addresses or CIDRs allowed to report the
	// client IP via X-Forwarded-For / X-Real-IP.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
	Methods []string `yaml:"methods" mapstructure:"methods"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTExpiry    time.Duration `yaml:"jwt_expiry" mapstructure:"jwt_expiry"`
	APIKeyHeader string        `yaml:"api_key_header" mapstructure:"api_key_header"`
}

// DataConfig controls data API pagination.
type DataConfig struct {
	DefaultPerPage int `yaml:"default_per_page" mapstructure:"default_per_page"`
	MaxPerPage     int `yaml:"max_per_page" mapstructure:"max_per_page"`
}

// RateLimitConfig controls request throttling. Requests carrying
// InternalHeader with the InternalSecret value bypass limiting.
type RateLimitConfig struct {
	IPPerMinute    int    `yaml:"ip_per_minute" mapstructure:"ip_per_minute"`
	InternalHeader string `yaml:"internal_header" mapstructure:"internal_header"`
	InternalSecret string `yaml:"internal_secret" mapstructure:"internal_secret"`
}

// WebhookConfig controls the delivery worker pool.
type WebhookConfig struct {
	Workers   int           `yaml:"workers" mapstructure:"workers"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// AllowPrivate disables SSRF checks. Development only.
	AllowPrivate bool `yaml:"allow_private" mapstructure:"allow_private"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Addr      string `yaml:"addr" mapstructure:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// FromViper registers defaults on v and unmarshals the merged configuration.
func FromViper(v *viper.Viper) (*YAMLConfig, error) {
	d := DefaultYAMLConfig()
	defaults := map[string]any{
		"server.host":                      d.Server.Host,
		"server.port":                      d.Server.Port,
		"server.max_body_size":             d.Server.MaxBodySize,
		"server.shutdown_timeout":          d.Server.ShutdownTimeout,
		"server.cors.origins":              d.Server.CORS.Origins,
		"server.cors.methods":              d.Server.CORS.Methods,
		"server.trusted_proxies":           d.Server.TrustedProxies,
		"auth.jwt_secret":                  d.Auth.JWTSecret,
		"auth.jwt_expiry":                  d.Auth.JWTExpiry,
		"auth.api_key_header":              d.Auth.APIKeyHeader,
		"database.driver":                  d.Database.Driver,
		"database.dsn":                     d.Database.DSN,
		"database.schema":                  d.Database.Schema,
		"database.pool.max_open_conns":     d.Database.Pool.MaxOpenConns,
		"database.pool.max_idle_conns":     d.Database.Pool.MaxIdleConns,
		"database.pool.conn_max_lifetime":  d.Database.Pool.ConnMaxLifetime,
		"database.pool.conn_max_idle_time": d.Database.Pool.ConnMaxIdleTime,
		"data.default_per_page":            d.Data.DefaultPerPage,
		"data.max_per_page":                d.Data.MaxPerPage,
		"rate_limit.ip_per_minute":         d.RateLimit.IPPerMinute,
		"rate_limit.internal_header":       d.RateLimit.InternalHeader,
		"rate_limit.internal_secret":       d.RateLimit.InternalSecret,
		"webhooks.workers":                 d.Webhooks.Workers,
		"webhooks.queue_size":              d.Webhooks.QueueSize,
		"webhooks.timeout":                 d.Webhooks.Timeout,
		"webhooks.allow_private":           d.Webhooks.AllowPrivate,
		"mcp.transport":                    d.MCP.Transport,
		"mcp.addr":                         d.MCP.Addr,
		"logging.level":                    d.Logging.Level,
		"logging.format":                   d.Logging.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var cfg YAMLConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "10MB",
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			},
			TrustedProxies: []string{},
		},
		Auth: AuthConfig{
			JWTExpiry:    24 * time.Hour,
			APIKeyHeader: "X-API-Key",
		},
		Database: model.DataSource{
			Driver: "sqlite",
			DSN:    "basin-data.db",
			Pool:   model.DefaultPoolConfig(),
		},
		Data: DataConfig{
			DefaultPerPage: 15,
			MaxPerPage:     100,
		},
		RateLimit: RateLimitConfig{
			IPPerMinute:    60,
			InternalHeader: "X-Basin-Internal",
		},
		Webhooks: WebhookConfig{
			Workers:   4,
			QueueSize: 1000,
			Timeout:   10 * time.Second,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Addr:      ":8081",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ParseSize converts sizes like "10MB", "512KB" or "1048576" to bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
