package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/faucetdb/basin/internal/config"
)

func TestResolveDataDir(t *testing.T) {
	t.Cleanup(func() { dataDir = "" })

	dataDir = "/tmp/flag"
	t.Setenv("BASIN_DATA_DIR", "/tmp/env")
	if got := resolveDataDir(); got != "/tmp/flag" {
		t.Errorf("flag: got %q", got)
	}
	dataDir = ""
	if got := resolveDataDir(); got != "/tmp/env" {
		t.Errorf("env: got %q", got)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	tests := []struct {
		level string
		debug bool
	}{
		{"debug", true},
		{"info", false},
		{"bogus", false},
	}
	for _, tt := range tests {
		logger := newLogger(config.LoggingConfig{Level: tt.level, Format: "json"})
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.debug {
			t.Errorf("level %q: debug enabled = %v, want %v", tt.level, got, tt.debug)
		}
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basin.yaml")
	if err := runConfigInit(path, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := runConfigInit(path, false); err == nil {
		t.Error("expected error when file exists without --force")
	}
	if err := runConfigInit(path, true); err != nil {
		t.Errorf("init --force: %v", err)
	}
	cfg, err := config.LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Database.Driver != "sqlite" {
		t.Errorf("unexpected defaults: %+v", cfg.Server)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}

func TestVersionString(t *testing.T) {
	t.Cleanup(func() { appVersion = "" })
	for in, want := range map[string]string{"": "dev", "dev": "dev", "1.2.0": "v1.2.0", "v1.2.0": "v1.2.0"} {
		appVersion = in
		if got := versionString(); got != want {
			t.Errorf("versionString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveJWTSecret(t *testing.T) {
	store, err := config.NewStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if got, err := resolveJWTSecret(ctx, store, "from-config", logger); err != nil || got != "from-config" {
		t.Errorf("configured secret = %q, %v", got, err)
	}
	generated, err := resolveJWTSecret(ctx, store, "", logger)
	if err != nil || generated == "" || generated == "from-config" {
		t.Fatalf("generated secret = %q, %v", generated, err)
	}
	again, err := resolveJWTSecret(ctx, store, "", logger)
	if err != nil || again != generated {
		t.Errorf("secret not reused: %q then %q", generated, again)
	}
	if stored, _ := store.GetSetting(ctx, jwtSecretSetting); stored != generated {
		t.Errorf("stored setting = %q", stored)
	}
}
