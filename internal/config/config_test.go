package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv neutralizes the environment overrides for a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "HOST", "ALLOWED_ORIGINS", "CACHE_TTL", "CACHE_MAX_SIZE", "WS_ENABLED", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-server
server:
  port: 9000
  allowed_origins:
    - https://app.example.com
websocket:
  enabled: false
cache:
  ttl: 30s
  max_size: 50
exchanges:
  - id: binance
    rest_url: https://testnet.binance.vision
feed:
  enabled: true
  filter_by_subscription: true
  symbols:
    - exchange: binance
      symbol: BTC/USDT
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-server" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-server")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.WebSocket.IsEnabled() {
		t.Error("WebSocket should be disabled")
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 30*time.Second)
	}
	if len(cfg.Exchanges) != 1 || cfg.Exchanges[0].RestURL != "https://testnet.binance.vision" {
		t.Errorf("Exchanges = %+v", cfg.Exchanges)
	}
	if !cfg.Feed.FilterBySubscription || cfg.Feed.Symbols[0].Symbol != "BTC/USDT" {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
database:
  enabled: true
  postgres:
    host: localhost
    name: market_data
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Database.Postgres.Password = %q, want %q", cfg.Database.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadWithDefaults("")
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want default %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, DefaultHost)
	}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, DefaultAllowedOrigins) {
		t.Errorf("Server.AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, DefaultAllowedOrigins)
	}
	if cfg.Cache.TTL != DefaultCacheTTL {
		t.Errorf("Cache.TTL = %v, want default %v", cfg.Cache.TTL, DefaultCacheTTL)
	}
	if cfg.Cache.MaxSize != DefaultCacheMaxSize {
		t.Errorf("Cache.MaxSize = %d, want default %d", cfg.Cache.MaxSize, DefaultCacheMaxSize)
	}
	if !cfg.WebSocket.IsEnabled() {
		t.Error("WebSocket should be enabled by default")
	}
	if len(cfg.Exchanges) != 3 || cfg.Exchanges[2].ID != "kraken" {
		t.Errorf("Exchanges = %+v, want binance, coinbase, kraken", cfg.Exchanges)
	}
	if cfg.Exchanges[0].MaxRetries != DefaultMaxRetries {
		t.Errorf("Exchanges[0].MaxRetries = %d, want default %d", cfg.Exchanges[0].MaxRetries, DefaultMaxRetries)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CACHE_TTL", "5")
	t.Setenv("CACHE_MAX_SIZE", "10")
	t.Setenv("WS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")

	path := writeTempFile(t, "server:\n  port: 9000\n")
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("Server.AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Cache.TTL != 5*time.Second {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 5*time.Second)
	}
	if cfg.Cache.MaxSize != 10 {
		t.Errorf("Cache.MaxSize = %d, want %d", cfg.Cache.MaxSize, 10)
	}
	if cfg.WebSocket.IsEnabled() {
		t.Error("WebSocket should be disabled by WS_ENABLED=false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestEnvOverrides_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")

	_, err := LoadWithDefaults("")
	if err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Errorf("LoadWithDefaults() error = %v, want PORT error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func validConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "cache max size",
			modify:  func(c *Config) { c.Cache.MaxSize = -1 },
			wantErr: "cache.max_size must be >= 1",
		},
		{
			name:    "duplicate exchange",
			modify:  func(c *Config) { c.Exchanges = append(c.Exchanges, ExchangeConfig{ID: "Binance"}) },
			wantErr: `exchanges[3].id "Binance" is duplicated`,
		},
		{
			name:    "feed without symbols",
			modify:  func(c *Config) { c.Feed.Enabled = true },
			wantErr: "feed.symbols is required when the feed is enabled",
		},
		{
			name: "feed symbol missing exchange",
			modify: func(c *Config) {
				c.Feed.Enabled = true
				c.Feed.Symbols = []FeedSymbol{{Symbol: "BTC/USDT"}}
			},
			wantErr: "feed.symbols[0] needs exchange and symbol",
		},
		{
			name:    "database enabled without host",
			modify:  func(c *Config) { c.Database.Enabled = true },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			modify: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: `log.level must be one of [debug info warn error], got "trace"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
