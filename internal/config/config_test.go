package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"backtester/internal/domain"
)

// clearEnv blanks every variable applyEnvOverrides reads so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_DATA_URL", "AV_KEY", "MARKET_DATA_PROVIDER", "REDIS_ADDR",
		"REDIS_PASSWORD", "BROKER_SEED", "LOG_LEVEL", "APCA_API_KEY_ID",
		"APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtester.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/backtester/data"
  sqlite_path: "/tmp/backtester/runs.db"
server:
  host: "127.0.0.1"
  port: 8081
  grpc_port: 9091
alphavantage:
  api_key: "av-key"
market_data:
  provider: "alphavantage"
  quotes: "replay"
  rate_limit_per_min: 75
broker:
  trading_costs: 0.25
  noise_variance: 0.5
  seed: 42
backtest:
  strategy: "buy_and_hold"
  ticker: "MSFT"
  interval: "week"
  window: 20
logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/backtester/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/backtester/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/backtester/runs.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/backtester/runs.db")
	}

	// -- Server --
	if got := cfg.Server.Addr(); got != "127.0.0.1:8081" {
		t.Errorf("Server.Addr() = %q, want %q", got, "127.0.0.1:8081")
	}
	if got := cfg.Server.GRPCAddr(); got != "127.0.0.1:9091" {
		t.Errorf("Server.GRPCAddr() = %q, want %q", got, "127.0.0.1:9091")
	}

	// -- Market data --
	if cfg.MarketData.Quotes != QuotesReplay {
		t.Errorf("MarketData.Quotes = %q, want %q", cfg.MarketData.Quotes, QuotesReplay)
	}
	if cfg.MarketData.RateLimitPerMin != 75 {
		t.Errorf("MarketData.RateLimitPerMin = %d, want 75", cfg.MarketData.RateLimitPerMin)
	}
	if cfg.MarketData.MaxRetries != 3 {
		t.Errorf("MarketData.MaxRetries = %d, want default 3", cfg.MarketData.MaxRetries)
	}

	// -- Broker --
	if cfg.Broker.TradingCosts != 0.25 {
		t.Errorf("Broker.TradingCosts = %v, want 0.25", cfg.Broker.TradingCosts)
	}
	if cfg.Broker.Seed != 42 {
		t.Errorf("Broker.Seed = %d, want 42", cfg.Broker.Seed)
	}

	// -- Backtest: unset fields keep defaults --
	if cfg.Backtest.Strategy != "buy_and_hold" {
		t.Errorf("Backtest.Strategy = %q, want %q", cfg.Backtest.Strategy, "buy_and_hold")
	}
	if cfg.Backtest.Window != 20 {
		t.Errorf("Backtest.Window = %d, want 20", cfg.Backtest.Window)
	}
	if cfg.Backtest.Capital != 1_000_000 {
		t.Errorf("Backtest.Capital = %d, want 1000000", cfg.Backtest.Capital)
	}
	if cfg.Backtest.ShortQty != -100 {
		t.Errorf("Backtest.ShortQty = %d, want -100", cfg.Backtest.ShortQty)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "text")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Backtest.Window != 90 {
		t.Errorf("Backtest.Window = %d, want 90", cfg.Backtest.Window)
	}
	if cfg.Backtest.LongQty != 100 {
		t.Errorf("Backtest.LongQty = %d, want 100", cfg.Backtest.LongQty)
	}
	if cfg.Broker.TradingCosts != 0.5 {
		t.Errorf("Broker.TradingCosts = %v, want 0.5", cfg.Broker.TradingCosts)
	}
	if cfg.Redis.MaxRequests != 10 || cfg.Redis.PeriodSec != 3600 {
		t.Errorf("Redis limit = %d/%ds, want 10/3600s", cfg.Redis.MaxRequests, cfg.Redis.PeriodSec)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(absent) returned nil error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("AV_KEY", "env-av")
	t.Setenv("BROKER_SEED", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.AlphaVantage.APIKey != "env-av" {
		t.Errorf("AlphaVantage.APIKey = %q, want %q (env override)", cfg.AlphaVantage.APIKey, "env-av")
	}
	if cfg.Broker.Seed != 7 {
		t.Errorf("Broker.Seed = %d, want 7 (env override)", cfg.Broker.Seed)
	}

	// Canonical Alpaca names win.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (APCA override)", cfg.Alpaca.APIKey, "apca-key")
	}
}

func TestGet(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.AlphaVantage.APIKey = "av"

	if v, err := cfg.Get("AV_KEY"); err != nil || v != "av" {
		t.Errorf("Get(AV_KEY) = %q, %v, want %q, nil", v, err, "av")
	}

	_, err := cfg.Get("ALPACA_API_KEY")
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("Get(ALPACA_API_KEY) error = %v, want ErrConfigMissing", err)
	}

	t.Setenv("SOME_TOKEN", "tok")
	if v, err := cfg.Get("SOME_TOKEN"); err != nil || v != "tok" {
		t.Errorf("Get(SOME_TOKEN) = %q, %v, want env fallback", v, err)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		wantMissing bool
	}{
		{"alphavantage with key", func(c *Config) { c.AlphaVantage.APIKey = "k" }, false, false},
		{"alphavantage without key", func(c *Config) {}, true, true},
		{"alpaca without secret", func(c *Config) {
			c.MarketData.Provider = ProviderAlpaca
			c.Alpaca.APIKey = "k"
		}, true, true},
		{"parquet with replay", func(c *Config) {
			c.MarketData.Provider = ProviderParquet
			c.MarketData.Quotes = QuotesReplay
		}, false, false},
		{"parquet with live quotes", func(c *Config) {
			c.MarketData.Provider = ProviderParquet
		}, true, false},
		{"unknown provider", func(c *Config) { c.MarketData.Provider = "yahoo" }, true, false},
		{"negative costs", func(c *Config) {
			c.AlphaVantage.APIKey = "k"
			c.Broker.TradingCosts = -1
		}, true, false},
		{"zero window", func(c *Config) {
			c.AlphaVantage.APIKey = "k"
			c.Backtest.Window = 0
		}, true, false},
		{"bad interval", func(c *Config) {
			c.AlphaVantage.APIKey = "k"
			c.Backtest.Interval = "fortnight"
		}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, domain.ErrConfigMissing); got != tt.wantMissing {
				t.Errorf("errors.Is(ErrConfigMissing) = %v, want %v (err %v)", got, tt.wantMissing, err)
			}
		})
	}
}

func TestSymbols(t *testing.T) {
	cfg := Default()
	if got := cfg.Symbols(); len(got) != 1 || got[0] != "AAPL" {
		t.Errorf("Symbols() = %v, want [AAPL]", got)
	}
	cfg.Gather.Symbols = []string{" msft", "spy "}
	got := cfg.Symbols()
	if len(got) != 2 || got[0] != "MSFT" || got[1] != "SPY" {
		t.Errorf("Symbols() = %v, want [MSFT SPY]", got)
	}
}

func TestLoadShippedConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "config", "backtester.yaml"))
	if err != nil {
		t.Fatalf("Load(shipped) returned error: %v", err)
	}
	if cfg.MarketData.Provider != ProviderAlphaVantage {
		t.Errorf("MarketData.Provider = %q, want %q", cfg.MarketData.Provider, ProviderAlphaVantage)
	}
	if err := cfg.Validate(); !errors.Is(err, domain.ErrConfigMissing) {
		t.Errorf("Validate() without AV_KEY = %v, want ErrConfigMissing", err)
	}
	t.Setenv("AV_KEY", "k")
	if cfg, err = Load(filepath.Join("..", "..", "config", "backtester.yaml")); err != nil {
		t.Fatalf("Load(shipped) returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if got := cfg.Symbols(); len(got) != 3 {
		t.Errorf("Symbols() = %v, want 3 symbols", got)
	}
}
