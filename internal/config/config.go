package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"backtester/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtester.
type Config struct {
	Storage      Storage      `yaml:"storage"`
	Server       Server       `yaml:"server"`
	Alpaca       Alpaca       `yaml:"alpaca"`
	AlphaVantage AlphaVantage `yaml:"alphavantage"`
	MarketData   MarketData   `yaml:"market_data"`
	Broker       Broker       `yaml:"broker"`
	Backtest     Backtest     `yaml:"backtest"`
	Gather       Gather       `yaml:"gather"`
	Redis        Redis        `yaml:"redis"`
	Logging      Logging      `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// AlphaVantage holds credentials and endpoint for the Alpha Vantage API.
type AlphaVantage struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Market-data providers.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderAlpaca       = "alpaca"
	ProviderParquet      = "parquet" // offline, cached bars only
)

// Quote modes.
const (
	QuotesLive   = "live"
	QuotesReplay = "replay"
)

// MarketData selects and tunes the market-data provider.
type MarketData struct {
	Provider        string `yaml:"provider"`
	Quotes          string `yaml:"quotes"`
	Cache           bool   `yaml:"cache"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Broker configures the simulated broker.
type Broker struct {
	TradingCosts  float64 `yaml:"trading_costs"`
	NoiseVariance float64 `yaml:"noise_variance"`
	Seed          uint64  `yaml:"seed"`
}

// Backtest holds the default run parameters.
type Backtest struct {
	Strategy string `yaml:"strategy"`
	Ticker   string `yaml:"ticker"`
	Interval string `yaml:"interval"`
	Window   int    `yaml:"window"`
	Capital  int64  `yaml:"capital"`
	LongQty  int64  `yaml:"long_qty"`
	ShortQty int64  `yaml:"short_qty"`
}

// Gather controls bulk prefetching of bar data into the cache.
type Gather struct {
	Symbols    []string `yaml:"symbols"`
	Intervals  []string `yaml:"intervals"`
	MaxWorkers int      `yaml:"max_workers"`
}

// Redis configures the per-client request limit of the API server. An empty
// Addr disables it.
type Redis struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	MaxRequests int    `yaml:"max_requests"`
	PeriodSec   int    `yaml:"period_sec"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults and loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/backtester.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			Feed: "iex",
		},
		AlphaVantage: AlphaVantage{
			BaseURL: "https://www.alphavantage.co/query",
		},
		MarketData: MarketData{
			Provider:        ProviderAlphaVantage,
			Quotes:          QuotesLive,
			Cache:           true,
			RateLimitPerMin: 5,
			MaxRetries:      3,
		},
		Broker: Broker{
			TradingCosts:  0.50,
			NoiseVariance: 1.0,
		},
		Backtest: Backtest{
			Strategy: "ma_crossover",
			Ticker:   "AAPL",
			Interval: string(domain.IntervalDay),
			Window:   90,
			Capital:  1_000_000,
			LongQty:  100,
			ShortQty: -100,
		},
		Gather: Gather{
			Intervals:  []string{string(domain.IntervalDay)},
			MaxWorkers: 4,
		},
		Redis: Redis{
			MaxRequests: 10,
			PeriodSec:   3600,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path over the
// defaults, and then applies environment variable overrides. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("AV_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}

	if v := os.Getenv("MARKET_DATA_PROVIDER"); v != "" {
		cfg.MarketData.Provider = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("BROKER_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Broker.Seed = seed
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Secrets and validation
// ---------------------------------------------------------------------------

// Get returns the named secret. Keys known to the configuration resolve to
// their field; anything else falls back to the environment. An empty value
// is reported as domain.ErrConfigMissing.
func (c *Config) Get(key string) (string, error) {
	var v string
	switch key {
	case "AV_KEY":
		v = c.AlphaVantage.APIKey
	case "ALPACA_API_KEY", "APCA_API_KEY_ID":
		v = c.Alpaca.APIKey
	case "ALPACA_API_SECRET", "APCA_API_SECRET_KEY":
		v = c.Alpaca.APISecret
	case "REDIS_PASSWORD":
		v = c.Redis.Password
	}
	if v == "" {
		v = os.Getenv(key)
	}
	if v == "" {
		return "", fmt.Errorf("%s: %w", key, domain.ErrConfigMissing)
	}
	return v, nil
}

// Validate checks the configuration for values the backtester cannot run
// with. A missing credential for the selected provider is reported as
// domain.ErrConfigMissing; other problems are joined into one error.
func (c *Config) Validate() error {
	var errs []error

	switch c.MarketData.Provider {
	case ProviderAlphaVantage:
		if _, err := c.Get("AV_KEY"); err != nil {
			errs = append(errs, fmt.Errorf("alphavantage provider: %w", err))
		}
	case ProviderAlpaca:
		if _, err := c.Get("ALPACA_API_KEY"); err != nil {
			errs = append(errs, fmt.Errorf("alpaca provider: %w", err))
		}
		if _, err := c.Get("ALPACA_API_SECRET"); err != nil {
			errs = append(errs, fmt.Errorf("alpaca provider: %w", err))
		}
	case ProviderParquet:
		if c.MarketData.Quotes != QuotesReplay {
			errs = append(errs, errors.New("parquet provider requires replay quotes"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown market data provider %q", c.MarketData.Provider))
	}

	switch c.MarketData.Quotes {
	case QuotesLive, QuotesReplay:
	default:
		errs = append(errs, fmt.Errorf("unknown quote mode %q", c.MarketData.Quotes))
	}

	if c.Broker.TradingCosts < 0 || math.IsNaN(c.Broker.TradingCosts) {
		errs = append(errs, fmt.Errorf("broker.trading_costs must be non-negative, got %v", c.Broker.TradingCosts))
	}
	if c.Broker.NoiseVariance < 0 || math.IsNaN(c.Broker.NoiseVariance) {
		errs = append(errs, fmt.Errorf("broker.noise_variance must be non-negative, got %v", c.Broker.NoiseVariance))
	}

	if c.Backtest.Window < 1 {
		errs = append(errs, fmt.Errorf("backtest.window must be positive, got %d", c.Backtest.Window))
	}
	if _, err := domain.ParseInterval(c.Backtest.Interval); err != nil {
		errs = append(errs, err)
	}
	for _, iv := range c.Gather.Intervals {
		if _, err := domain.ParseInterval(iv); err != nil {
			errs = append(errs, fmt.Errorf("gather: %w", err))
		}
	}

	if c.Redis.Addr != "" && (c.Redis.MaxRequests < 1 || c.Redis.PeriodSec < 1) {
		errs = append(errs, errors.New("redis.max_requests and redis.period_sec must be positive"))
	}

	return errors.Join(errs...)
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Symbols returns the gather symbols upper-cased, falling back to the default
// backtest ticker.
func (c *Config) Symbols() []string {
	if len(c.Gather.Symbols) == 0 {
		return []string{strings.ToUpper(c.Backtest.Ticker)}
	}
	out := make([]string, len(c.Gather.Symbols))
	for i, s := range c.Gather.Symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
