package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"backtester/internal/config"
	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/marketdata"
	"backtester/internal/metrics"
	"backtester/internal/store"
	"backtester/internal/strategy/builtins"
	"backtester/internal/util"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bars     *store.ParquetStore
	journal  *store.SQLiteStore
	upstream marketdata.Source // nil for the offline provider
	engine   *engine.Engine
}

// newApp validates cfg and wires the stores, market data and engine. Logs go
// to logOut.
func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logOut)
	util.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	journal, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", cfg.Storage.SQLitePath, err)
	}

	upstream, err := newUpstream(cfg, log)
	if err != nil {
		journal.Close()
		return nil, err
	}

	var source marketdata.Source
	switch {
	case upstream == nil:
		source = marketdata.NewStoreSource(bars)
	case cfg.MarketData.Cache:
		source = marketdata.NewCachedSource(upstream, bars, log)
	default:
		source = upstream
	}

	eng := engine.NewEngine(builtins.Default(), source,
		engine.Settings{
			TradingCosts:  cfg.Broker.TradingCosts,
			NoiseVariance: cfg.Broker.NoiseVariance,
			Seed:          cfg.Broker.Seed,
			ReplayQuotes:  cfg.MarketData.Quotes == config.QuotesReplay,
		},
		engine.WithRunStore(journal),
		engine.WithTradeExporter(bars),
		engine.WithEngineMetrics(m),
		engine.WithEngineLogger(log),
	)

	log.Debug("wired",
		"provider", cfg.MarketData.Provider,
		"quotes", cfg.MarketData.Quotes,
		"cache", cfg.MarketData.Cache,
		"dataDir", cfg.Storage.DataDir,
	)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  m,
		bars:     bars,
		journal:  journal,
		upstream: upstream,
		engine:   eng,
	}, nil
}

// Close releases the journal.
func (a *app) Close() error {
	return a.journal.Close()
}

// newUpstream builds the network market-data source for the configured
// provider. The offline provider has none.
func newUpstream(cfg *config.Config, log *slog.Logger) (marketdata.Source, error) {
	switch cfg.MarketData.Provider {
	case config.ProviderAlpaca:
		src, err := marketdata.NewAlpacaSource(marketdata.AlpacaConfig{
			APIKey:     cfg.Alpaca.APIKey,
			APISecret:  cfg.Alpaca.APISecret,
			DataURL:    cfg.Alpaca.DataURL,
			Feed:       cfg.Alpaca.Feed,
			RateLimit:  cfg.MarketData.RateLimitPerMin,
			MaxRetries: cfg.MarketData.MaxRetries,
		}, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.ProviderAlphaVantage:
		return marketdata.NewAlphaVantageSource(cfg, marketdata.AlphaVantageConfig{
			BaseURL:    cfg.AlphaVantage.BaseURL,
			RateLimit:  cfg.MarketData.RateLimitPerMin,
			MaxRetries: cfg.MarketData.MaxRetries,
		}, log), nil
	case config.ProviderParquet:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", cfg.MarketData.Provider)
	}
}

// defaultRequest returns the run parameters from the backtest section.
func defaultRequest(cfg *config.Config) engine.Request {
	return engine.Request{
		Strategy: cfg.Backtest.Strategy,
		Ticker:   cfg.Backtest.Ticker,
		Interval: domain.Interval(cfg.Backtest.Interval),
		Window:   cfg.Backtest.Window,
		Capital:  cfg.Backtest.Capital,
		LongQty:  cfg.Backtest.LongQty,
		ShortQty: cfg.Backtest.ShortQty,
		Seed:     cfg.Broker.Seed,
	}
}
