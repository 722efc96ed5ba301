package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backtester/internal/domain"
	"backtester/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// alpacaClient is the subset of *marketdata.Client used here.
type alpacaClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
}

// AlpacaConfig holds the settings for an AlpacaSource.
type AlpacaConfig struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Feed       string // "iex" or "sip"; empty lets the API choose
	RateLimit  int    // requests per minute, 0 = unlimited
	MaxRetries int
}

// AlpacaSource serves quotes and bars from the Alpaca market-data API.
type AlpacaSource struct {
	client     alpacaClient
	feed       marketdata.Feed
	limiter    *util.RateLimiter
	maxRetries int
	now        func() time.Time
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. A missing API key is reported as
// domain.ErrConfigMissing.
func NewAlpacaSource(cfg AlpacaConfig, log *slog.Logger) (*AlpacaSource, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("alpaca credentials: %w", domain.ErrConfigMissing)
	}
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(opts), cfg, log), nil
}

func newAlpacaSource(client alpacaClient, cfg AlpacaConfig, log *slog.Logger) *AlpacaSource {
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaSource{
		client:     client,
		feed:       marketdata.Feed(cfg.Feed),
		limiter:    util.NewRateLimiter(cfg.RateLimit),
		maxRetries: max(cfg.MaxRetries, 1),
		now:        time.Now,
		log:        log.With("component", "marketdata", "provider", "alpaca"),
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// Quote prices ticker at its latest trade. Change is measured against the
// previous daily close.
func (s *AlpacaSource) Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error) {
	symbol := strings.ToUpper(ticker)

	var snap *marketdata.Snapshot
	err := s.call(ctx, func() error {
		var err error
		snap, err = s.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{Feed: s.feed})
		return err
	})
	if err != nil {
		return domain.Quote{}, unavailable(err, "alpaca snapshot for %s", symbol)
	}
	if snap == nil || snap.LatestTrade == nil {
		return domain.Quote{}, fmt.Errorf("alpaca snapshot for %s: no latest trade: %w", symbol, domain.ErrDataUnavailable)
	}

	q := domain.Quote{
		Ticker:    symbol,
		Price:     snap.LatestTrade.Price,
		Quantity:  quantity,
		Timestamp: snap.LatestTrade.Timestamp.UTC(),
	}
	if snap.PrevDailyBar != nil {
		q.Change = q.Price - snap.PrevDailyBar.Close
	}
	return q, nil
}

// TimeSeries fetches bars for ticker over the lookback window of interval.
func (s *AlpacaSource) TimeSeries(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error) {
	symbol := strings.ToUpper(ticker)
	tf, lookback, err := alpacaTimeFrame(interval)
	if err != nil {
		return nil, err
	}

	// The free data plan rejects requests for the most recent 15 minutes.
	end := s.now().UTC().Add(-15 * time.Minute)
	req := marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     end.Add(-lookback),
		End:       end,
		Feed:      s.feed,
	}

	var raw []marketdata.Bar
	err = s.call(ctx, func() error {
		var err error
		raw, err = s.client.GetBars(symbol, req)
		return err
	})
	if err != nil {
		return nil, unavailable(err, "alpaca %s bars for %s", interval, symbol)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    uint64(ab.Volume),
		})
	}
	s.log.Debug("fetched bars", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// call paces and retries one upstream request.
func (s *AlpacaSource) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, s.maxRetries, retryDelay, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		if err := fn(); err != nil {
			if ctx.Err() != nil {
				return util.Permanent(errors.Join(err, ctx.Err()))
			}
			s.log.Warn("alpaca request failed", "error", err)
			return err
		}
		return nil
	})
}

// alpacaTimeFrame maps an interval to its Alpaca time frame and the history
// requested for it.
func alpacaTimeFrame(interval domain.Interval) (marketdata.TimeFrame, time.Duration, error) {
	const day = 24 * time.Hour
	switch interval {
	case domain.IntervalMinute:
		return marketdata.OneMin, 7 * day, nil
	case domain.IntervalHour:
		return marketdata.OneHour, 180 * day, nil
	case domain.IntervalDay:
		return marketdata.OneDay, 3 * 365 * day, nil
	case domain.IntervalWeek:
		return marketdata.NewTimeFrame(1, marketdata.Week), 10 * 365 * day, nil
	case domain.IntervalMonth:
		return marketdata.NewTimeFrame(1, marketdata.Month), 30 * 365 * day, nil
	default:
		return marketdata.TimeFrame{}, 0, fmt.Errorf("unsupported interval %q", interval)
	}
}
