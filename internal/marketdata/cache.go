package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/store"
)

// Compile-time interface check.
var _ Source = (*CachedSource)(nil)

// CachedSource serves time series from a BarStore, fetching from the
// wrapped Source and writing through on a miss. A cached series whose last
// bar is older than the staleness limit for its interval is fetched again.
// Quotes are never cached.
type CachedSource struct {
	src    Source
	store  store.BarStore
	log    *slog.Logger
	now    func() time.Time
	maxAge func(domain.Interval) time.Duration
}

// CacheOption configures a CachedSource.
type CacheOption func(*CachedSource)

// WithMaxAge replaces the per-interval staleness limits with d for every
// interval. A non-positive d serves cached series regardless of age.
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *CachedSource) {
		c.maxAge = func(domain.Interval) time.Duration { return d }
	}
}

// WithClock sets the clock used to age cached series.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CachedSource) { c.now = now }
}

// NewCachedSource wraps src with the bar store bars.
func NewCachedSource(src Source, bars store.BarStore, log *slog.Logger, opts ...CacheOption) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	c := &CachedSource{
		src:    src,
		store:  bars,
		log:    log.With("component", "marketdata", "provider", src.Name(), "cache", true),
		now:    time.Now,
		maxAge: staleAfter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// staleAfter is how old the last cached bar may be before the series is
// fetched again. Daily and coarser limits leave room for weekends and
// holidays.
func staleAfter(interval domain.Interval) time.Duration {
	switch interval {
	case domain.IntervalMinute:
		return time.Hour
	case domain.IntervalHour:
		return 24 * time.Hour
	case domain.IntervalDay:
		return 4 * 24 * time.Hour
	case domain.IntervalWeek:
		return 14 * 24 * time.Hour
	default:
		return 62 * 24 * time.Hour
	}
}

// Name returns the wrapped provider's name.
func (c *CachedSource) Name() string { return c.src.Name() }

// Quote delegates to the wrapped Source.
func (c *CachedSource) Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error) {
	return c.src.Quote(ctx, ticker, quantity)
}

// TimeSeries returns the cached series for ticker, or fetches and stores it
// when nothing is cached yet or the cached series is stale. A stale series
// is still served when the refetch fails.
func (c *CachedSource) TimeSeries(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error) {
	symbol := strings.ToUpper(ticker)
	bars, err := c.store.ReadBars(ctx, symbol, interval, time.Time{}, time.Time{})
	if err != nil {
		c.log.Warn("reading cached bars", "symbol", symbol, "interval", interval, "error", err)
	}
	if len(bars) == 0 {
		return c.Refresh(ctx, symbol, interval)
	}

	last := bars[len(bars)-1].Timestamp
	maxAge := c.maxAge(interval)
	if maxAge <= 0 || c.now().Sub(last) <= maxAge {
		c.log.Debug("cache hit", "symbol", symbol, "interval", interval, "count", len(bars))
		return bars, nil
	}

	fresh, err := c.Refresh(ctx, symbol, interval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Warn("refreshing stale bars, serving cache", "symbol", symbol, "interval", interval, "last_bar", last, "error", err)
		return bars, nil
	}
	return fresh, nil
}

// Refresh fetches the series from the wrapped Source and merges it into the
// store, returning the fetched bars.
func (c *CachedSource) Refresh(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error) {
	bars, err := c.src.TimeSeries(ctx, ticker, interval)
	if err != nil {
		return nil, err
	}
	if err := c.store.WriteBars(ctx, interval, bars); err != nil {
		return nil, fmt.Errorf("caching %s bars for %s: %w", interval, ticker, err)
	}
	return bars, nil
}
