package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backtester/internal/domain"
	"backtester/internal/store"
)

// Compile-time interface check.
var _ Source = (*StoreSource)(nil)

// StoreSource serves time series straight from a BarStore and never
// touches the network. It has no live quotes; pair it with replay quotes.
type StoreSource struct {
	bars store.BarStore
}

// NewStoreSource creates a StoreSource over bars.
func NewStoreSource(bars store.BarStore) *StoreSource {
	return &StoreSource{bars: bars}
}

// Name returns "parquet".
func (s *StoreSource) Name() string { return "parquet" }

// Quote always fails.
func (s *StoreSource) Quote(_ context.Context, ticker string, _ int64) (domain.Quote, error) {
	return domain.Quote{}, fmt.Errorf("live quote for %s: offline source: %w", strings.ToUpper(ticker), domain.ErrDataUnavailable)
}

// TimeSeries reads every stored bar for ticker. An empty store is reported
// as domain.ErrDataUnavailable.
func (s *StoreSource) TimeSeries(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error) {
	symbol := strings.ToUpper(ticker)
	bars, err := s.bars.ReadBars(ctx, symbol, interval, time.Time{}, time.Time{})
	if err != nil {
		return nil, unavailable(err, "stored %s bars for %s", interval, symbol)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("stored %s bars for %s: none cached: %w", interval, symbol, domain.ErrDataUnavailable)
	}
	return bars, nil
}
