// Package marketdata provides the quote and time-series collaborators the
// broker and backtest engine read prices from.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backtester/internal/domain"
)

// Source fetches quotes and historical bar series for a single ticker.
// Every failure wraps domain.ErrDataUnavailable, except a missing provider
// credential, which wraps domain.ErrConfigMissing.
type Source interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Quote returns the current price and change for ticker, sized for
	// quantity shares.
	Quote(ctx context.Context, ticker string, quantity int64) (domain.Quote, error)

	// TimeSeries returns the bars for ticker at interval, oldest first.
	TimeSeries(ctx context.Context, ticker string, interval domain.Interval) ([]domain.Bar, error)
}

// Secrets looks up a named configuration value. config.Config satisfies it.
type Secrets interface {
	Get(key string) (string, error)
}

// SecretsFunc adapts a function to Secrets.
type SecretsFunc func(key string) (string, error)

// Get calls f(key).
func (f SecretsFunc) Get(key string) (string, error) { return f(key) }

// retryDelay is the first backoff step for upstream retries.
const retryDelay = 500 * time.Millisecond

// unavailable wraps err as domain.ErrDataUnavailable unless it already
// carries a classification.
func unavailable(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, domain.ErrDataUnavailable) || errors.Is(err, domain.ErrConfigMissing) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, domain.ErrDataUnavailable, err)
}
