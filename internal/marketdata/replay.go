package marketdata

import (
	"context"
	"fmt"
	"strings"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ Source = (*ReplaySource)(nil)

// ReplaySource quotes from the bar series being backtested instead of a live
// feed. The price is the close of the last bar the strategy has seen and the
// change is measured against the close before it. Advance moves the visible
// prefix forward; nothing past it is ever used.
//
// A ReplaySource belongs to a single run and is not safe for concurrent use.
type ReplaySource struct {
	symbol  string
	bars    []domain.Bar
	visible int
}

// NewReplaySource creates a ReplaySource over bars with nothing visible yet.
func NewReplaySource(symbol string, bars []domain.Bar) *ReplaySource {
	return &ReplaySource{symbol: strings.ToUpper(symbol), bars: bars}
}

// Name returns "replay".
func (r *ReplaySource) Name() string { return "replay" }

// Advance makes the first n bars visible. It is used as the backtest step
// hook.
func (r *ReplaySource) Advance(n int) {
	r.visible = min(max(n, 0), len(r.bars))
}

// Quote prices at the close of the last visible bar.
func (r *ReplaySource) Quote(_ context.Context, ticker string, quantity int64) (domain.Quote, error) {
	if r.visible == 0 {
		return domain.Quote{}, fmt.Errorf("replay quote for %s: no visible bars: %w", ticker, domain.ErrDataUnavailable)
	}
	last := r.bars[r.visible-1]
	q := domain.Quote{
		Ticker:    strings.ToUpper(ticker),
		Price:     last.Close,
		Quantity:  quantity,
		Timestamp: last.Timestamp,
	}
	if r.visible > 1 {
		q.Change = last.Close - r.bars[r.visible-2].Close
	}
	return q, nil
}

// TimeSeries returns a copy of the full series. interval is ignored.
func (r *ReplaySource) TimeSeries(_ context.Context, ticker string, _ domain.Interval) ([]domain.Bar, error) {
	if r.symbol != "" && !strings.EqualFold(ticker, r.symbol) {
		return nil, fmt.Errorf("replay series for %s: only %s is loaded: %w", ticker, r.symbol, domain.ErrDataUnavailable)
	}
	out := make([]domain.Bar, len(r.bars))
	copy(out, r.bars)
	return out, nil
}
