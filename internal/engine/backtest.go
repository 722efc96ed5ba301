package engine

import (
	"context"
	"fmt"
	"log/slog"

	"backtester/internal/broker"
	"backtester/internal/domain"
	"backtester/internal/metrics"
	"backtester/internal/strategy"
)

// Result summarises a completed backtest.
type Result struct {
	PnL          float64          `json:"pnl"`
	NTrades      int              `json:"n_trades"`
	Portfolio    domain.Portfolio `json:"portfolio"`
	FinalCapital float64          `json:"final_capital"`
	TotalReturn  float64          `json:"total_return"`
}

// Backtest walks a strategy forward over a bar series. Bars before the
// warm-up index are never shown to the strategy on their own; the first
// evaluated window holds exactly warmUp bars.
//
// A Backtest owns its portfolio and runs on one goroutine. Use one Backtest
// per run.
type Backtest struct {
	warmUp    int
	portfolio *domain.Portfolio
	broker    broker.Broker
	hook      func(visible int)
	processor Processor
}

// Option configures a Backtest.
type Option func(*Backtest)

// WithStepHook registers fn to be called with the size of the visible window
// before the strategy sees it. A replay quote source uses it to track the
// current bar.
func WithStepHook(fn func(visible int)) Option {
	return func(bt *Backtest) { bt.hook = fn }
}

// WithLogger sets the logger used for trade and run diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(bt *Backtest) { bt.processor.Log = log }
}

// WithMetrics records processed orders on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(bt *Backtest) { bt.processor.Metrics = m }
}

// NewBacktest creates a Backtest with a fresh portfolio of capital.
func NewBacktest(warmUp int, capital int64, b broker.Broker, opts ...Option) *Backtest {
	bt := &Backtest{
		warmUp:    max(warmUp, 0),
		portfolio: domain.NewPortfolio(capital),
		broker:    b,
	}
	for _, opt := range opts {
		opt(bt)
	}
	if bt.processor.Log == nil {
		bt.processor.Log = slog.Default()
	}
	return bt
}

// Portfolio returns the live portfolio. It is only consistent between runs.
func (bt *Backtest) Portfolio() *domain.Portfolio { return bt.portfolio }

// Run evaluates s at every step i in [warmUp, len(data)) on the window
// data[:i] and processes any order it emits. The first quote or execution
// error aborts the run; no partial result is returned.
func (bt *Backtest) Run(ctx context.Context, s strategy.Strategy, data []domain.Bar, inst domain.Instrument) (Result, error) {
	nTrades := 0
	for i := bt.warmUp; i < len(data); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if bt.hook != nil {
			bt.hook(i)
		}

		// Capacity-capped so a strategy cannot append into future bars.
		window := data[:i:i]
		order := s.OnData(window, inst, bt.portfolio.Snapshot())
		if order == nil {
			continue
		}

		if _, err := bt.processor.Process(ctx, *order, bt.broker, bt.portfolio); err != nil {
			return Result{}, fmt.Errorf("step %d: %w", i, err)
		}
		nTrades++
	}

	res := Result{
		PnL:          bt.portfolio.PnL,
		NTrades:      nTrades,
		Portfolio:    bt.portfolio.Clone(),
		FinalCapital: float64(bt.portfolio.Capital) + bt.portfolio.PnL,
	}
	if bt.portfolio.Capital != 0 {
		res.TotalReturn = bt.portfolio.PnL / float64(bt.portfolio.Capital)
	}
	bt.processor.Log.Info("backtest finished",
		"ticker", inst.Symbol,
		"steps", max(len(data)-bt.warmUp, 0),
		"trades", res.NTrades,
		"position", res.Portfolio.Position,
		"pnl", res.PnL,
	)
	return res, nil
}
