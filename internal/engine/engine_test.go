package engine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtester/internal/domain"
	"backtester/internal/store"
	"backtester/internal/strategy/builtins"
	"backtester/internal/util"
)

// staticSource serves a fixed series and a fixed live quote.
type staticSource struct {
	bars       []domain.Bar
	err        error
	quote      domain.Quote
	quoteCalls int
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) Quote(_ context.Context, ticker string, qty int64) (domain.Quote, error) {
	s.quoteCalls++
	q := s.quote
	q.Ticker, q.Quantity = ticker, qty
	return q, nil
}

func (s *staticSource) TimeSeries(context.Context, string, domain.Interval) ([]domain.Bar, error) {
	return s.bars, s.err
}

func crossoverRequest() Request {
	return Request{
		Strategy: builtins.MACrossoverName,
		Ticker:   "test",
		Window:   3,
		Capital:  1_000_000,
		LongQty:  100,
		ShortQty: -100,
	}
}

func newTestEngine(t *testing.T, src *staticSource, settings Settings) (*Engine, *store.SQLiteStore) {
	t.Helper()
	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	e := NewEngine(builtins.Default(), src, settings,
		WithRunStore(journal),
		WithTradeExporter(store.NewParquetStore(t.TempDir())),
		WithEngineLogger(util.Discard()),
	)
	return e, journal
}

func TestEngineRunReplay(t *testing.T) {
	src := &staticSource{bars: barsFromCloses(10, 10, 10, 12, 20, 8, 8)}
	e, _ := newTestEngine(t, src, Settings{TradingCosts: 0.5, NoiseVariance: 1, Seed: 99, ReplayQuotes: true})
	ctx := context.Background()

	report, err := e.Run(ctx, crossoverRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "TEST", report.Ticker)
	assert.Equal(t, domain.IntervalDay, report.Interval)
	assert.Equal(t, uint64(99), report.Seed)
	assert.Zero(t, src.quoteCalls, "replay mode never asks the source for quotes")
	require.Equal(t, report.NTrades, len(report.Trades))
	require.GreaterOrEqual(t, report.NTrades, 1)

	var sum int64
	for _, tr := range report.Trades {
		sum += tr.Quantity
	}
	assert.Equal(t, sum, report.Position)
	assert.InDelta(t, float64(report.Capital)+report.PnL, report.FinalCapital, 1e-9)

	// Journaled and retrievable.
	got, err := e.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.NTrades, got.NTrades)
	assert.Equal(t, report.PnL, got.PnL)
	assert.Len(t, got.Trades, len(report.Trades))

	runs, err := e.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].RunID)
}

func TestEngineRunDeterministicWithSeed(t *testing.T) {
	src := &staticSource{bars: barsFromCloses(10, 10, 10, 12, 20, 8, 8, 15, 3, 9)}
	e, _ := newTestEngine(t, src, Settings{TradingCosts: 0.5, NoiseVariance: 1, ReplayQuotes: true})

	req := crossoverRequest()
	req.Seed = 1234
	a, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.PnL, b.PnL)
}

func TestEngineRunLiveQuotes(t *testing.T) {
	src := &staticSource{
		bars:  barsFromCloses(10, 10, 10, 12, 20),
		quote: domain.Quote{Price: 50, Change: 1},
	}
	e, _ := newTestEngine(t, src, Settings{TradingCosts: 0.5, NoiseVariance: 0, Seed: 5})

	report, err := e.Run(context.Background(), crossoverRequest())
	require.NoError(t, err)
	require.Equal(t, 1, report.NTrades)
	assert.Equal(t, 1, src.quoteCalls, "one quote per order")
	assert.Equal(t, 50.0, report.Trades[0].Price, "zero variance fills at the quote")
}

func TestEngineRunUnknownStrategy(t *testing.T) {
	e, _ := newTestEngine(t, &staticSource{bars: barsFromCloses(1, 2, 3)}, Settings{})
	req := crossoverRequest()
	req.Strategy = "does_not_exist"

	_, err := e.Run(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrStrategyNotFound)
}

func TestEngineRunDataUnavailable(t *testing.T) {
	upstream := errors.New("timeout")
	e, _ := newTestEngine(t, &staticSource{err: upstream}, Settings{})
	_, err := e.Run(context.Background(), crossoverRequest())
	assert.ErrorIs(t, err, upstream)

	e, _ = newTestEngine(t, &staticSource{}, Settings{})
	_, err = e.Run(context.Background(), crossoverRequest())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable, "empty series")
}

func TestEngineRunInvalidRequest(t *testing.T) {
	e, journal := newTestEngine(t, &staticSource{bars: barsFromCloses(1, 2, 3)}, Settings{})
	req := crossoverRequest()
	req.Window = 0
	req.Ticker = ""

	_, err := e.Run(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "window")
	assert.Contains(t, err.Error(), "ticker")

	runs, err := journal.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "failed runs are not journaled")
}

func TestRequestValidateQuantities(t *testing.T) {
	tests := []struct {
		name      string
		long      int64
		short     int64
		wantError string
	}{
		{"defaults", 100, -100, ""},
		{"zero sizes", 0, 0, ""},
		{"negative long", -100, -100, "long_qty"},
		{"positive short", 100, 100, "short_qty"},
		{"swapped signs", -100, 100, "long_qty"},
		{"short at min int64", 100, math.MinInt64, "short_qty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := crossoverRequest()
			req.LongQty = tt.long
			req.ShortQty = tt.short

			err := req.Validate()
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}

	e, _ := newTestEngine(t, &staticSource{bars: barsFromCloses(1, 2, 3)}, Settings{})
	req := crossoverRequest()
	req.ShortQty = math.MinInt64
	_, err := e.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEngineRunBadVariance(t *testing.T) {
	e, _ := newTestEngine(t, &staticSource{bars: barsFromCloses(1, 2, 3, 4)}, Settings{NoiseVariance: -1})
	_, err := e.Run(context.Background(), crossoverRequest())
	assert.Error(t, err)
}

func TestEngineGetRunWithoutJournal(t *testing.T) {
	e := NewEngine(builtins.Default(), &staticSource{}, Settings{}, WithEngineLogger(util.Discard()))
	_, err := e.GetRun(context.Background(), "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, err := e.ListRuns(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, []string{"buy_and_hold", "ma_crossover", "noop"}, e.Strategies())
}
