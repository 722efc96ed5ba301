// Package store defines storage interfaces for cached market data and the
// journal of completed backtest runs, with Parquet and SQLite
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"backtester/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars sampled at interval.
	WriteBars(ctx context.Context, interval domain.Interval, bars []domain.Bar) error

	// ReadBars returns bars for symbol at interval within [start, end],
	// oldest first. A zero start or end leaves that side unbounded.
	ReadBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored at interval.
	ListSymbols(ctx context.Context, interval domain.Interval) ([]string, error)
}

// Run is the journal record of one completed backtest.
type Run struct {
	ID           string
	Strategy     string
	Ticker       string
	Interval     domain.Interval
	Window       int
	Capital      int64
	LongQty      int64
	ShortQty     int64
	Seed         uint64
	NumTrades    int
	PnL          float64
	Position     int64
	FinalCapital float64
	TotalReturn  float64
	CreatedAt    time.Time
	Trades       []domain.Trade
}

// RunStore persists and retrieves backtest runs.
type RunStore interface {
	// SaveRun inserts a run and its trades atomically.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run, including its trades, by ID. It returns
	// ErrNotFound when the run does not exist.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	// Trades are not loaded.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
