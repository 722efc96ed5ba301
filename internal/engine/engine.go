// Package engine runs backtests: it processes strategy orders through a
// broker into a portfolio, walks strategies forward over bar series, and
// coordinates the strategy registry, market data and run journal behind a
// single Run call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"backtester/internal/broker"
	"backtester/internal/domain"
	"backtester/internal/marketdata"
	"backtester/internal/metrics"
	"backtester/internal/store"
	"backtester/internal/strategy"
	"backtester/internal/util"
)

// ErrInvalidRequest is returned by Run for malformed requests.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes one backtest run.
type Request struct {
	Strategy string          `json:"strategy"`
	Ticker   string          `json:"ticker"`
	Interval domain.Interval `json:"interval,omitempty"`
	Window   int             `json:"window"`
	Capital  int64           `json:"capital"`
	LongQty  int64           `json:"long_qty"`
	ShortQty int64           `json:"short_qty"`
	Seed     uint64          `json:"seed,omitempty"`
}

// Validate reports malformed requests.
func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Strategy) == "" {
		errs = append(errs, errors.New("strategy is required"))
	}
	if strings.TrimSpace(r.Ticker) == "" {
		errs = append(errs, errors.New("ticker is required"))
	}
	if r.Window < 1 {
		errs = append(errs, fmt.Errorf("window must be positive, got %d", r.Window))
	}
	if r.Capital < 0 {
		errs = append(errs, fmt.Errorf("capital must be non-negative, got %d", r.Capital))
	}
	if r.LongQty < 0 {
		errs = append(errs, fmt.Errorf("long_qty must be non-negative, got %d", r.LongQty))
	}
	switch {
	case r.ShortQty > 0:
		errs = append(errs, fmt.Errorf("short_qty must be non-positive, got %d", r.ShortQty))
	case r.ShortQty == math.MinInt64:
		errs = append(errs, errors.New("short_qty is out of range"))
	}
	if _, err := domain.ParseInterval(string(r.Interval)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Report is the outcome of a run as returned to callers and kept in the
// journal.
type Report struct {
	RunID        string          `json:"run_id"`
	Strategy     string          `json:"strategy"`
	Ticker       string          `json:"ticker"`
	Interval     domain.Interval `json:"interval"`
	Window       int             `json:"window"`
	Capital      int64           `json:"capital"`
	LongQty      int64           `json:"long_qty"`
	ShortQty     int64           `json:"short_qty"`
	Seed         uint64          `json:"seed"`
	NTrades      int             `json:"n_trades"`
	PnL          float64         `json:"pnl"`
	Position     int64           `json:"position"`
	FinalCapital float64         `json:"final_capital"`
	TotalReturn  float64         `json:"total_return"`
	CreatedAt    time.Time       `json:"created_at"`
	Trades       []domain.Trade  `json:"trades"`
}

func (r *Report) toRun() *store.Run {
	return &store.Run{
		ID:           r.RunID,
		Strategy:     r.Strategy,
		Ticker:       r.Ticker,
		Interval:     r.Interval,
		Window:       r.Window,
		Capital:      r.Capital,
		LongQty:      r.LongQty,
		ShortQty:     r.ShortQty,
		Seed:         r.Seed,
		NumTrades:    r.NTrades,
		PnL:          r.PnL,
		Position:     r.Position,
		FinalCapital: r.FinalCapital,
		TotalReturn:  r.TotalReturn,
		CreatedAt:    r.CreatedAt,
		Trades:       r.Trades,
	}
}

func reportFromRun(run *store.Run) *Report {
	trades := run.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	return &Report{
		RunID:        run.ID,
		Strategy:     run.Strategy,
		Ticker:       run.Ticker,
		Interval:     run.Interval,
		Window:       run.Window,
		Capital:      run.Capital,
		LongQty:      run.LongQty,
		ShortQty:     run.ShortQty,
		Seed:         run.Seed,
		NTrades:      run.NumTrades,
		PnL:          run.PnL,
		Position:     run.Position,
		FinalCapital: run.FinalCapital,
		TotalReturn:  run.TotalReturn,
		CreatedAt:    run.CreatedAt,
		Trades:       trades,
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Settings holds the simulated broker parameters shared by every run.
type Settings struct {
	TradingCosts  float64
	NoiseVariance float64
	// Seed is used for requests that do not carry one. Zero picks a fresh
	// seed per run; the seed used is always reported.
	Seed uint64
	// ReplayQuotes prices orders from the bar series being tested instead
	// of the source's live quotes.
	ReplayQuotes bool
}

// TradeExporter writes a run's trade log somewhere outside the journal.
type TradeExporter interface {
	WriteTrades(runID string, trades []domain.Trade) (string, error)
}

// Engine orchestrates backtest runs by resolving strategies from a
// registry, loading bars from a market-data source, simulating execution and
// recording the outcome.
type Engine struct {
	registry *strategy.Registry
	source   marketdata.Source
	settings Settings
	runs     store.RunStore
	exporter TradeExporter
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunStore journals every completed run in rs.
func WithRunStore(rs store.RunStore) EngineOption {
	return func(e *Engine) { e.runs = rs }
}

// WithTradeExporter exports every completed run's trades through x.
func WithTradeExporter(x TradeExporter) EngineOption {
	return func(e *Engine) { e.exporter = x }
}

// WithEngineMetrics records runs and orders on m.
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(reg *strategy.Registry, src marketdata.Source, settings Settings, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: reg,
		source:   src,
		settings: settings,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Strategies lists the registered strategy names.
func (e *Engine) Strategies() []string {
	return e.registry.List()
}

// Run executes one backtest. An unknown strategy is reported as
// domain.ErrStrategyNotFound; market-data failures carry
// domain.ErrDataUnavailable or domain.ErrConfigMissing.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	interval, _ := domain.ParseInterval(string(req.Interval))
	inst := domain.NewInstrument(req.Ticker)

	strat, ok := e.registry.Create(req.Strategy, req.Window, req.LongQty, req.ShortQty)
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Strategy, domain.ErrStrategyNotFound)
	}

	seed := req.Seed
	if seed == 0 {
		seed = e.settings.Seed
	}
	if seed == 0 {
		seed = uint64(e.now().UnixNano()) | 1
	}

	log := e.log.With("strategy", req.Strategy, "ticker", inst.Symbol, "interval", interval)
	start := time.Now()

	report, err := e.run(ctx, req, strat, inst, interval, seed, log)
	if err != nil {
		e.metrics.RecordRun(req.Strategy, inst.Symbol, "error", time.Since(start), 0)
		log.Error("backtest failed", "error", err)
		return nil, err
	}
	e.metrics.RecordRun(req.Strategy, inst.Symbol, "ok", time.Since(start), report.PnL)

	e.record(ctx, report, log)
	return report, nil
}

func (e *Engine) run(
	ctx context.Context,
	req Request,
	strat strategy.Strategy,
	inst domain.Instrument,
	interval domain.Interval,
	seed uint64,
	log *slog.Logger,
) (*Report, error) {
	bars, err := e.source.TimeSeries(ctx, inst.Symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("loading %s bars for %s: %w", interval, inst.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("loading %s bars for %s: empty series: %w", interval, inst.Symbol, domain.ErrDataUnavailable)
	}

	rng, err := broker.NewSeededRand(seed, e.settings.NoiseVariance)
	if err != nil {
		return nil, err
	}

	var (
		quotes broker.QuoteSource = e.source
		opts   = []Option{WithLogger(log), WithMetrics(e.metrics)}
	)
	if e.settings.ReplayQuotes {
		replay := marketdata.NewReplaySource(inst.Symbol, bars)
		quotes = replay
		opts = append(opts, WithStepHook(replay.Advance))
	}

	brk, err := broker.NewSimulatorBroker(quotes, e.settings.TradingCosts, rng, broker.WithLogger(log))
	if err != nil {
		return nil, err
	}

	res, err := NewBacktest(req.Window, req.Capital, brk, opts...).Run(ctx, strat, bars, inst)
	if err != nil {
		return nil, err
	}

	trades := res.Portfolio.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	return &Report{
		RunID:        util.NewID(),
		Strategy:     req.Strategy,
		Ticker:       inst.Symbol,
		Interval:     interval,
		Window:       req.Window,
		Capital:      req.Capital,
		LongQty:      req.LongQty,
		ShortQty:     req.ShortQty,
		Seed:         seed,
		NTrades:      res.NTrades,
		PnL:          res.PnL,
		Position:     res.Portfolio.Position,
		FinalCapital: res.FinalCapital,
		TotalReturn:  res.TotalReturn,
		CreatedAt:    e.now().UTC(),
		Trades:       trades,
	}, nil
}

// record journals and exports a finished run. Failures are logged; the
// report is still returned to the caller.
func (e *Engine) record(ctx context.Context, report *Report, log *slog.Logger) {
	if e.runs != nil {
		if err := e.runs.SaveRun(ctx, report.toRun()); err != nil {
			log.Warn("journaling run", "run_id", report.RunID, "error", err)
		}
	}
	if e.exporter != nil {
		path, err := e.exporter.WriteTrades(report.RunID, report.Trades)
		if err != nil {
			log.Warn("exporting trades", "run_id", report.RunID, "error", err)
		} else {
			log.Debug("exported trades", "run_id", report.RunID, "path", path)
		}
	}
}

// GetRun loads a journaled run. It returns store.ErrNotFound when the run
// does not exist or no journal is configured.
func (e *Engine) GetRun(ctx context.Context, id string) (*Report, error) {
	if e.runs == nil {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	run, err := e.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return reportFromRun(run), nil
}

// ListRuns returns the most recent journaled runs without their trades.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]Report, error) {
	if e.runs == nil {
		return nil, nil
	}
	runs, err := e.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Report, len(runs))
	for i := range runs {
		out[i] = *reportFromRun(&runs[i])
		out[i].Trades = nil
	}
	return out, nil
}
