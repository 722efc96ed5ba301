package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"backtester/internal/domain"
	"backtester/internal/marketdata"
	"backtester/internal/store"
)

// Compile-time interface check.
var _ Gatherer = (*BarGatherer)(nil)

// BarGatherer fetches the bar series of every (symbol, interval) pair from a
// market-data source and merges them into a BarStore, using a fixed pool of
// workers.
type BarGatherer struct {
	source     marketdata.Source
	store      store.BarStore
	symbols    []string
	intervals  []domain.Interval
	maxWorkers int
	log        *slog.Logger

	fetched atomic.Int64
	failed  atomic.Int64
}

// NewBarGatherer creates a BarGatherer for the given symbols and intervals.
func NewBarGatherer(src marketdata.Source, s store.BarStore, symbols []string, intervals []domain.Interval, maxWorkers int, log *slog.Logger) *BarGatherer {
	if log == nil {
		log = slog.Default()
	}
	return &BarGatherer{
		source:     src,
		store:      s,
		symbols:    symbols,
		intervals:  intervals,
		maxWorkers: max(maxWorkers, 1),
		log:        log.With("gatherer", "bars", "provider", src.Name()),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "bars" }

type job struct {
	symbol   string
	interval domain.Interval
}

// Run fetches every job once. Failed jobs are logged and skipped; Run
// reports an error if any job failed.
func (g *BarGatherer) Run(ctx context.Context) error {
	var jobs []job
	for _, sym := range g.symbols {
		for _, iv := range g.intervals {
			jobs = append(jobs, job{symbol: sym, interval: iv})
		}
	}
	if len(jobs) == 0 {
		g.log.Info("nothing to gather")
		return nil
	}

	jobCh := make(chan job, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		runStart = time.Now()
	)

	g.log.Info("starting", "jobs", len(jobs), "workers", min(g.maxWorkers, len(jobs)))

	workers := min(g.maxWorkers, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if ctx.Err() != nil {
					return
				}

				n, err := g.fetch(ctx, j)
				if err != nil {
					g.failed.Add(1)
					g.log.Error("fetch failed", "symbol", j.symbol, "interval", j.interval, "err", err)
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				g.fetched.Add(int64(n))
				g.log.Info("job done",
					"symbol", j.symbol,
					"interval", j.interval,
					"bars", n,
					"elapsed", time.Since(runStart).Round(time.Millisecond),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.log.Info("complete",
		"bars", g.fetched.Load(),
		"failed", g.failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	if firstErr != nil {
		return fmt.Errorf("%d of %d jobs failed: %w", g.failed.Load(), len(jobs), firstErr)
	}
	return nil
}

// Fetched returns the number of bars written so far.
func (g *BarGatherer) Fetched() int64 { return g.fetched.Load() }

func (g *BarGatherer) fetch(ctx context.Context, j job) (int, error) {
	bars, err := g.source.TimeSeries(ctx, j.symbol, j.interval)
	if err != nil {
		return 0, err
	}
	if err := g.store.WriteBars(ctx, j.interval, bars); err != nil {
		return 0, fmt.Errorf("writing %s bars for %s: %w", j.interval, j.symbol, err)
	}
	return len(bars), nil
}
