package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk. Merges into
// the same year file are serialized within a process and every file is
// replaced atomically, so readers never observe a partial write.
type ParquetStore struct {
	DataDir string

	locks sync.Map // path -> *sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// TradeRecord is the Parquet schema for an exported backtest trade log.
type TradeRecord struct {
	RunID        string  `parquet:"run_id"`
	Seq          int64   `parquet:"seq"`
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Ticker       string  `parquet:"ticker"`
	Price        float64 `parquet:"price"`
	Quantity     int64   `parquet:"quantity"`
	TradingCosts float64 `parquet:"trading_costs"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/bars/<interval>/<SYMBOL>/<YYYY>.parquet
//
// Existing files are merged; incoming bars win on duplicate timestamps.
func (s *ParquetStore) WriteBars(_ context.Context, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		})
	}

	for k, records := range groups {
		if err := s.mergeBars(s.barPath(k.symbol, interval, k.year), records); err != nil {
			return fmt.Errorf("writing %s bars for %s/%d: %w", interval, k.symbol, k.year, err)
		}
	}
	return nil
}

// mergeBars merges records into the year file at path under its lock. An
// existing file that cannot be read is left untouched.
func (s *ParquetStore) mergeBars(path string, records []BarRecord) error {
	mu := s.lock(path)
	mu.Lock()
	defer mu.Unlock()

	existing, err := readParquetFile[BarRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading existing %s: %w", path, err)
	}
	return writeParquetFile(path, mergeBarRecords(existing, records))
}

func (s *ParquetStore) lock(path string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(path, new(sync.Mutex))
	return mu.(*sync.Mutex)
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. A year file that cannot be read fails the whole read rather than
// leaving a gap in the series.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.years(symbol, interval)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if !start.IsZero() && year < start.UTC().Year() {
			continue
		}
		if !end.IsZero() && year > end.UTC().Year() {
			continue
		}

		records, err := readParquetFile[BarRecord](s.barPath(symbol, interval, year))
		if err != nil {
			return nil, fmt.Errorf("reading %s bars for %s/%d: %w", interval, strings.ToUpper(symbol), year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !start.IsZero() && ts.Before(start) {
				continue
			}
			if !end.IsZero() && ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    uint64(max(r.Volume, 0)),
			})
		}
	}
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// ListSymbols lists all symbols that have bar data at the given interval.
func (s *ParquetStore) ListSymbols(_ context.Context, interval domain.Interval) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars", string(interval))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// years lists the year files present for symbol, ascending.
func (s *ParquetStore) years(symbol string, interval domain.Interval) ([]int, error) {
	dir := filepath.Join(s.DataDir, "bars", string(interval), strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		var y int
		if _, err := fmt.Sscanf(strings.TrimSuffix(name, ".parquet"), "%d", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Trade export
// ---------------------------------------------------------------------------

// WriteTrades writes the trade log of a run to
// <DataDir>/runs/<runID>.parquet and returns the path written.
func (s *ParquetStore) WriteTrades(runID string, trades []domain.Trade) (string, error) {
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = TradeRecord{
			RunID:        runID,
			Seq:          int64(i),
			Timestamp:    t.Timestamp.UnixMilli(),
			Ticker:       t.Ticker,
			Price:        t.Price,
			Quantity:     t.Quantity,
			TradingCosts: t.TradingCosts,
		}
	}
	path := s.tradePath(runID)
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return path, nil
}

// ReadTrades reads back a trade log written by WriteTrades.
func (s *ParquetStore) ReadTrades(runID string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.tradePath(runID))
	if err != nil {
		return nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = domain.Trade{
			Timestamp:    time.UnixMilli(r.Timestamp).UTC(),
			Ticker:       r.Ticker,
			Price:        r.Price,
			Quantity:     r.Quantity,
			TradingCosts: r.TradingCosts,
		}
	}
	return trades, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/bars/<interval>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, interval domain.Interval, year int) string {
	return filepath.Join(s.DataDir, "bars", string(interval), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// tradePath returns the filesystem path for an exported trade log.
// Layout: <dataDir>/runs/<runID>.parquet
func (s *ParquetStore) tradePath(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile writes records to a temporary file next to path and
// renames it into place.
func writeParquetFile[T any](path string, records []T) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op once renamed

	if err := parquet.Write(f, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
