package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backtester/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	bar_interval  TEXT NOT NULL,
	window_size   INTEGER NOT NULL,
	capital       INTEGER NOT NULL,
	long_qty      INTEGER NOT NULL,
	short_qty     INTEGER NOT NULL,
	seed          INTEGER NOT NULL,
	num_trades    INTEGER NOT NULL,
	pnl           REAL NOT NULL,
	position      INTEGER NOT NULL,
	final_capital REAL NOT NULL,
	total_return  REAL NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);
CREATE TABLE IF NOT EXISTS trades (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	ts            INTEGER NOT NULL,
	ticker        TEXT NOT NULL,
	price         REAL NOT NULL,
	quantity      INTEGER NOT NULL,
	trading_costs REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// journal tables if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return errors.New("saving run: missing id")
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, strategy, ticker, bar_interval, window_size, capital, long_qty, short_qty, seed,
		num_trades, pnl, position, final_capital, total_return, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Ticker, string(run.Interval), run.Window, run.Capital,
		run.LongQty, run.ShortQty, int64(run.Seed), run.NumTrades, run.PnL, run.Position,
		run.FinalCapital, run.TotalReturn, created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades (
		run_id, seq, ts, ticker, price, quantity, trading_costs
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("saving trades for run %s: %w", run.ID, err)
	}
	defer stmt.Close()

	for i, t := range run.Trades {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t.Timestamp.UnixMilli(), t.Ticker, t.Price, t.Quantity, t.TradingCosts); err != nil {
			return fmt.Errorf("saving trade %d for run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

// GetRun retrieves a run and its trades by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT ts, ticker, price, quantity, trading_costs
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading trades for run %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t  domain.Trade
			ts int64
		)
		if err := rows.Scan(&ts, &t.Ticker, &t.Price, &t.Quantity, &t.TradingCosts); err != nil {
			return nil, fmt.Errorf("scanning trade for run %s: %w", id, err)
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		run.Trades = append(run.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading trades for run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const runColumns = `id, strategy, ticker, bar_interval, window_size, capital, long_qty, short_qty, seed,
	num_trades, pnl, position, final_capital, total_return, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r        Run
		interval string
		seed     int64
		created  int64
	)
	err := sc.Scan(&r.ID, &r.Strategy, &r.Ticker, &interval, &r.Window, &r.Capital,
		&r.LongQty, &r.ShortQty, &seed, &r.NumTrades, &r.PnL, &r.Position,
		&r.FinalCapital, &r.TotalReturn, &created)
	if err != nil {
		return nil, err
	}
	r.Interval = domain.Interval(interval)
	r.Seed = uint64(seed)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}
