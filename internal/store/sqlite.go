package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	strategy_type TEXT NOT NULL,
	total_return  REAL NOT NULL,
	created_at    INTEGER NOT NULL,
	payload       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_created_at ON backtest_runs (created_at DESC);
`

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveResult inserts a new run into the database.
func (s *SQLiteStore) SaveResult(ctx context.Context, rec *ResultRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backtest_runs (id, kind, symbol, strategy_type, total_return, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Symbol, rec.StrategyType, rec.TotalReturn, rec.CreatedAt.UnixMilli(), rec.Payload,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.ID, err)
	}
	return nil
}

// GetResult retrieves a single run by its ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*ResultRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, symbol, strategy_type, total_return, created_at, payload
		 FROM backtest_runs WHERE id = ?`, id)

	var (
		rec       ResultRecord
		createdAt int64
	)
	err := row.Scan(&rec.ID, &rec.Kind, &rec.Symbol, &rec.StrategyType, &rec.TotalReturn, &createdAt, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting run %s: %w", id, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &rec, nil
}

// ListResults returns the most recent runs, up to limit.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, symbol, strategy_type, total_return, created_at
		 FROM backtest_runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var (
			r         ResultSummary
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Symbol, &r.StrategyType, &r.TotalReturn, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
