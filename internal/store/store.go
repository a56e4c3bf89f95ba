// Package store defines storage interfaces for persisting and retrieving
// daily bars and saved backtest runs.
package store

import (
	"context"
	"errors"
	"time"

	"tradejournal/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data. It is the price-series
// provider the backtester reads from.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], sorted ascending by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Result kinds.
const (
	KindBacktest     = "backtest"
	KindOptimization = "optimization"
)

// ResultSummary is the indexed part of a saved run.
type ResultSummary struct {
	ID           string
	Kind         string
	Symbol       string
	StrategyType string
	TotalReturn  float64
	CreatedAt    time.Time
}

// ResultRecord is a saved run. Payload is the JSON response body exactly as
// it was returned to the caller.
type ResultRecord struct {
	ResultSummary
	Payload []byte
}

// ResultStore persists backtest and optimization results.
type ResultStore interface {
	// SaveResult inserts rec, assigning an ID and CreatedAt when unset.
	SaveResult(ctx context.Context, rec *ResultRecord) error

	// GetResult retrieves a single record by ID. Returns ErrNotFound if
	// no such record exists.
	GetResult(ctx context.Context, id string) (*ResultRecord, error)

	// ListResults returns the most recent records first, up to limit.
	ListResults(ctx context.Context, limit int) ([]ResultSummary, error)
}
