package backtest

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"tradejournal/internal/domain"
	"tradejournal/internal/store"
	"tradejournal/internal/strategy/builtins"
)

var day0 = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

// barsFromCloses builds one bar per day with high/low one point around close.
func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		}
	}
	return bars
}

func wavyBars(n int) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 0.05*float64(i) + 12*math.Sin(float64(i)/6) + 3*math.Sin(float64(i)/1.7)
	}
	return barsFromCloses(closes...)
}

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// memBarStore is an in-memory store.BarStore keyed by upper-case symbol.
type memBarStore struct {
	bars map[string][]domain.Bar
}

var _ store.BarStore = (*memBarStore)(nil)

func newMemBarStore(symbol string, bars []domain.Bar) *memBarStore {
	return &memBarStore{bars: map[string][]domain.Bar{strings.ToUpper(symbol): bars}}
}

func (m *memBarStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
	}
	return nil
}

func (m *memBarStore) ReadBars(_ context.Context, symbol, _ string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range m.bars[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBarStore) ListSymbols(_ context.Context, _ string) ([]string, error) {
	var out []string
	for s := range m.bars {
		out = append(out, s)
	}
	return out, nil
}

func newTestBacktester(t *testing.T, bars []domain.Bar) *Backtester {
	t.Helper()
	return NewBacktester(newMemBarStore("TEST", bars), builtins.NewRegistry(), "us", nil)
}

func baseRequest(spec domain.StrategySpec) Request {
	return Request{
		Symbol:              "test",
		Strategy:            spec,
		StartDate:           day0,
		EndDate:             day0.AddDate(5, 0, 0),
		InitialCapital:      10000,
		PositionSizePercent: 100,
	}
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
