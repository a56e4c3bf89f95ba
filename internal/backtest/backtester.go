package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tradejournal/internal/domain"
	"tradejournal/internal/metrics"
	"tradejournal/internal/store"
	"tradejournal/internal/strategy"
)

// Result is the outcome of one backtest. It is not modified after Run
// returns it.
type Result struct {
	Request  Request
	Metrics  Metrics
	Trades   []domain.Trade
	Equity   []domain.EquityPoint
	Drawdown []float64
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics.
type Backtester struct {
	store    store.BarStore
	registry *strategy.Registry
	market   string
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars for market from the given
// store and looks up strategies in the provided registry. m may be nil.
func NewBacktester(barStore store.BarStore, registry *strategy.Registry, market string, m *metrics.Metrics) *Backtester {
	if market == "" {
		market = string(domain.MarketUS)
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		market:   market,
		metrics:  m,
		log:      slog.Default().With("component", "backtester"),
	}
}

// Registry returns the strategy registry used by the backtester.
func (bt *Backtester) Registry() *strategy.Registry {
	return bt.registry
}

// Run validates req, loads its bars and executes the backtest.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := bt.run(ctx, req)
	bt.metrics.RecordBacktest(runStatus(err), time.Since(start))
	if err != nil {
		bt.log.Debug("backtest failed", "symbol", req.Symbol, "strategy", req.Strategy.Type, "error", err)
		return nil, err
	}
	bt.log.Info("backtest complete",
		"symbol", req.Symbol,
		"strategy", req.Strategy.Type,
		"bars", len(res.Equity),
		"trades", res.Metrics.TotalTrades,
		"totalReturn", res.Metrics.TotalReturn,
		"elapsed", time.Since(start),
	)
	return res, nil
}

func (bt *Backtester) run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := bt.registry.Prepare(req.Strategy); err != nil {
		return nil, err
	}
	bars, err := bt.LoadBars(ctx, req)
	if err != nil {
		return nil, err
	}
	return bt.RunBars(bars, req)
}

// LoadBars reads the request's date range from the bar store. Both dates are
// inclusive; a bar stamped anywhere on the end date is loaded.
func (bt *Backtester) LoadBars(ctx context.Context, req Request) ([]domain.Bar, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	y, m, d := req.EndDate.UTC().Date()
	end := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Add(-time.Millisecond)
	bars, err := bt.store.ReadBars(ctx, symbol, bt.market, req.StartDate, end)
	if err != nil {
		return nil, fmt.Errorf("loading bars for %s: %w", symbol, err)
	}
	return bars, nil
}

// RunBars executes the backtest over already loaded bars. It performs no I/O
// and is safe for concurrent use.
func (bt *Backtester) RunBars(bars []domain.Bar, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	def, params, err := bt.registry.Prepare(req.Strategy)
	if err != nil {
		return nil, err
	}
	if err := ValidateBars(bars); err != nil {
		return nil, err
	}
	if lb := def.Lookback(params); len(bars) <= lb {
		return nil, fmt.Errorf("%w: %d bars for %s, need more than %d", domain.ErrDataIntegrity, len(bars), def.Type, lb)
	}

	signals := strategy.Generate(def, bars, params)
	sim, err := Simulate(bars, signals, req.Execution())
	if err != nil {
		return nil, err
	}

	return &Result{
		Request:  req,
		Metrics:  ComputeMetrics(sim.Trades, sim.Equity, sim.Drawdown, req.InitialCapital),
		Trades:   sim.Trades,
		Equity:   sim.Equity,
		Drawdown: sim.Drawdown,
	}, nil
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return metrics.StatusOK
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		return metrics.StatusInvalid
	default:
		return metrics.StatusError
	}
}
