// Package backtest replays a strategy's signals over a daily bar series,
// derives performance statistics and searches parameter grids.
package backtest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tradejournal/internal/domain"
)

// Request describes one backtest run.
type Request struct {
	Symbol    string
	Strategy  domain.StrategySpec
	StartDate time.Time
	EndDate   time.Time

	InitialCapital      float64
	PositionSizePercent float64 // share of current capital committed per entry, (0, 100]
	CommissionRate      float64 // fraction of notional per fill
	Slippage            float64 // fraction of price per fill
	StopLossPercent     float64 // 0 disables
	TakeProfitPercent   float64 // 0 disables
}

// ExecutionConfig is the part of a Request the simulator needs.
type ExecutionConfig struct {
	InitialCapital      float64
	PositionSizePercent float64
	CommissionRate      float64
	Slippage            float64
	StopLossPercent     float64
	TakeProfitPercent   float64
}

// Execution returns the simulator settings for r.
func (r Request) Execution() ExecutionConfig {
	return ExecutionConfig{
		InitialCapital:      r.InitialCapital,
		PositionSizePercent: r.PositionSizePercent,
		CommissionRate:      r.CommissionRate,
		Slippage:            r.Slippage,
		StopLossPercent:     r.StopLossPercent,
		TakeProfitPercent:   r.TakeProfitPercent,
	}
}

// WithParameters returns a copy of r whose strategy parameters are the
// original ones overlaid with params.
func (r Request) WithParameters(params map[string]float64) Request {
	merged := make(map[string]float64, len(r.Strategy.Parameters)+len(params))
	for k, v := range r.Strategy.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	r.Strategy = domain.StrategySpec{Type: r.Strategy.Type, Parameters: merged}
	return r
}

// Validate checks the request shape. Errors wrap domain.ErrValidation.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return invalid("symbol is required")
	}
	if r.Strategy.Type == "" {
		return invalid("strategy type is required")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return invalid("start and end dates are required")
	}
	if !r.StartDate.Before(r.EndDate) {
		return invalid("start date %s must be before end date %s",
			r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly))
	}

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"initialCapital", r.InitialCapital},
		{"positionSizePercent", r.PositionSizePercent},
		{"commissionRate", r.CommissionRate},
		{"slippage", r.Slippage},
		{"stopLossPercent", r.StopLossPercent},
		{"takeProfitPercent", r.TakeProfitPercent},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return invalid("%s must be a finite number", f.name)
		}
	}

	switch {
	case r.InitialCapital <= 0:
		return invalid("initialCapital must be positive, got %v", r.InitialCapital)
	case r.PositionSizePercent <= 0 || r.PositionSizePercent > 100:
		return invalid("positionSizePercent must be in (0, 100], got %v", r.PositionSizePercent)
	case r.CommissionRate < 0:
		return invalid("commissionRate must not be negative, got %v", r.CommissionRate)
	case r.Slippage < 0 || r.Slippage >= 1:
		return invalid("slippage must be in [0, 1), got %v", r.Slippage)
	case r.StopLossPercent < 0 || r.StopLossPercent >= 100:
		return invalid("stopLossPercent must be in [0, 100), got %v", r.StopLossPercent)
	case r.TakeProfitPercent < 0:
		return invalid("takeProfitPercent must not be negative, got %v", r.TakeProfitPercent)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}
