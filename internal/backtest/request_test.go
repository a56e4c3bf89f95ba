package backtest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"tradejournal/internal/domain"
)

func TestRequestValidate(t *testing.T) {
	valid := baseRequest(domain.StrategySpec{Type: domain.StrategyRSI})
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate(valid) = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"empty symbol", func(r *Request) { r.Symbol = "  " }},
		{"missing strategy", func(r *Request) { r.Strategy.Type = "" }},
		{"start equals end", func(r *Request) { r.EndDate = r.StartDate }},
		{"start after end", func(r *Request) { r.StartDate = r.EndDate.AddDate(0, 0, 1) }},
		{"zero capital", func(r *Request) { r.InitialCapital = 0 }},
		{"NaN capital", func(r *Request) { r.InitialCapital = math.NaN() }},
		{"zero position size", func(r *Request) { r.PositionSizePercent = 0 }},
		{"position size over 100", func(r *Request) { r.PositionSizePercent = 100.5 }},
		{"negative commission", func(r *Request) { r.CommissionRate = -0.001 }},
		{"negative slippage", func(r *Request) { r.Slippage = -0.01 }},
		{"slippage of one", func(r *Request) { r.Slippage = 1 }},
		{"negative stop", func(r *Request) { r.StopLossPercent = -1 }},
		{"stop of 100", func(r *Request) { r.StopLossPercent = 100 }},
		{"negative target", func(r *Request) { r.TakeProfitPercent = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("Validate() = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRequestValidateNamesFirstNonFiniteField(t *testing.T) {
	r := baseRequest(domain.StrategySpec{Type: domain.StrategyRSI})
	r.InitialCapital = math.NaN()
	r.Slippage = math.Inf(1)
	r.TakeProfitPercent = math.NaN()

	for i := 0; i < 20; i++ {
		err := r.Validate()
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Validate() = %v, want ErrValidation", err)
		}
		if !strings.Contains(err.Error(), "initialCapital must be a finite number") {
			t.Fatalf("Validate() = %q, want it to name initialCapital", err)
		}
	}
}

func TestWithParametersDoesNotAlias(t *testing.T) {
	base := baseRequest(domain.StrategySpec{
		Type:       domain.StrategyMovingAverage,
		Parameters: map[string]float64{"maType": 1, "shortPeriod": 5},
	})
	got := base.WithParameters(map[string]float64{"shortPeriod": 8, "longPeriod": 40})

	want := map[string]float64{"maType": 1, "shortPeriod": 8, "longPeriod": 40}
	for k, v := range want {
		if got.Strategy.Parameters[k] != v {
			t.Errorf("Parameters[%s] = %v, want %v", k, got.Strategy.Parameters[k], v)
		}
	}
	if base.Strategy.Parameters["shortPeriod"] != 5 {
		t.Errorf("base request mutated: shortPeriod = %v, want 5", base.Strategy.Parameters["shortPeriod"])
	}
	if _, ok := base.Strategy.Parameters["longPeriod"]; ok {
		t.Error("base request gained longPeriod")
	}
}
