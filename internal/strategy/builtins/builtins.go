// Package builtins provides the built-in strategy definitions that ship with
// the backtesting engine.
package builtins

import (
	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// maxPeriod bounds every lookback parameter.
const maxPeriod = 500

// Definitions returns every built-in definition.
func Definitions() []strategy.Definition {
	return []strategy.Definition{
		MovingAverage(),
		RSI(),
		BollingerBand(),
		Momentum(),
		MACD(),
		Custom(),
	}
}

// Register adds all built-in definitions to r.
func Register(r *strategy.Registry) {
	for _, d := range Definitions() {
		r.Register(d)
	}
}

// NewRegistry returns a registry holding all built-in definitions.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

func period(name string, def float64) strategy.ParamDef {
	return strategy.ParamDef{Name: name, Default: def, Min: 1, Max: maxPeriod, Integer: true}
}

func holdAll(n int) []domain.Signal {
	return make([]domain.Signal, n)
}
