package builtins

import (
	"errors"
	"math"

	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// MACD enters when the MACD line crosses above its signal line and exits on
// the opposite cross.
func MACD() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyMACD,
		Label:       "MACD",
		Description: "Buy when the MACD line crosses above the signal line, sell when it crosses below.",
		Parameters: []strategy.ParamDef{
			period("fastPeriod", 12),
			period("slowPeriod", 26),
			period("signalPeriod", 9),
		},
		Lookback: func(p strategy.Params) int {
			return p.Int("slowPeriod") + p.Int("signalPeriod") - 1
		},
		Check: func(p strategy.Params) error {
			if p.Int("fastPeriod") >= p.Int("slowPeriod") {
				return errors.New("fastPeriod must be less than slowPeriod")
			}
			return nil
		},
		Generate: macdSignals,
	}
}

func macdSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	closes := strategy.Closes(bars)
	fast := strategy.EMA(closes, p.Int("fastPeriod"))
	slow := strategy.EMA(closes, p.Int("slowPeriod"))

	line := make([]float64, len(closes))
	for i := range closes {
		if math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			line[i] = math.NaN()
			continue
		}
		line[i] = fast[i] - slow[i]
	}
	signal := strategy.EMA(line, p.Int("signalPeriod"))

	out := holdAll(len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case strategy.CrossedAbove(line[i-1], signal[i-1], line[i], signal[i]):
			out[i] = domain.SignalEnterLong
		case strategy.CrossedBelow(line[i-1], signal[i-1], line[i], signal[i]):
			out[i] = domain.SignalExit
		}
	}
	return out
}
