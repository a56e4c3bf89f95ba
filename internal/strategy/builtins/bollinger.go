package builtins

import (
	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// BollingerBand is mean reversion: enter when the close crosses below the
// lower band, exit when it crosses above the upper band.
func BollingerBand() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyBollingerBand,
		Label:       "Bollinger Bands",
		Description: "Buy when price closes below the lower band, sell when it closes above the upper band.",
		Parameters: []strategy.ParamDef{
			period("period", 20),
			{Name: "stdDevMultiplier", Default: 2, Min: 0.1, Max: 10},
		},
		Lookback: func(p strategy.Params) int { return p.Int("period") },
		Generate: bollingerSignals,
	}
}

func bollingerSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	n := p.Int("period")
	k := p.Float("stdDevMultiplier")
	closes := strategy.Closes(bars)
	mid := strategy.SMA(closes, n)
	sd := strategy.StdDev(closes, n)

	lower := make([]float64, len(closes))
	upper := make([]float64, len(closes))
	for i := range closes {
		lower[i] = mid[i] - k*sd[i]
		upper[i] = mid[i] + k*sd[i]
	}

	out := holdAll(len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case strategy.CrossedBelow(closes[i-1], lower[i-1], closes[i], lower[i]):
			out[i] = domain.SignalEnterLong
		case strategy.CrossedAbove(closes[i-1], upper[i-1], closes[i], upper[i]):
			out[i] = domain.SignalExit
		}
	}
	return out
}
