package builtins

import (
	"errors"

	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// RSI holds a level policy: ENTER_LONG on every bar with RSI below the
// oversold level and EXIT on every bar above the overbought level. The
// simulator ignores entries while in position and exits while flat.
func RSI() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyRSI,
		Label:       "RSI Mean Reversion",
		Description: "Buy while RSI is below the oversold level, sell while it is above the overbought level (Wilder smoothing).",
		Parameters: []strategy.ParamDef{
			period("period", 14),
			{Name: "oversoldLevel", Default: 30, Min: 0, Max: 100},
			{Name: "overboughtLevel", Default: 70, Min: 0, Max: 100},
		},
		Lookback: func(p strategy.Params) int { return p.Int("period") },
		Check: func(p strategy.Params) error {
			if p.Float("oversoldLevel") >= p.Float("overboughtLevel") {
				return errors.New("oversoldLevel must be less than overboughtLevel")
			}
			return nil
		},
		Generate: rsiSignals,
	}
}

func rsiSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	rsi := strategy.RSI(strategy.Closes(bars), p.Int("period"))
	oversold, overbought := p.Float("oversoldLevel"), p.Float("overboughtLevel")

	out := holdAll(len(bars))
	for i, v := range rsi {
		switch {
		case v < oversold:
			out[i] = domain.SignalEnterLong
		case v > overbought:
			out[i] = domain.SignalExit
		}
	}
	return out
}
