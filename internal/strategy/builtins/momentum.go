package builtins

import (
	"errors"

	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// Momentum compares the trailing period return, in percent, against entry
// and exit thresholds.
func Momentum() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyMomentum,
		Label:       "Momentum",
		Description: "Buy when the trailing return over period bars exceeds entryThreshold %, sell when it drops below exitThreshold %.",
		Parameters: []strategy.ParamDef{
			period("period", 10),
			{Name: "entryThreshold", Default: 5, Min: -100, Max: 1000},
			{Name: "exitThreshold", Default: 0, Min: -100, Max: 1000},
		},
		Lookback: func(p strategy.Params) int { return p.Int("period") },
		Check: func(p strategy.Params) error {
			if p.Float("exitThreshold") > p.Float("entryThreshold") {
				return errors.New("exitThreshold must not exceed entryThreshold")
			}
			return nil
		},
		Generate: momentumSignals,
	}
}

func momentumSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	n := p.Int("period")
	entry, exit := p.Float("entryThreshold"), p.Float("exitThreshold")

	out := holdAll(len(bars))
	for i := n; i < len(bars); i++ {
		ret := (bars[i].Close/bars[i-n].Close - 1) * 100
		switch {
		case ret > entry:
			out[i] = domain.SignalEnterLong
		case ret < exit:
			out[i] = domain.SignalExit
		}
	}
	return out
}
