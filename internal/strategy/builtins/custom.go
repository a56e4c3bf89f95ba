package builtins

import (
	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// Custom is a price-channel breakout. It enters when the close exceeds the
// highest high of the previous entryPeriod bars and exits when the close
// falls below the lowest low of the previous exitPeriod bars.
func Custom() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyCustom,
		Label:       "Channel Breakout",
		Description: "Buy on a close above the prior entryPeriod-bar high, sell on a close below the prior exitPeriod-bar low.",
		Parameters: []strategy.ParamDef{
			period("entryPeriod", 20),
			period("exitPeriod", 10),
		},
		Lookback: func(p strategy.Params) int {
			return max(p.Int("entryPeriod"), p.Int("exitPeriod"))
		},
		Generate: channelSignals,
	}
}

func channelSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	highest := strategy.Highest(strategy.Highs(bars), p.Int("entryPeriod"))
	lowest := strategy.Lowest(strategy.Lows(bars), p.Int("exitPeriod"))

	out := holdAll(len(bars))
	for i := 1; i < len(bars); i++ {
		c := bars[i].Close
		switch {
		case c > highest[i-1]:
			out[i] = domain.SignalEnterLong
		case c < lowest[i-1]:
			out[i] = domain.SignalExit
		}
	}
	return out
}
