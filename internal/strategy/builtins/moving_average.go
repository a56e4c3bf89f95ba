package builtins

import (
	"errors"

	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

// Moving average kinds selected by the maType parameter.
const (
	MATypeSMA = 0
	MATypeEMA = 1
)

// MovingAverage enters when the short average crosses above the long one and
// exits on the opposite cross.
func MovingAverage() strategy.Definition {
	return strategy.Definition{
		Type:        domain.StrategyMovingAverage,
		Label:       "Moving Average Crossover",
		Description: "Buy when the short moving average crosses above the long one, sell when it crosses below. maType 0 = SMA, 1 = EMA.",
		Parameters: []strategy.ParamDef{
			period("shortPeriod", 10),
			period("longPeriod", 30),
			{Name: "maType", Default: MATypeSMA, Min: MATypeSMA, Max: MATypeEMA, Integer: true},
		},
		Lookback: func(p strategy.Params) int { return p.Int("longPeriod") },
		Check: func(p strategy.Params) error {
			if p.Int("shortPeriod") >= p.Int("longPeriod") {
				return errors.New("shortPeriod must be less than longPeriod")
			}
			return nil
		},
		Generate: movingAverageSignals,
	}
}

func movingAverageSignals(bars []domain.Bar, p strategy.Params) []domain.Signal {
	avg := strategy.SMA
	if p.Int("maType") == MATypeEMA {
		avg = strategy.EMA
	}
	closes := strategy.Closes(bars)
	short := avg(closes, p.Int("shortPeriod"))
	long := avg(closes, p.Int("longPeriod"))

	out := holdAll(len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case strategy.CrossedAbove(short[i-1], long[i-1], short[i], long[i]):
			out[i] = domain.SignalEnterLong
		case strategy.CrossedBelow(short[i-1], long[i-1], short[i], long[i]):
			out[i] = domain.SignalExit
		}
	}
	return out
}
