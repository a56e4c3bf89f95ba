// Package domain holds the value types shared by the strategy, simulation,
// storage and API layers of the backtesting engine.
package domain

import "time"

// Market identifies the storage partition a symbol's bars live under.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one daily OHLCV observation. Series of bars are ordered ascending by
// Timestamp and are never mutated once loaded.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// StrategyType tags the rule family a StrategySpec belongs to.
type StrategyType string

const (
	StrategyMovingAverage StrategyType = "MOVING_AVERAGE"
	StrategyRSI           StrategyType = "RSI"
	StrategyBollingerBand StrategyType = "BOLLINGER_BAND"
	StrategyMomentum      StrategyType = "MOMENTUM"
	StrategyMACD          StrategyType = "MACD"
	StrategyCustom        StrategyType = "CUSTOM"
)

// StrategySpec is a strategy type plus its numeric parameters.
type StrategySpec struct {
	Type       StrategyType       `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
}

// Signal is the per-bar decision a strategy emits. The zero value is
// SignalHold so a freshly allocated slice holds on every bar.
type Signal int

const (
	SignalHold Signal = iota
	SignalEnterLong
	SignalExit
)

// String returns the wire name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalEnterLong:
		return "ENTER_LONG"
	case SignalExit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

// Position is the simulator's open long position. A zero StopLossPrice or
// TakeProfitPrice means that rule is not active.
type Position struct {
	EntryDate       time.Time
	EntryPrice      float64
	Quantity        int64
	EntryCommission float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// ExitReason records which rule closed a trade.
type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitEndOfData  ExitReason = "END_OF_DATA"
)

// Trade is a closed round trip. Trades are appended in exit order and never
// modified afterwards.
type Trade struct {
	TradeNumber   int
	EntryDate     time.Time
	ExitDate      time.Time
	EntryPrice    float64
	ExitPrice     float64
	Quantity      int64
	Commission    float64 // entry + exit
	Profit        float64
	ProfitPercent float64
	HoldingDays   int
	ExitReason    ExitReason

	// OpenAtEnd marks a position that was still open on the final bar and
	// was force-closed at that bar's close.
	OpenAtEnd bool
}

// EquityPoint is one mark of the strategy and buy-and-hold curves.
type EquityPoint struct {
	Date      time.Time
	Equity    float64
	Benchmark float64
}
