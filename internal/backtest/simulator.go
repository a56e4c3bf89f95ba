package backtest

import (
	"fmt"
	"math"
	"time"

	"tradejournal/internal/domain"
)

// Simulation is the output of Simulate. Equity and Drawdown hold one entry
// per bar.
type Simulation struct {
	Trades       []domain.Trade
	Equity       []domain.EquityPoint
	Drawdown     []float64 // percent, always <= 0
	FinalCapital float64
}

// ValidateBars checks that bars are usable for simulation. Errors wrap
// domain.ErrDataIntegrity.
func ValidateBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars", domain.ErrDataIntegrity)
	}
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 || anyNonFinite(b.Open, b.High, b.Low, b.Close) {
			return fmt.Errorf("%w: bar %d (%s) has a non-positive price", domain.ErrDataIntegrity, i, b.Timestamp.Format(time.DateOnly))
		}
		if b.Low > b.High {
			return fmt.Errorf("%w: bar %d (%s) has low %v above high %v", domain.ErrDataIntegrity, i, b.Timestamp.Format(time.DateOnly), b.Low, b.High)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d (%s) is not after bar %d (%s)", domain.ErrDataIntegrity,
				i, b.Timestamp.Format(time.DateOnly), i-1, bars[i-1].Timestamp.Format(time.DateOnly))
		}
	}
	return nil
}

func anyNonFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Simulate walks bars once, holding at most one long position.
//
// While flat, ENTER_LONG opens a position at close×(1+slippage) sized to
// PositionSizePercent of current capital. No entry is taken on the final
// bar or on a bar that just closed a position. While in position each later
// bar checks, in order: stop-loss against the low, take-profit against the
// high, then the EXIT signal at close×(1−slippage). Stop and target fill at
// their trigger price. A position still open on the final bar is closed at
// that bar's close and flagged OpenAtEnd.
func Simulate(bars []domain.Bar, signals []domain.Signal, cfg ExecutionConfig) (*Simulation, error) {
	if len(signals) != len(bars) {
		return nil, fmt.Errorf("%w: %d signals for %d bars", domain.ErrDataIntegrity, len(signals), len(bars))
	}
	if err := ValidateBars(bars); err != nil {
		return nil, err
	}

	sim := &Simulation{
		Equity:   make([]domain.EquityPoint, len(bars)),
		Drawdown: make([]float64, len(bars)),
	}

	capital := cfg.InitialCapital
	benchShares := cfg.InitialCapital / bars[0].Close
	last := len(bars) - 1
	peak := math.Inf(-1)

	var pos *domain.Position
	for i, bar := range bars {
		exited := false
		if pos != nil {
			if price, reason, ok := exitPrice(*pos, bar, signals[i], cfg.Slippage); ok {
				capital = sim.closePosition(pos, bar, price, reason, capital, cfg.CommissionRate)
				pos = nil
				exited = true
			}
		}

		if pos == nil && !exited && i < last && signals[i] == domain.SignalEnterLong {
			pos = openPosition(bar, capital, cfg)
		}

		if pos != nil && i == last {
			capital = sim.closePosition(pos, bar, bar.Close, domain.ExitEndOfData, capital, cfg.CommissionRate)
			sim.Trades[len(sim.Trades)-1].OpenAtEnd = true
			pos = nil
		}

		equity := capital
		if pos != nil {
			equity = capital + float64(pos.Quantity)*(bar.Close-pos.EntryPrice) - pos.EntryCommission
		}
		peak = math.Max(peak, equity)

		sim.Equity[i] = domain.EquityPoint{
			Date:      bar.Timestamp,
			Equity:    equity,
			Benchmark: benchShares * bar.Close,
		}
		if peak > 0 {
			sim.Drawdown[i] = (equity - peak) / peak * 100
		}
	}

	sim.FinalCapital = capital
	return sim, nil
}

// openPosition returns a new position, or nil when capital cannot buy one share.
func openPosition(bar domain.Bar, capital float64, cfg ExecutionConfig) *domain.Position {
	entry := bar.Close * (1 + cfg.Slippage)
	qty := int64(math.Floor(capital * cfg.PositionSizePercent / 100 / entry))
	if qty <= 0 {
		return nil
	}
	pos := &domain.Position{
		EntryDate:       bar.Timestamp,
		EntryPrice:      entry,
		Quantity:        qty,
		EntryCommission: entry * float64(qty) * cfg.CommissionRate,
	}
	if cfg.StopLossPercent > 0 {
		pos.StopLossPrice = entry * (1 - cfg.StopLossPercent/100)
	}
	if cfg.TakeProfitPercent > 0 {
		pos.TakeProfitPrice = entry * (1 + cfg.TakeProfitPercent/100)
	}
	return pos
}

// exitPrice decides whether pos exits on bar, and at what price.
func exitPrice(pos domain.Position, bar domain.Bar, sig domain.Signal, slippage float64) (float64, domain.ExitReason, bool) {
	switch {
	case pos.StopLossPrice > 0 && bar.Low <= pos.StopLossPrice:
		return pos.StopLossPrice, domain.ExitStopLoss, true
	case pos.TakeProfitPrice > 0 && bar.High >= pos.TakeProfitPrice:
		return pos.TakeProfitPrice, domain.ExitTakeProfit, true
	case sig == domain.SignalExit:
		return bar.Close * (1 - slippage), domain.ExitSignal, true
	}
	return 0, "", false
}

// closePosition records the round trip and returns the new capital.
func (s *Simulation) closePosition(pos *domain.Position, bar domain.Bar, price float64, reason domain.ExitReason, capital, commissionRate float64) float64 {
	qty := float64(pos.Quantity)
	exitCommission := price * qty * commissionRate
	profit := (price-pos.EntryPrice)*qty - pos.EntryCommission - exitCommission

	s.Trades = append(s.Trades, domain.Trade{
		TradeNumber:   len(s.Trades) + 1,
		EntryDate:     pos.EntryDate,
		ExitDate:      bar.Timestamp,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     price,
		Quantity:      pos.Quantity,
		Commission:    pos.EntryCommission + exitCommission,
		Profit:        profit,
		ProfitPercent: profit / (pos.EntryPrice * qty) * 100,
		HoldingDays:   holdingDays(pos.EntryDate, bar.Timestamp),
		ExitReason:    reason,
	})
	return capital + profit
}

func holdingDays(entry, exit time.Time) int {
	return int(math.Round(exit.Sub(entry).Hours() / 24))
}
