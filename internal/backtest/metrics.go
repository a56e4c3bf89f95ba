package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"tradejournal/internal/domain"
)

const tradingDaysPerYear = 252

// MonthlyReturn is one calendar month's equity change.
type MonthlyReturn struct {
	Month     string // YYYY-MM
	ReturnPct float64
}

// Metrics summarizes one backtest. Percent fields are in percent units.
// Nil pointers mark ratios whose denominator is zero.
type Metrics struct {
	InitialCapital  float64
	FinalCapital    float64
	TotalReturn     float64
	CAGR            float64
	MaxDrawdown     float64 // positive magnitude
	SharpeRatio     float64
	SortinoRatio    *float64
	CalmarRatio     *float64
	BenchmarkReturn float64

	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	AvgWin         float64
	AvgLoss        float64 // <= 0
	ProfitFactor   *float64
	MaxWinStreak   int
	MaxLossStreak  int
	AvgHoldingDays float64

	Monthly []MonthlyReturn
}

// ComputeMetrics derives the summary statistics of a simulation. It never
// returns NaN or Inf.
func ComputeMetrics(trades []domain.Trade, equity []domain.EquityPoint, drawdown []float64, initialCapital float64) Metrics {
	m := Metrics{
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
	}
	if len(equity) > 0 {
		m.FinalCapital = equity[len(equity)-1].Equity
	}
	if initialCapital > 0 {
		m.TotalReturn = finite((m.FinalCapital/initialCapital - 1) * 100)
	}

	if len(equity) > 1 {
		days := equity[len(equity)-1].Date.Sub(equity[0].Date).Hours() / 24
		m.CAGR = cagr(initialCapital, m.FinalCapital, days)
		if b0 := equity[0].Benchmark; b0 > 0 {
			m.BenchmarkReturn = finite((equity[len(equity)-1].Benchmark/b0 - 1) * 100)
		}
	}

	for _, dd := range drawdown {
		m.MaxDrawdown = math.Max(m.MaxDrawdown, -dd)
	}

	returns := dailyReturns(equity)
	m.SharpeRatio = sharpe(returns)
	m.SortinoRatio = sortino(returns)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = ptr(finite(m.CAGR / m.MaxDrawdown))
	}

	tradeStats(&m, trades)
	m.Monthly = monthlyReturns(equity, initialCapital)
	return m
}

func cagr(initial, final, days float64) float64 {
	switch {
	case days <= 0 || initial <= 0:
		return 0
	case final <= 0:
		return -100
	}
	return finite((math.Pow(final/initial, 365/days) - 1) * 100)
}

func dailyReturns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}

// sharpe is the annualized mean over sample standard deviation of daily
// returns, or 0 when undefined.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return finite(mean / std * math.Sqrt(tradingDaysPerYear))
}

// sortino divides the mean daily return by the downside deviation, the root
// mean square of negative returns taken over all periods. Nil when no
// return is negative.
func sortino(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	var sq float64
	var negatives int
	for _, r := range returns {
		if r < 0 {
			sq += r * r
			negatives++
		}
	}
	if negatives == 0 {
		return nil
	}
	downside := math.Sqrt(sq / float64(len(returns)))
	if downside == 0 {
		return nil
	}
	return ptr(finite(stat.Mean(returns, nil) / downside * math.Sqrt(tradingDaysPerYear)))
}

func tradeStats(m *Metrics, trades []domain.Trade) {
	m.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var grossWin, grossLoss, holding float64
	var winStreak, lossStreak int
	for _, t := range trades {
		holding += float64(t.HoldingDays)
		switch {
		case t.Profit > 0:
			m.WinningTrades++
			grossWin += t.Profit
			winStreak++
			lossStreak = 0
		case t.Profit < 0:
			m.LosingTrades++
			grossLoss += t.Profit
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		m.MaxWinStreak = max(m.MaxWinStreak, winStreak)
		m.MaxLossStreak = max(m.MaxLossStreak, lossStreak)
	}

	n := float64(len(trades))
	m.WinRate = float64(m.WinningTrades) / n * 100
	m.AvgHoldingDays = holding / n
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
		m.ProfitFactor = ptr(finite(grossWin / -grossLoss))
	}
}

// monthlyReturns compares each month's last equity mark with the previous
// month's, starting from initialCapital.
func monthlyReturns(equity []domain.EquityPoint, initialCapital float64) []MonthlyReturn {
	var out []MonthlyReturn
	prev := initialCapital
	for i, p := range equity {
		month := p.Date.Format("2006-01")
		if i+1 < len(equity) && equity[i+1].Date.Format("2006-01") == month {
			continue
		}
		ret := 0.0
		if prev > 0 {
			ret = finite((p.Equity/prev - 1) * 100)
		}
		out = append(out, MonthlyReturn{Month: month, ReturnPct: ret})
		prev = p.Equity
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func ptr(v float64) *float64 {
	return &v
}
