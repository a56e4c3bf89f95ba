package backtest

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat"

	"tradejournal/internal/domain"
)

func equityCurve(start time.Time, stepDays int, values ...float64) []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		out[i] = domain.EquityPoint{Date: start.AddDate(0, 0, i*stepDays), Equity: v, Benchmark: v}
	}
	return out
}

func drawdownOf(equity []domain.EquityPoint) []float64 {
	out := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, p := range equity {
		peak = math.Max(peak, p.Equity)
		out[i] = (p.Equity - peak) / peak * 100
	}
	return out
}

func TestComputeMetricsNoTradesFlat(t *testing.T) {
	eq := equityCurve(day0, 1, 10000, 10000, 10000, 10000)
	m := ComputeMetrics(nil, eq, drawdownOf(eq), 10000)

	if m.TotalReturn != 0 || m.CAGR != 0 || m.MaxDrawdown != 0 || m.SharpeRatio != 0 {
		t.Errorf("metrics = %+v, want all zero", m)
	}
	if m.SortinoRatio != nil || m.CalmarRatio != nil || m.ProfitFactor != nil {
		t.Errorf("undefined ratios = %v %v %v, want nil", m.SortinoRatio, m.CalmarRatio, m.ProfitFactor)
	}
	if m.TotalTrades != 0 || m.WinRate != 0 || m.AvgHoldingDays != 0 {
		t.Errorf("trade stats = %+v, want zero", m)
	}
}

func TestComputeMetricsTradeStats(t *testing.T) {
	profits := []float64{100, 50, 0, -30, -20, -10, 200}
	trades := make([]domain.Trade, len(profits))
	for i, p := range profits {
		trades[i] = domain.Trade{TradeNumber: i + 1, Profit: p, HoldingDays: i + 1}
	}
	eq := equityCurve(day0, 1, 10000, 10290)
	m := ComputeMetrics(trades, eq, drawdownOf(eq), 10000)

	if m.TotalTrades != 7 || m.WinningTrades != 3 || m.LosingTrades != 3 {
		t.Errorf("counts = %d/%d/%d, want 7/3/3", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	}
	if !approxEqual(m.WinRate, 300.0/7, 1e-9) {
		t.Errorf("WinRate = %v, want %v", m.WinRate, 300.0/7)
	}
	if !approxEqual(m.AvgWin, 350.0/3, 1e-9) {
		t.Errorf("AvgWin = %v, want %v", m.AvgWin, 350.0/3)
	}
	if !approxEqual(m.AvgLoss, -20, 1e-9) {
		t.Errorf("AvgLoss = %v, want -20", m.AvgLoss)
	}
	if m.ProfitFactor == nil || !approxEqual(*m.ProfitFactor, 350.0/60, 1e-9) {
		t.Errorf("ProfitFactor = %v, want %v", m.ProfitFactor, 350.0/60)
	}
	// The zero-profit trade ends the 2-trade win run.
	if m.MaxWinStreak != 2 || m.MaxLossStreak != 3 {
		t.Errorf("streaks = win %d loss %d, want 2 and 3", m.MaxWinStreak, m.MaxLossStreak)
	}
	if !approxEqual(m.AvgHoldingDays, 4, 1e-9) {
		t.Errorf("AvgHoldingDays = %v, want 4", m.AvgHoldingDays)
	}
}

func TestComputeMetricsNoLosersHasNullProfitFactor(t *testing.T) {
	trades := []domain.Trade{{Profit: 10}, {Profit: 20}}
	eq := equityCurve(day0, 1, 100, 130)
	m := ComputeMetrics(trades, eq, drawdownOf(eq), 100)
	if m.ProfitFactor != nil {
		t.Errorf("ProfitFactor = %v, want nil", *m.ProfitFactor)
	}
	if m.AvgLoss != 0 || m.WinRate != 100 {
		t.Errorf("AvgLoss=%v WinRate=%v, want 0 and 100", m.AvgLoss, m.WinRate)
	}
}

func TestComputeMetricsCAGR(t *testing.T) {
	eq := equityCurve(day0, 730, 10000, 12100)
	m := ComputeMetrics(nil, eq, drawdownOf(eq), 10000)
	if !approxEqual(m.TotalReturn, 21, 1e-9) {
		t.Errorf("TotalReturn = %v, want 21", m.TotalReturn)
	}
	if !approxEqual(m.CAGR, 10, 1e-9) {
		t.Errorf("CAGR = %v, want 10", m.CAGR)
	}
}

func TestComputeMetricsDrawdownAndCalmar(t *testing.T) {
	eq := equityCurve(day0, 1, 100, 120, 90, 110, 130)
	dd := drawdownOf(eq)
	m := ComputeMetrics(nil, eq, dd, 100)

	if !approxEqual(m.MaxDrawdown, 25, 1e-9) {
		t.Errorf("MaxDrawdown = %v, want 25", m.MaxDrawdown)
	}
	if m.CalmarRatio == nil || !approxEqual(*m.CalmarRatio, m.CAGR/25, 1e-9) {
		t.Errorf("CalmarRatio = %v, want CAGR/25", m.CalmarRatio)
	}
	if m.SortinoRatio == nil {
		t.Error("SortinoRatio = nil, want a value with one losing day")
	}
}

func TestComputeMetricsSharpeMatchesSampleStdDev(t *testing.T) {
	eq := equityCurve(day0, 1, 100, 102, 101, 104, 103, 107)
	m := ComputeMetrics(nil, eq, drawdownOf(eq), 100)

	var returns []float64
	for i := 1; i < len(eq); i++ {
		returns = append(returns, eq[i].Equity/eq[i-1].Equity-1)
	}
	mean, std := stat.MeanStdDev(returns, nil)
	want := mean / std * math.Sqrt(252)
	if !approxEqual(m.SharpeRatio, want, 1e-9) {
		t.Errorf("SharpeRatio = %v, want %v", m.SharpeRatio, want)
	}
}

func TestComputeMetricsNoDownsideHasNullSortino(t *testing.T) {
	eq := equityCurve(day0, 1, 100, 101, 103, 106)
	m := ComputeMetrics(nil, eq, drawdownOf(eq), 100)
	if m.SortinoRatio != nil {
		t.Errorf("SortinoRatio = %v, want nil", *m.SortinoRatio)
	}
	if m.CalmarRatio != nil {
		t.Errorf("CalmarRatio = %v, want nil", *m.CalmarRatio)
	}
}

func TestComputeMetricsMonthly(t *testing.T) {
	jan := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	eq := []domain.EquityPoint{
		{Date: jan, Equity: 1000},
		{Date: jan.AddDate(0, 0, 1), Equity: 1100},                  // Jan 31
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Equity: 1050},
		{Date: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Equity: 990},
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Equity: 1089},
	}
	m := ComputeMetrics(nil, eq, drawdownOf(eq), 1000)

	want := []MonthlyReturn{
		{Month: "2024-01", ReturnPct: 10},
		{Month: "2024-02", ReturnPct: -10},
		{Month: "2024-03", ReturnPct: 10},
	}
	if len(m.Monthly) != len(want) {
		t.Fatalf("Monthly = %v, want %v", m.Monthly, want)
	}
	for i, w := range want {
		if m.Monthly[i].Month != w.Month || !approxEqual(m.Monthly[i].ReturnPct, w.ReturnPct, 1e-9) {
			t.Errorf("Monthly[%d] = %+v, want %+v", i, m.Monthly[i], w)
		}
	}
}

func TestComputeMetricsNeverNaN(t *testing.T) {
	eq := equityCurve(day0, 0, 100, 100)
	m := ComputeMetrics([]domain.Trade{{Profit: 0}}, eq, []float64{0, 0}, 100)
	for name, v := range map[string]float64{
		"TotalReturn": m.TotalReturn, "CAGR": m.CAGR, "Sharpe": m.SharpeRatio,
		"WinRate": m.WinRate, "AvgWin": m.AvgWin, "AvgLoss": m.AvgLoss,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s = %v, want finite", name, v)
		}
	}
}
