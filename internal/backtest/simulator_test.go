package backtest

import (
	"errors"
	"testing"

	"tradejournal/internal/domain"
)

// signalsAt returns n HOLD signals with the given overrides.
func signalsAt(n int, at map[int]domain.Signal) []domain.Signal {
	out := make([]domain.Signal, n)
	for i, s := range at {
		out[i] = s
	}
	return out
}

func execConfig() ExecutionConfig {
	return ExecutionConfig{InitialCapital: 10000, PositionSizePercent: 100}
}

func TestSimulateRoundTripWithCommission(t *testing.T) {
	bars := barsFromCloses(100, 100, 105, 110, 110)
	signals := signalsAt(5, map[int]domain.Signal{1: domain.SignalEnterLong, 3: domain.SignalExit})
	cfg := execConfig()
	cfg.CommissionRate = 0.001

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(sim.Trades))
	}
	tr := sim.Trades[0]

	entry, exit, qty := 100.0, 110.0, 100.0
	wantProfit := (exit-entry)*qty - entry*qty*0.001 - exit*qty*0.001
	if !approxEqual(tr.Profit, wantProfit, 1e-9) {
		t.Errorf("Profit = %v, want %v", tr.Profit, wantProfit)
	}
	if tr.Quantity != 100 || tr.EntryPrice != 100 || tr.ExitPrice != 110 {
		t.Errorf("trade = qty %d entry %v exit %v, want 100 @ 100 -> 110", tr.Quantity, tr.EntryPrice, tr.ExitPrice)
	}
	if !approxEqual(tr.Commission, 21, 1e-9) {
		t.Errorf("Commission = %v, want 21", tr.Commission)
	}
	if !approxEqual(tr.ProfitPercent, 9.79, 1e-9) {
		t.Errorf("ProfitPercent = %v, want 9.79", tr.ProfitPercent)
	}
	if tr.HoldingDays != 2 || tr.ExitReason != domain.ExitSignal || tr.OpenAtEnd {
		t.Errorf("trade = %d days %s openAtEnd=%v, want 2 days SIGNAL false", tr.HoldingDays, tr.ExitReason, tr.OpenAtEnd)
	}
	if !approxEqual(sim.FinalCapital, 10000+wantProfit, 1e-9) {
		t.Errorf("FinalCapital = %v, want %v", sim.FinalCapital, 10000+wantProfit)
	}

	// Mark-to-market net of the entry commission while in position.
	wantEquity := []float64{10000, 9990, 10490, 10979, 10979}
	for i, w := range wantEquity {
		if !approxEqual(sim.Equity[i].Equity, w, 1e-9) {
			t.Errorf("Equity[%d] = %v, want %v", i, sim.Equity[i].Equity, w)
		}
	}
	if !approxEqual(sim.Drawdown[1], -0.1, 1e-9) {
		t.Errorf("Drawdown[1] = %v, want -0.1", sim.Drawdown[1])
	}
}

func TestSimulateStopLossBeatsExitSignal(t *testing.T) {
	bars := barsFromCloses(100, 100, 98, 100)
	bars[2].Low = 94
	signals := signalsAt(4, map[int]domain.Signal{1: domain.SignalEnterLong, 2: domain.SignalExit})
	cfg := execConfig()
	cfg.StopLossPercent = 5

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(sim.Trades))
	}
	tr := sim.Trades[0]
	if tr.ExitReason != domain.ExitStopLoss || tr.ExitPrice != 95 {
		t.Errorf("exit = %s @ %v, want STOP_LOSS @ 95", tr.ExitReason, tr.ExitPrice)
	}
	if !approxEqual(tr.Profit, -500, 1e-9) {
		t.Errorf("Profit = %v, want -500", tr.Profit)
	}
}

func TestSimulateTakeProfitFillsAtTarget(t *testing.T) {
	bars := barsFromCloses(100, 100, 108, 108)
	bars[2].High = 111
	signals := signalsAt(4, map[int]domain.Signal{1: domain.SignalEnterLong})
	cfg := execConfig()
	cfg.StopLossPercent = 5
	cfg.TakeProfitPercent = 10

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(sim.Trades))
	}
	tr := sim.Trades[0]
	if tr.ExitReason != domain.ExitTakeProfit || !approxEqual(tr.ExitPrice, 110, 1e-9) {
		t.Errorf("exit = %s @ %v, want TAKE_PROFIT @ 110", tr.ExitReason, tr.ExitPrice)
	}
}

func TestSimulateEntryBarIsNotStopChecked(t *testing.T) {
	bars := barsFromCloses(100, 100, 100, 100)
	bars[1].Low = 90
	signals := signalsAt(4, map[int]domain.Signal{1: domain.SignalEnterLong})
	cfg := execConfig()
	cfg.StopLossPercent = 5

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 || sim.Trades[0].ExitReason != domain.ExitEndOfData {
		t.Fatalf("trades = %+v, want one END_OF_DATA trade", sim.Trades)
	}
}

func TestSimulateForceClosesAtEnd(t *testing.T) {
	bars := barsFromCloses(100, 100, 110, 120)
	signals := signalsAt(4, map[int]domain.Signal{1: domain.SignalEnterLong})
	cfg := execConfig()
	cfg.Slippage = 0.01

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(sim.Trades))
	}
	tr := sim.Trades[0]
	if !tr.OpenAtEnd || tr.ExitReason != domain.ExitEndOfData {
		t.Errorf("trade = openAtEnd %v reason %s, want true END_OF_DATA", tr.OpenAtEnd, tr.ExitReason)
	}
	// Entry pays slippage, the forced exit fills at the plain close.
	if !approxEqual(tr.EntryPrice, 101, 1e-9) || tr.ExitPrice != 120 || tr.Quantity != 99 {
		t.Errorf("trade = %d @ %v -> %v, want 99 @ 101 -> 120", tr.Quantity, tr.EntryPrice, tr.ExitPrice)
	}
	if !approxEqual(sim.Equity[3].Equity, sim.FinalCapital, 1e-9) {
		t.Errorf("last equity %v != final capital %v", sim.Equity[3].Equity, sim.FinalCapital)
	}
}

func TestSimulateNoEntryOnLastBar(t *testing.T) {
	bars := barsFromCloses(100, 101, 102)
	signals := signalsAt(3, map[int]domain.Signal{2: domain.SignalEnterLong})

	sim, err := Simulate(bars, signals, execConfig())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(sim.Trades))
	}
}

func TestSimulateNoReentryOnExitBar(t *testing.T) {
	bars := barsFromCloses(100, 100, 97, 97, 97)
	bars[2].Low = 94
	signals := signalsAt(5, map[int]domain.Signal{1: domain.SignalEnterLong, 2: domain.SignalEnterLong})
	cfg := execConfig()
	cfg.StopLossPercent = 5

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(sim.Trades))
	}
	if sim.Equity[4].Equity != sim.FinalCapital {
		t.Errorf("equity after stop = %v, want flat at %v", sim.Equity[4].Equity, sim.FinalCapital)
	}
}

func TestSimulateTooLittleCapitalStaysFlat(t *testing.T) {
	bars := barsFromCloses(100, 100, 120, 120)
	signals := signalsAt(4, map[int]domain.Signal{1: domain.SignalEnterLong})
	cfg := execConfig()
	cfg.InitialCapital = 50

	sim, err := Simulate(bars, signals, cfg)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(sim.Trades) != 0 || sim.FinalCapital != 50 {
		t.Errorf("trades=%d final=%v, want 0 trades and 50", len(sim.Trades), sim.FinalCapital)
	}
}

func TestSimulateBenchmark(t *testing.T) {
	bars := barsFromCloses(100, 150, 200)
	sim, err := Simulate(bars, make([]domain.Signal, 3), execConfig())
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	want := []float64{10000, 15000, 20000}
	for i, w := range want {
		if !approxEqual(sim.Equity[i].Benchmark, w, 1e-9) {
			t.Errorf("Benchmark[%d] = %v, want %v", i, sim.Equity[i].Benchmark, w)
		}
	}
}

func TestSimulateDataIntegrity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(bars []domain.Bar) []domain.Bar
	}{
		{"duplicate date", func(b []domain.Bar) []domain.Bar { b[2].Timestamp = b[1].Timestamp; return b }},
		{"descending date", func(b []domain.Bar) []domain.Bar { b[2].Timestamp = b[0].Timestamp.AddDate(0, 0, -1); return b }},
		{"zero close", func(b []domain.Bar) []domain.Bar { b[1].Close = 0; return b }},
		{"negative low", func(b []domain.Bar) []domain.Bar { b[1].Low = -1; return b }},
		{"low above high", func(b []domain.Bar) []domain.Bar { b[1].Low, b[1].High = 105, 95; return b }},
		{"empty", func(_ []domain.Bar) []domain.Bar { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := tt.mutate(barsFromCloses(100, 101, 102))
			_, err := Simulate(bars, make([]domain.Signal, len(bars)), execConfig())
			if !errors.Is(err, domain.ErrDataIntegrity) {
				t.Errorf("Simulate() error = %v, want ErrDataIntegrity", err)
			}
		})
	}

	_, err := Simulate(barsFromCloses(100, 101), make([]domain.Signal, 3), execConfig())
	if !errors.Is(err, domain.ErrDataIntegrity) {
		t.Errorf("length mismatch error = %v, want ErrDataIntegrity", err)
	}
}
