// Package httpapi serves the backtest engine as a JSON REST API.
package httpapi

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradejournal/internal/backtest"
	"tradejournal/internal/domain"
	"tradejournal/internal/strategy"
)

const dateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// BacktestRequestJSON is the body of POST /api/backtest/run. Dates are
// YYYY-MM-DD; the end date is inclusive.
type BacktestRequestJSON struct {
	Symbol              string              `json:"symbol"`
	Strategy            domain.StrategySpec `json:"strategy"`
	StartDate           string              `json:"startDate"`
	EndDate             string              `json:"endDate"`
	InitialCapital      float64             `json:"initialCapital"`
	PositionSizePercent float64             `json:"positionSizePercent"`
	CommissionRate      float64             `json:"commissionRate"`
	Slippage            float64             `json:"slippage"`
	StopLossPercent     float64             `json:"stopLossPercent,omitempty"`
	TakeProfitPercent   float64             `json:"takeProfitPercent,omitempty"`
}

// ToRequest parses dates and returns the engine request. Malformed dates
// fail with domain.ErrValidation.
func (r BacktestRequestJSON) ToRequest() (backtest.Request, error) {
	start, err := parseDate("startDate", r.StartDate)
	if err != nil {
		return backtest.Request{}, err
	}
	end, err := parseDate("endDate", r.EndDate)
	if err != nil {
		return backtest.Request{}, err
	}
	return backtest.Request{
		Symbol:              r.Symbol,
		Strategy:            r.Strategy,
		StartDate:           start,
		EndDate:             end,
		InitialCapital:      r.InitialCapital,
		PositionSizePercent: r.PositionSizePercent,
		CommissionRate:      r.CommissionRate,
		Slippage:            r.Slippage,
		StopLossPercent:     r.StopLossPercent,
		TakeProfitPercent:   r.TakeProfitPercent,
	}, nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not YYYY-MM-DD", domain.ErrValidation, field, s)
	}
	return t, nil
}

// RangeJSON is an inclusive parameter range.
type RangeJSON struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// OptimizationRequestJSON is the body of POST /api/backtest/optimize.
// Strategy parameters not named in ParameterRanges stay fixed.
type OptimizationRequestJSON struct {
	BacktestRequestJSON
	ParameterRanges map[string]RangeJSON `json:"parameterRanges"`
	Target          string               `json:"target"`
}

// ToRequest returns the engine optimization request.
func (r OptimizationRequestJSON) ToRequest() (backtest.OptimizeRequest, error) {
	base, err := r.BacktestRequestJSON.ToRequest()
	if err != nil {
		return backtest.OptimizeRequest{}, err
	}
	ranges := make(map[string]backtest.Range, len(r.ParameterRanges))
	for name, rg := range r.ParameterRanges {
		ranges[name] = backtest.Range{Min: rg.Min, Max: rg.Max, Step: rg.Step}
	}
	target := r.Target
	if target == "" {
		target = backtest.TargetTotalReturn
	}
	return backtest.OptimizeRequest{Base: base, Ranges: ranges, Target: target}, nil
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// ParameterJSON describes one tunable strategy parameter.
type ParameterJSON struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
}

// StrategyJSON is one entry of GET /api/backtest/strategies.
type StrategyJSON struct {
	Type          domain.StrategyType `json:"type"`
	Label         string              `json:"label"`
	Description   string              `json:"description"`
	Parameters    map[string]float64  `json:"parameters"`
	ParameterDefs []ParameterJSON     `json:"parameterDefs"`
}

// TradeJSON is one closed round trip.
type TradeJSON struct {
	TradeNumber   int     `json:"tradeNumber"`
	EntryDate     string  `json:"entryDate"`
	ExitDate      string  `json:"exitDate"`
	EntryPrice    float64 `json:"entryPrice"`
	ExitPrice     float64 `json:"exitPrice"`
	Quantity      int64   `json:"quantity"`
	Commission    float64 `json:"commission"`
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profitPercent"`
	HoldingDays   int     `json:"holdingDays"`
	ExitReason    string  `json:"exitReason"`
	OpenAtEnd     bool    `json:"openAtEnd"`
}

// MonthlyJSON is one calendar month's return.
type MonthlyJSON struct {
	Month     string  `json:"month"`
	ReturnPct float64 `json:"returnPct"`
}

// BacktestResultJSON is the response of POST /api/backtest/run. Ratios
// that are undefined for the run are null.
type BacktestResultJSON struct {
	ID        string              `json:"id,omitempty"`
	Symbol    string              `json:"symbol"`
	Strategy  domain.StrategySpec `json:"strategy"`
	StartDate string              `json:"startDate"`
	EndDate   string              `json:"endDate"`

	InitialCapital  float64  `json:"initialCapital"`
	FinalCapital    float64  `json:"finalCapital"`
	TotalReturn     float64  `json:"totalReturn"`
	CAGR            float64  `json:"cagr"`
	MaxDrawdown     float64  `json:"maxDrawdown"`
	SharpeRatio     float64  `json:"sharpeRatio"`
	SortinoRatio    *float64 `json:"sortinoRatio"`
	CalmarRatio     *float64 `json:"calmarRatio"`
	BenchmarkReturn float64  `json:"benchmarkReturn"`

	TotalTrades    int      `json:"totalTrades"`
	WinningTrades  int      `json:"winningTrades"`
	LosingTrades   int      `json:"losingTrades"`
	WinRate        float64  `json:"winRate"`
	AvgWin         float64  `json:"avgWin"`
	AvgLoss        float64  `json:"avgLoss"`
	ProfitFactor   *float64 `json:"profitFactor"`
	MaxWinStreak   int      `json:"maxWinStreak"`
	MaxLossStreak  int      `json:"maxLossStreak"`
	AvgHoldingDays float64  `json:"avgHoldingDays"`

	Trades             []TradeJSON   `json:"trades"`
	EquityLabels       []string      `json:"equityLabels"`
	EquityCurve        []float64     `json:"equityCurve"`
	BenchmarkCurve     []float64     `json:"benchmarkCurve"`
	DrawdownCurve      []float64     `json:"drawdownCurve"`
	MonthlyPerformance []MonthlyJSON `json:"monthlyPerformance"`
}

// CombinationJSON summarizes one optimizer combination. Failed
// combinations carry Error and zero metrics.
type CombinationJSON struct {
	Parameters  map[string]float64 `json:"parameters"`
	TotalReturn float64            `json:"totalReturn"`
	MaxDrawdown float64            `json:"maxDrawdown"`
	SharpeRatio float64            `json:"sharpeRatio"`
	WinRate     float64            `json:"winRate"`
	TotalTrades int                `json:"totalTrades"`
	Error       string             `json:"error,omitempty"`
}

// OptimizationResultJSON is the response of POST /api/backtest/optimize.
type OptimizationResultJSON struct {
	ID                string              `json:"id,omitempty"`
	Target            string              `json:"target"`
	BestParameters    map[string]float64  `json:"bestParameters"`
	BestResult        *BacktestResultJSON `json:"bestResult"`
	AllResults        []CombinationJSON   `json:"allResults"`
	TotalCombinations int                 `json:"totalCombinations"`
	Skipped           int                 `json:"skipped"`
	Cancelled         bool                `json:"cancelled"`
	ExecutionTimeMs   int64               `json:"executionTimeMs"`
}

// HistoryEntryJSON is one entry of GET /api/backtest/history.
type HistoryEntryJSON struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Symbol       string  `json:"symbol"`
	StrategyType string  `json:"strategyType"`
	TotalReturn  float64 `json:"totalReturn"`
	CreatedAt    string  `json:"createdAt"`
}

// HistoryResponse is the response of GET /api/backtest/history.
type HistoryResponse struct {
	Results []HistoryEntryJSON `json:"results"`
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// Decimal places applied to response numbers.
const (
	moneyPlaces   = 2
	pricePlaces   = 4
	percentPlaces = 4
)

// round rounds v half away from zero. Non-finite values become 0 so they
// never reach the encoder.
func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func roundPtr(v *float64, places int32) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	r := round(*v, places)
	return &r
}

// NewStrategyJSON describes a registered strategy.
func NewStrategyJSON(d strategy.Definition) StrategyJSON {
	defs := make([]ParameterJSON, len(d.Parameters))
	for i, p := range d.Parameters {
		defs[i] = ParameterJSON{Name: p.Name, Default: p.Default, Min: p.Min, Max: p.Max, Integer: p.Integer}
	}
	return StrategyJSON{
		Type:          d.Type,
		Label:         d.Label,
		Description:   d.Description,
		Parameters:    d.Defaults(),
		ParameterDefs: defs,
	}
}

// NewBacktestResultJSON converts an engine result for the wire.
func NewBacktestResultJSON(res *backtest.Result) *BacktestResultJSON {
	m := res.Metrics
	out := &BacktestResultJSON{
		Symbol:    strings.ToUpper(strings.TrimSpace(res.Request.Symbol)),
		Strategy:  res.Request.Strategy,
		StartDate: res.Request.StartDate.Format(dateLayout),
		EndDate:   res.Request.EndDate.Format(dateLayout),

		InitialCapital:  round(m.InitialCapital, moneyPlaces),
		FinalCapital:    round(m.FinalCapital, moneyPlaces),
		TotalReturn:     round(m.TotalReturn, percentPlaces),
		CAGR:            round(m.CAGR, percentPlaces),
		MaxDrawdown:     round(m.MaxDrawdown, percentPlaces),
		SharpeRatio:     round(m.SharpeRatio, percentPlaces),
		SortinoRatio:    roundPtr(m.SortinoRatio, percentPlaces),
		CalmarRatio:     roundPtr(m.CalmarRatio, percentPlaces),
		BenchmarkReturn: round(m.BenchmarkReturn, percentPlaces),

		TotalTrades:    m.TotalTrades,
		WinningTrades:  m.WinningTrades,
		LosingTrades:   m.LosingTrades,
		WinRate:        round(m.WinRate, percentPlaces),
		AvgWin:         round(m.AvgWin, moneyPlaces),
		AvgLoss:        round(m.AvgLoss, moneyPlaces),
		ProfitFactor:   roundPtr(m.ProfitFactor, percentPlaces),
		MaxWinStreak:   m.MaxWinStreak,
		MaxLossStreak:  m.MaxLossStreak,
		AvgHoldingDays: round(m.AvgHoldingDays, percentPlaces),

		Trades:             make([]TradeJSON, len(res.Trades)),
		EquityLabels:       make([]string, len(res.Equity)),
		EquityCurve:        make([]float64, len(res.Equity)),
		BenchmarkCurve:     make([]float64, len(res.Equity)),
		DrawdownCurve:      make([]float64, len(res.Drawdown)),
		MonthlyPerformance: make([]MonthlyJSON, len(m.Monthly)),
	}
	for i, t := range res.Trades {
		out.Trades[i] = TradeJSON{
			TradeNumber:   t.TradeNumber,
			EntryDate:     t.EntryDate.Format(dateLayout),
			ExitDate:      t.ExitDate.Format(dateLayout),
			EntryPrice:    round(t.EntryPrice, pricePlaces),
			ExitPrice:     round(t.ExitPrice, pricePlaces),
			Quantity:      t.Quantity,
			Commission:    round(t.Commission, moneyPlaces),
			Profit:        round(t.Profit, moneyPlaces),
			ProfitPercent: round(t.ProfitPercent, percentPlaces),
			HoldingDays:   t.HoldingDays,
			ExitReason:    string(t.ExitReason),
			OpenAtEnd:     t.OpenAtEnd,
		}
	}
	for i, p := range res.Equity {
		out.EquityLabels[i] = p.Date.Format(dateLayout)
		out.EquityCurve[i] = round(p.Equity, moneyPlaces)
		out.BenchmarkCurve[i] = round(p.Benchmark, moneyPlaces)
	}
	for i, dd := range res.Drawdown {
		out.DrawdownCurve[i] = round(dd, percentPlaces)
	}
	for i, mr := range m.Monthly {
		out.MonthlyPerformance[i] = MonthlyJSON{Month: mr.Month, ReturnPct: round(mr.ReturnPct, percentPlaces)}
	}
	return out
}

// NewOptimizationResultJSON converts an optimizer result for the wire.
func NewOptimizationResultJSON(res *backtest.OptimizationResult) *OptimizationResultJSON {
	out := &OptimizationResultJSON{
		Target:            res.Target,
		BestParameters:    res.BestParameters,
		AllResults:        make([]CombinationJSON, len(res.AllResults)),
		TotalCombinations: res.TotalCombinations,
		Skipped:           res.Skipped,
		Cancelled:         res.Cancelled,
		ExecutionTimeMs:   res.ExecutionTime.Milliseconds(),
	}
	if res.Best != nil {
		out.BestResult = NewBacktestResultJSON(res.Best)
	}
	for i, c := range res.AllResults {
		cj := CombinationJSON{Parameters: c.Parameters, Error: c.Err}
		if c.Metrics != nil {
			cj.TotalReturn = round(c.Metrics.TotalReturn, percentPlaces)
			cj.MaxDrawdown = round(c.Metrics.MaxDrawdown, percentPlaces)
			cj.SharpeRatio = round(c.Metrics.SharpeRatio, percentPlaces)
			cj.WinRate = round(c.Metrics.WinRate, percentPlaces)
			cj.TotalTrades = c.Metrics.TotalTrades
		}
		out.AllResults[i] = cj
	}
	return out
}

// sortedKeys returns m's keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
