package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"tradejournal/internal/domain"
	"tradejournal/internal/metrics"
)

// ErrNoResults is returned when every combination of an optimization failed.
var ErrNoResults = errors.New("no combination produced a result")

// Default optimizer limits.
const (
	DefaultMaxCombinations  = 10000
	DefaultWarnCombinations = 1000
)

// Optimization targets.
const (
	TargetTotalReturn  = "totalReturn"
	TargetCAGR         = "cagr"
	TargetSharpe       = "sharpeRatio"
	TargetSortino      = "sortinoRatio"
	TargetCalmar       = "calmarRatio"
	TargetWinRate      = "winRate"
	TargetProfitFactor = "profitFactor"
	TargetMaxDrawdown  = "maxDrawdown"
	TargetTotalTrades  = "totalTrades"
)

// Targets lists the metric names an optimization may rank by.
func Targets() []string {
	return []string{
		TargetTotalReturn, TargetCAGR, TargetSharpe, TargetSortino, TargetCalmar,
		TargetWinRate, TargetProfitFactor, TargetMaxDrawdown, TargetTotalTrades,
	}
}

// TargetValue returns the ranking score of m for target. Higher is better.
// Max drawdown is negated. Undefined ratios rank as follows: profit factor
// is +Inf with winners and -Inf without; Sortino and Calmar are +Inf for a
// positive total return and 0 otherwise.
func TargetValue(m Metrics, target string) (float64, error) {
	switch target {
	case TargetTotalReturn:
		return m.TotalReturn, nil
	case TargetCAGR:
		return m.CAGR, nil
	case TargetSharpe:
		return m.SharpeRatio, nil
	case TargetSortino:
		return undefinedRatio(m.SortinoRatio, m.TotalReturn), nil
	case TargetCalmar:
		return undefinedRatio(m.CalmarRatio, m.TotalReturn), nil
	case TargetWinRate:
		return m.WinRate, nil
	case TargetProfitFactor:
		if m.ProfitFactor != nil {
			return *m.ProfitFactor, nil
		}
		if m.WinningTrades > 0 {
			return math.Inf(1), nil
		}
		return math.Inf(-1), nil
	case TargetMaxDrawdown:
		return -m.MaxDrawdown, nil
	case TargetTotalTrades:
		return float64(m.TotalTrades), nil
	}
	return 0, fmt.Errorf("%w: unknown optimization target %q", domain.ErrValidation, target)
}

func undefinedRatio(v *float64, totalReturn float64) float64 {
	if v != nil {
		return *v
	}
	if totalReturn > 0 {
		return math.Inf(1)
	}
	return 0
}

// ---------------------------------------------------------------------------
// Request and result types
// ---------------------------------------------------------------------------

// Range is an inclusive stepped parameter range.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Values enumerates min + k·step for k = 0..floor((max−min)/step). Values
// are rounded to 10 decimals to absorb accumulated float error.
func (r Range) Values() []float64 {
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for k := range out {
		out[k] = roundTo(r.Min+float64(k)*r.Step, 10)
	}
	return out
}

func (r Range) count() int {
	return int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// OptimizeRequest is a base backtest plus parameter ranges to sweep. Base
// strategy parameters without a range stay fixed.
type OptimizeRequest struct {
	Base   Request
	Ranges map[string]Range
	Target string
}

// CombinationResult is one evaluated grid point. Exactly one of Metrics and
// Err is set.
type CombinationResult struct {
	Index      int
	Parameters map[string]float64
	Metrics    *Metrics
	Score      float64
	Err        string
}

// OptimizationResult is the outcome of a grid search. AllResults holds the
// successes ordered best first, followed by the failures in generation order.
type OptimizationResult struct {
	Target            string
	BestParameters    map[string]float64
	Best              *Result
	AllResults        []CombinationResult
	TotalCombinations int
	Skipped           int
	Cancelled         bool
	ExecutionTime     time.Duration
}

// ---------------------------------------------------------------------------
// Optimizer
// ---------------------------------------------------------------------------

// OptimizerConfig bounds the grid search. Zero values select the defaults.
type OptimizerConfig struct {
	Workers          int
	MaxCombinations  int
	WarnCombinations int
}

// Optimizer runs a backtest for every combination of a parameter grid.
type Optimizer struct {
	bt      *Backtester
	cfg     OptimizerConfig
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewOptimizer creates an Optimizer over bt. m may be nil.
func NewOptimizer(bt *Backtester, cfg OptimizerConfig, m *metrics.Metrics) *Optimizer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxCombinations <= 0 {
		cfg.MaxCombinations = DefaultMaxCombinations
	}
	if cfg.WarnCombinations <= 0 {
		cfg.WarnCombinations = DefaultWarnCombinations
	}
	return &Optimizer{
		bt:      bt,
		cfg:     cfg,
		metrics: m,
		log:     slog.Default().With("component", "optimizer"),
	}
}

// grid is the expanded parameter space. Combination i is decoded in mixed
// radix with the last name varying fastest.
type grid struct {
	names  []string
	values [][]float64
	total  int
}

func (g grid) params(i int) map[string]float64 {
	out := make(map[string]float64, len(g.names))
	for k := len(g.names) - 1; k >= 0; k-- {
		vals := g.values[k]
		out[g.names[k]] = vals[i%len(vals)]
		i /= len(vals)
	}
	return out
}

// Validate checks req and returns the total number of combinations.
func (o *Optimizer) Validate(req OptimizeRequest) (int, error) {
	g, err := o.expand(req)
	if err != nil {
		return 0, err
	}
	return g.total, nil
}

func (o *Optimizer) expand(req OptimizeRequest) (grid, error) {
	if err := req.Base.Validate(); err != nil {
		return grid{}, err
	}
	def, err := o.bt.registry.Lookup(req.Base.Strategy.Type)
	if err != nil {
		return grid{}, err
	}
	if _, err := TargetValue(Metrics{}, req.Target); err != nil {
		return grid{}, err
	}
	if len(req.Ranges) == 0 {
		return grid{}, invalid("at least one parameter range is required")
	}

	g := grid{total: 1}
	for name := range req.Ranges {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		r := req.Ranges[name]
		if _, ok := def.Param(name); !ok {
			return grid{}, invalid("%s has no parameter %q", def.Type, name)
		}
		if anyNonFinite(r.Min, r.Max, r.Step) {
			return grid{}, invalid("range for %q must be finite", name)
		}
		if r.Step <= 0 {
			return grid{}, invalid("step for %q must be positive, got %v", name, r.Step)
		}
		if r.Max < r.Min {
			return grid{}, invalid("range for %q has max %v below min %v", name, r.Max, r.Min)
		}
		n := r.count()
		if n > o.cfg.MaxCombinations || g.total > o.cfg.MaxCombinations/n {
			return grid{}, invalid("parameter grid exceeds %d combinations", o.cfg.MaxCombinations)
		}
		g.total *= n
	}

	for _, name := range g.names {
		g.values = append(g.values, req.Ranges[name].Values())
	}
	return g, nil
}

// Optimize runs every combination on a bounded worker pool and ranks them by
// req.Target. Bars are loaded once and shared read-only. Cancelling ctx stops
// handing out combinations; the results gathered so far are returned with
// Cancelled set.
func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizationResult, error) {
	runStart := time.Now()
	defer func() { o.metrics.RecordOptimization(time.Since(runStart)) }()

	g, err := o.expand(req)
	if err != nil {
		return nil, err
	}
	if g.total > o.cfg.WarnCombinations {
		o.log.Warn("large parameter grid", "combinations", g.total, "warnAbove", o.cfg.WarnCombinations)
	}

	bars, err := o.bt.LoadBars(ctx, req.Base)
	if err != nil {
		return nil, err
	}

	o.log.Info("starting optimization",
		"symbol", req.Base.Symbol,
		"strategy", req.Base.Strategy.Type,
		"target", req.Target,
		"combinations", g.total,
		"bars", len(bars),
	)

	comboCh := make(chan int, g.total)
	for i := 0; i < g.total; i++ {
		comboCh <- i
	}
	close(comboCh)

	resultCh := make(chan CombinationResult, g.total)
	var wg sync.WaitGroup

	workers := min(o.cfg.Workers, g.total)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range comboCh {
				if ctx.Err() != nil {
					return
				}
				resultCh <- o.evaluate(bars, req, g, idx)
			}
		}()
	}
	wg.Wait()
	close(resultCh)

	var succeeded, failed []CombinationResult
	for r := range resultCh {
		if r.Metrics != nil {
			succeeded = append(succeeded, r)
		} else {
			failed = append(failed, r)
		}
	}
	cancelled := len(succeeded)+len(failed) < g.total

	sort.Slice(succeeded, func(i, j int) bool {
		if succeeded[i].Score != succeeded[j].Score {
			return succeeded[i].Score > succeeded[j].Score
		}
		return succeeded[i].Index < succeeded[j].Index
	})
	sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })

	out := &OptimizationResult{
		Target:            req.Target,
		AllResults:        append(succeeded, failed...),
		TotalCombinations: g.total,
		Skipped:           len(failed),
		Cancelled:         cancelled,
	}

	if len(succeeded) == 0 {
		if !cancelled {
			return nil, fmt.Errorf("%w: all %d combinations failed, first error: %s", ErrNoResults, g.total, failed[0].Err)
		}
	} else {
		best := succeeded[0]
		bestReq := req.Base.WithParameters(best.Parameters)
		res, err := o.bt.RunBars(bars, bestReq)
		if err != nil {
			return nil, fmt.Errorf("re-running best combination %d: %w", best.Index, err)
		}
		out.BestParameters = bestReq.Strategy.Parameters
		out.Best = res
	}
	out.ExecutionTime = time.Since(runStart)

	o.log.Info("optimization complete",
		"combinations", g.total,
		"succeeded", len(succeeded),
		"skipped", len(failed),
		"cancelled", cancelled,
		"elapsed", out.ExecutionTime,
	)
	return out, nil
}

func (o *Optimizer) evaluate(bars []domain.Bar, req OptimizeRequest, g grid, idx int) CombinationResult {
	params := g.params(idx)
	cr := CombinationResult{Index: idx, Parameters: params}

	res, err := o.bt.RunBars(bars, req.Base.WithParameters(params))
	if err == nil {
		cr.Score, err = TargetValue(res.Metrics, req.Target)
	}
	o.metrics.RecordCombination(err == nil)
	if err != nil {
		cr.Err = err.Error()
		return cr
	}
	cr.Metrics = &res.Metrics
	return cr
}
