// Package strategy turns a StrategySpec and a bar series into a per-bar
// signal sequence. Strategy types are registered as Definitions in a Registry
// keyed by domain.StrategyType.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"tradejournal/internal/domain"
)

// Params holds resolved parameter values for one strategy run.
type Params map[string]float64

// Int returns the named parameter rounded to the nearest integer.
func (p Params) Int(name string) int {
	return int(math.Round(p[name]))
}

// Float returns the named parameter.
func (p Params) Float(name string) float64 {
	return p[name]
}

// ParamDef describes one tunable parameter.
type ParamDef struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	Integer bool
}

// Generator computes signals for bars. Implementations must be causal: the
// signal at index i may only depend on bars[0..i].
type Generator func(bars []domain.Bar, p Params) []domain.Signal

// Definition is one registered strategy type.
type Definition struct {
	Type        domain.StrategyType
	Label       string
	Description string
	Parameters  []ParamDef

	// Lookback is the number of leading bars that can only ever be HOLD.
	Lookback func(p Params) int

	// Check validates relationships between parameters. May be nil.
	Check func(p Params) error

	Generate Generator
}

// Defaults returns the default value of every parameter.
func (d Definition) Defaults() map[string]float64 {
	out := make(map[string]float64, len(d.Parameters))
	for _, pd := range d.Parameters {
		out[pd.Name] = pd.Default
	}
	return out
}

// Param returns the named parameter definition.
func (d Definition) Param(name string) (ParamDef, bool) {
	for _, pd := range d.Parameters {
		if pd.Name == name {
			return pd, true
		}
	}
	return ParamDef{}, false
}

// Resolve overlays overrides on the defaults and validates the result.
func (d Definition) Resolve(overrides map[string]float64) (Params, error) {
	p := Params(d.Defaults())
	for name, v := range overrides {
		if _, ok := d.Param(name); !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q for %s", domain.ErrConfiguration, name, d.Type)
		}
		p[name] = v
	}

	for _, pd := range d.Parameters {
		v := p[pd.Name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: parameter %q is not a finite number", domain.ErrConfiguration, pd.Name)
		}
		if pd.Integer && math.Abs(v-math.Round(v)) > 1e-9 {
			return nil, fmt.Errorf("%w: parameter %q must be an integer, got %v", domain.ErrConfiguration, pd.Name, v)
		}
		if v < pd.Min || v > pd.Max {
			return nil, fmt.Errorf("%w: parameter %q = %v outside [%v, %v]", domain.ErrConfiguration, pd.Name, v, pd.Min, pd.Max)
		}
	}

	if d.Check != nil {
		if err := d.Check(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, d.Type, err)
		}
	}
	return p, nil
}

// Registry holds the strategy definitions available to the engine.
type Registry struct {
	defs map[domain.StrategyType]Definition
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[domain.StrategyType]Definition),
	}
}

// Register adds a definition to the registry, keyed by its Type. A later
// registration for the same type replaces the earlier one.
func (r *Registry) Register(d Definition) {
	r.defs[d.Type] = d
}

// Get retrieves a definition by type. The second return value indicates
// whether the type was found.
func (r *Registry) Get(t domain.StrategyType) (Definition, bool) {
	d, ok := r.defs[t]
	return d, ok
}

// Lookup is Get with a configuration error for unknown types.
func (r *Registry) Lookup(t domain.StrategyType) (Definition, error) {
	d, ok := r.defs[t]
	if !ok {
		return Definition{}, fmt.Errorf("%w: unknown strategy type %q", domain.ErrConfiguration, t)
	}
	return d, nil
}

// List returns all registered definitions sorted by type.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Prepare looks up the spec's type and resolves its parameters.
func (r *Registry) Prepare(spec domain.StrategySpec) (Definition, Params, error) {
	d, err := r.Lookup(spec.Type)
	if err != nil {
		return Definition{}, nil, err
	}
	p, err := d.Resolve(spec.Parameters)
	if err != nil {
		return Definition{}, nil, err
	}
	return d, p, nil
}

// GenerateSignals returns one signal per bar for spec.
func (r *Registry) GenerateSignals(bars []domain.Bar, spec domain.StrategySpec) ([]domain.Signal, error) {
	d, p, err := r.Prepare(spec)
	if err != nil {
		return nil, err
	}
	return Generate(d, bars, p), nil
}

// Generate runs d over bars and pins every index inside the lookback to HOLD.
func Generate(d Definition, bars []domain.Bar, p Params) []domain.Signal {
	signals := d.Generate(bars, p)
	if len(signals) != len(bars) {
		fixed := make([]domain.Signal, len(bars))
		copy(fixed, signals)
		signals = fixed
	}
	lb := 0
	if d.Lookback != nil {
		lb = d.Lookback(p)
	}
	for i := 0; i < lb && i < len(signals); i++ {
		signals[i] = domain.SignalHold
	}
	return signals
}
