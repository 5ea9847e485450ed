// Package attack defines adversarial attack strategies and the registry that
// resolves attack method ids to them.
package attack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"advsandbox/internal/inference"
	"advsandbox/internal/store"
)

var (
	// ErrCancelled is returned by a ProgressFunc when the job was cancelled.
	// Strategies must stop and return it unchanged.
	ErrCancelled = errors.New("attack cancelled")

	// ErrInvalidParams is returned when parameters are unknown or out of bounds.
	ErrInvalidParams = errors.New("invalid attack parameters")
)

// StrategyError is a domain failure raised by a strategy. Its message is
// reported to the caller verbatim.
type StrategyError struct {
	Method string
	Reason string
}

func (e *StrategyError) Error() string {
	return e.Reason
}

func failf(method, format string, args ...any) error {
	return &StrategyError{Method: method, Reason: fmt.Sprintf(format, args...)}
}

// ProgressFunc reports progress (0-100) and a stage label. A non-nil error
// means the strategy must stop and return it.
type ProgressFunc func(progress int, stage string) error

// ParamSpec describes one tunable numeric parameter.
type ParamSpec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Default     float64 `json:"default"`
	Integer     bool    `json:"integer"`
}

// Params are resolved parameters: every declared name is present and in bounds.
type Params map[string]float64

// Int returns a parameter rounded to an int.
func (p Params) Int(name string) int {
	return int(math.Round(p[name]))
}

// Outcome is the adversarial example a strategy produced.
type Outcome struct {
	Adversarial inference.Input
	Details     map[string]any
}

// Strategy is an adversarial attack method.
type Strategy interface {
	// ID is the attack method id clients submit.
	ID() string
	Name() string
	Description() string

	// Modalities lists the model types the strategy can attack.
	Modalities() []store.Modality

	Params() []ParamSpec

	// DefaultTimeout bounds a single run unless configuration overrides it.
	DefaultTimeout() time.Duration

	// Run perturbs the input against the predictor. An empty target means an
	// untargeted attack.
	Run(ctx context.Context, p inference.Predictor, in inference.Input, target string, params Params, progress ProgressFunc) (*Outcome, error)
}

// Supports reports whether s can attack models of modality m.
func Supports(s Strategy, m store.Modality) bool {
	return slices.Contains(s.Modalities(), m)
}

// ResolveParams checks raw against the strategy's parameter specs and fills
// in defaults.
func ResolveParams(s Strategy, raw map[string]float64) (Params, error) {
	specs := s.Params()
	out := make(Params, len(specs))
	known := make(map[string]ParamSpec, len(specs))
	for _, spec := range specs {
		known[spec.Name] = spec
		out[spec.Name] = spec.Default
	}

	var unknown []string
	for name, v := range raw {
		spec, ok := known[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if math.IsNaN(v) || v < spec.Min || v > spec.Max {
			return nil, fmt.Errorf("%w: %s must be between %g and %g", ErrInvalidParams, name, spec.Min, spec.Max)
		}
		if spec.Integer && v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidParams, name)
		}
		out[name] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown parameter(s) %s for %s", ErrInvalidParams, strings.Join(unknown, ", "), s.ID())
	}
	return out, nil
}

// Registry is an immutable set of strategies keyed by id.
type Registry struct {
	byID  map[string]Strategy
	order []Strategy
}

// NewRegistry builds a registry. Ids must be unique.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{byID: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.byID[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate attack method %q", s.ID())
		}
		r.byID[s.ID()] = s
		r.order = append(r.order, s)
	}
	return r, nil
}

// DefaultRegistry returns the built-in strategies.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(NewTextFooler(), NewFGSM(), NewTimeSeriesShift())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the strategy for an attack method id.
func (r *Registry) Lookup(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// List returns every strategy in registration order.
func (r *Registry) List() []Strategy {
	return slices.Clone(r.order)
}

// checkTarget fails when a targeted attack names a label the model never emits.
func checkTarget(method string, p inference.Predictor, target string) error {
	if target == "" || slices.Contains(p.Labels(), target) {
		return nil
	}
	return failf(method, "target label %q is not produced by the model (labels: %s)", target, strings.Join(p.Labels(), ", "))
}

// Succeeded reports whether an adversarial prediction meets the attack
// objective: the target label when one is given, otherwise any label other
// than the original.
func Succeeded(orig inference.Prediction, target string, adv inference.Prediction) bool {
	return goal(orig, target, adv)
}

// goal reports whether pred satisfies the attack objective.
func goal(orig inference.Prediction, target string, pred inference.Prediction) bool {
	if target != "" {
		return pred.Label == target
	}
	return pred.Label != orig.Label
}

// score ranks predictions by closeness to the objective; higher is better and
// any prediction meeting the goal scores above 1.
func score(orig inference.Prediction, target string, pred inference.Prediction) float64 {
	switch {
	case goal(orig, target, pred):
		return 1 + pred.Confidence
	case pred.Label != orig.Label:
		return 0.5
	default:
		return 1 - pred.Confidence
	}
}

// scaleProgress maps step i of n into the [from, to] progress range.
func scaleProgress(from, to, i, n int) int {
	if n <= 0 {
		return to
	}
	return from + (to-from)*i/n
}
