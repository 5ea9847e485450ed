package attack

import (
	"context"
	"math"
	"slices"
	"time"

	"advsandbox/internal/inference"
	"advsandbox/internal/store"
)

// TimeSeriesShift perturbs the largest-magnitude point of a series. It first
// tries damping the peak, then injecting a spike, and keeps whichever reaches
// the objective (or scores best when neither does).
type TimeSeriesShift struct{}

func NewTimeSeriesShift() *TimeSeriesShift { return &TimeSeriesShift{} }

func (s *TimeSeriesShift) ID() string   { return "timeseries-shift" }
func (s *TimeSeriesShift) Name() string { return "Time Series Peak Shift" }
func (s *TimeSeriesShift) Description() string {
	return "Multiplicative peak damping or spike injection on a numeric series."
}
func (s *TimeSeriesShift) Modalities() []store.Modality {
	return []store.Modality{store.ModalityTimeSeries}
}
func (s *TimeSeriesShift) DefaultTimeout() time.Duration { return time.Minute }

func (s *TimeSeriesShift) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "epsilon", Description: "Relative change applied to the peak per step", Min: 0.01, Max: 10, Default: 0.1},
		{Name: "max_iterations", Description: "Upper bound on steps per mode", Min: 1, Max: 100, Default: 20, Integer: true},
	}
}

type seriesMode struct {
	name   string
	factor float64
}

func (s *TimeSeriesShift) Run(ctx context.Context, p inference.Predictor, in inference.Input, target string, params Params, progress ProgressFunc) (*Outcome, error) {
	if in.Modality != store.ModalityTimeSeries || len(in.Series) == 0 {
		return nil, failf(s.ID(), "timeseries-shift requires a numeric series, got %s", in.Modality)
	}
	if err := checkTarget(s.ID(), p, target); err != nil {
		return nil, err
	}

	epsilon := params["epsilon"]
	iterations := params.Int("max_iterations")
	queries := 0

	predict := func(series []float64) (inference.Prediction, error) {
		queries++
		return p.Predict(ctx, inference.Input{Modality: store.ModalityTimeSeries, Series: series})
	}

	orig, err := predict(in.Series)
	if err != nil {
		return nil, err
	}

	peak := 0
	for i, v := range in.Series {
		if math.Abs(v) > math.Abs(in.Series[peak]) {
			peak = i
		}
	}

	modes := []seriesMode{
		{name: "peak_damping", factor: math.Max(0, 1-epsilon)},
		{name: "spike_injection", factor: 1 + epsilon},
	}

	var (
		best      []float64
		bestMode  string
		bestSteps int
		bestScore = math.Inf(-1)
	)
	for m, mode := range modes {
		series := slices.Clone(in.Series)
		if mode.name == "spike_injection" && series[peak] == 0 {
			series[peak] = epsilon
		}
		steps := 0
		var last inference.Prediction
		for i := 0; i < iterations; i++ {
			series[peak] *= mode.factor
			steps = i + 1
			last, err = predict(series)
			if err != nil {
				return nil, err
			}
			if err := progress(scaleProgress(10+40*m, 50+40*m, i+1, iterations), mode.name); err != nil {
				return nil, err
			}
			if goal(orig, target, last) {
				break
			}
		}
		if sc := score(orig, target, last); sc > bestScore {
			best, bestMode, bestSteps, bestScore = series, mode.name, steps, sc
		}
		if goal(orig, target, last) {
			break
		}
	}

	return &Outcome{
		Adversarial: inference.Input{Modality: store.ModalityTimeSeries, Series: best},
		Details: map[string]any{
			"mode":           bestMode,
			"epsilon":        epsilon,
			"iterations":     bestSteps,
			"peak_index":     peak,
			"original_value": in.Series[peak],
			"perturbed":      best[peak],
			"queries":        queries,
		},
	}, nil
}
