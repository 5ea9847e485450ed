package attack

import (
	"context"
	"image"
	"image/draw"
	"math"
	"time"

	"advsandbox/internal/inference"
	"advsandbox/internal/store"
)

// FGSM is a black-box variant of the fast gradient sign method. Each iteration
// probes a signed step of epsilon on every color channel and keeps the step
// that best advances the objective.
type FGSM struct{}

func NewFGSM() *FGSM { return &FGSM{} }

func (f *FGSM) ID() string   { return "fgsm" }
func (f *FGSM) Name() string { return "Fast Gradient Sign Method" }
func (f *FGSM) Description() string {
	return "Iterative signed per-channel perturbation of an image bounded by epsilon per step."
}
func (f *FGSM) Modalities() []store.Modality {
	return []store.Modality{store.ModalityCV}
}
func (f *FGSM) DefaultTimeout() time.Duration { return 5 * time.Minute }

func (f *FGSM) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "epsilon", Description: "Step size as a fraction of the pixel range", Min: 0.001, Max: 1, Default: 0.03},
		{Name: "max_iterations", Description: "Upper bound on perturbation steps", Min: 1, Max: 100, Default: 10, Integer: true},
	}
}

func (f *FGSM) Run(ctx context.Context, p inference.Predictor, in inference.Input, target string, params Params, progress ProgressFunc) (*Outcome, error) {
	if in.Modality != store.ModalityCV || in.Image == nil {
		return nil, failf(f.ID(), "fgsm requires image input, got %s", in.Modality)
	}
	if err := checkTarget(f.ID(), p, target); err != nil {
		return nil, err
	}

	epsilon := params["epsilon"]
	iterations := params.Int("max_iterations")
	step := int(math.Max(1, math.Round(epsilon*255)))
	queries := 0

	predict := func(img *image.NRGBA) (inference.Prediction, error) {
		queries++
		return p.Predict(ctx, inference.Input{Modality: store.ModalityCV, Image: img})
	}

	original := toNRGBA(in.Image)
	adv := toNRGBA(in.Image)
	orig, err := predict(adv)
	if err != nil {
		return nil, err
	}
	last := orig
	current := score(orig, target, orig)

	var offsets [3]int
	done := 0
	for i := 0; i < iterations && !goal(orig, target, last); i++ {
		var (
			bestScore = current
			bestImg   *image.NRGBA
			bestPred  inference.Prediction
			bestCh    = -1
			bestSign  int
		)
		for ch := 0; ch < 3; ch++ {
			for _, sign := range []int{1, -1} {
				trial := shiftChannel(adv, ch, sign*step)
				pred, err := predict(trial)
				if err != nil {
					return nil, err
				}
				if s := score(orig, target, pred); s > bestScore {
					bestScore, bestImg, bestPred, bestCh, bestSign = s, trial, pred, ch, sign
				}
			}
		}
		done = i + 1
		if err := progress(scaleProgress(10, 90, i+1, iterations), "perturbing image"); err != nil {
			return nil, err
		}
		if bestImg == nil {
			break
		}
		adv, current, last = bestImg, bestScore, bestPred
		offsets[bestCh] += bestSign * step
	}

	return &Outcome{
		Adversarial: inference.Input{Modality: store.ModalityCV, Image: adv},
		Details: map[string]any{
			"epsilon":        epsilon,
			"iterations":     done,
			"channel_shift":  map[string]int{"red": offsets[0], "green": offsets[1], "blue": offsets[2]},
			"linf_norm":      linf(original, adv),
			"queries":        queries,
			"max_iterations": iterations,
		},
	}, nil
}

func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// shiftChannel returns a copy of img with channel ch moved by delta, clamped.
func shiftChannel(img *image.NRGBA, ch, delta int) *image.NRGBA {
	out := &image.NRGBA{Pix: make([]uint8, len(img.Pix)), Stride: img.Stride, Rect: img.Rect}
	copy(out.Pix, img.Pix)
	for i := ch; i < len(out.Pix); i += 4 {
		v := int(out.Pix[i]) + delta
		out.Pix[i] = uint8(min(255, max(0, v)))
	}
	return out
}

// linf is the largest per-component change, as a fraction of the pixel range.
func linf(a, b *image.NRGBA) float64 {
	worst := 0
	for i := range a.Pix {
		if i%4 == 3 {
			continue
		}
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		worst = max(worst, d)
	}
	return float64(worst) / 255
}
