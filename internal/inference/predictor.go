package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	"advsandbox/internal/store"
)

// ErrClosed is returned by a predictor after it was evicted and closed.
var ErrClosed = errors.New("predictor is closed")

// Prediction is a model's label for one input.
type Prediction struct {
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Predictor is a loaded, ready-to-run model.
type Predictor interface {
	// Predict labels a single input.
	Predict(ctx context.Context, in Input) (Prediction, error)

	// Labels returns the closed set of labels the predictor can emit.
	Labels() []string

	// Close releases the loaded representation. Predict fails afterwards.
	Close() error
}

type closer struct {
	closed atomic.Bool
}

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *closer) check(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Sentiment labels.
const (
	LabelNegative = "Negative"
	LabelNeutral  = "Neutral"
	LabelPositive = "Positive"
)

var (
	defaultPositiveWords = []string{
		"good", "great", "excellent", "happy", "love", "loved", "amazing",
		"wonderful", "fantastic", "enjoy", "enjoyed", "incredible", "brilliant",
	}
	defaultNegativeWords = []string{
		"bad", "terrible", "awful", "sad", "hate", "hated", "poor",
		"horrible", "dreadful", "boring", "despised", "fail",
	}
)

// LexiconClassifier is a keyword sentiment model. Each positive word adds one to
// the margin and each negative word subtracts one; Bias shifts the margin.
type LexiconClassifier struct {
	closer
	positive map[string]bool
	negative map[string]bool
	bias     int
}

// NewLexiconClassifier builds a classifier. Empty word lists fall back to the
// built-in lexicon.
func NewLexiconClassifier(positive, negative []string, bias int) *LexiconClassifier {
	if len(positive) == 0 {
		positive = defaultPositiveWords
	}
	if len(negative) == 0 {
		negative = defaultNegativeWords
	}
	c := &LexiconClassifier{
		positive: make(map[string]bool, len(positive)),
		negative: make(map[string]bool, len(negative)),
		bias:     bias,
	}
	for _, w := range positive {
		c.positive[strings.ToLower(w)] = true
	}
	for _, w := range negative {
		c.negative[strings.ToLower(w)] = true
	}
	return c
}

func (c *LexiconClassifier) Labels() []string {
	return []string{LabelNegative, LabelNeutral, LabelPositive}
}

func (c *LexiconClassifier) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := c.check(ctx); err != nil {
		return Prediction{}, err
	}
	if in.Modality != store.ModalityNLP {
		return Prediction{}, fmt.Errorf("%w: lexicon classifier expects text", ErrInvalidInput)
	}

	margin := c.bias
	for _, tok := range Tokenize(in.Text) {
		w := strings.ToLower(tok.Core)
		if c.positive[w] {
			margin++
		}
		if c.negative[w] {
			margin--
		}
	}

	switch {
	case margin > 0:
		return Prediction{Label: LabelPositive, Confidence: marginConfidence(margin)}, nil
	case margin < 0:
		return Prediction{Label: LabelNegative, Confidence: marginConfidence(-margin)}, nil
	default:
		return Prediction{Label: LabelNeutral, Confidence: 0.70}, nil
	}
}

func marginConfidence(margin int) float64 {
	c := 0.55 + 0.15*float64(margin)
	if c > 0.99 {
		c = 0.99
	}
	return c
}

// ChannelClassifier labels an image by its dominant color channel.
// Labels are assigned to the red, green, and blue channels in order.
type ChannelClassifier struct {
	closer
	labels [3]string
}

// NewChannelClassifier builds an image classifier. Missing labels default to
// Cat, Dog, Object.
func NewChannelClassifier(labels []string) *ChannelClassifier {
	c := &ChannelClassifier{labels: [3]string{"Cat", "Dog", "Object"}}
	for i := 0; i < len(labels) && i < 3; i++ {
		if labels[i] != "" {
			c.labels[i] = labels[i]
		}
	}
	return c
}

func (c *ChannelClassifier) Labels() []string {
	return c.labels[:]
}

func (c *ChannelClassifier) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := c.check(ctx); err != nil {
		return Prediction{}, err
	}
	if in.Modality != store.ModalityCV || in.Image == nil {
		return Prediction{}, fmt.Errorf("%w: channel classifier expects an image", ErrInvalidInput)
	}

	means := ChannelMeans(in.Image)
	total := means[0] + means[1] + means[2]
	if total == 0 {
		return Prediction{Label: c.labels[2], Confidence: 1.0 / 3}, nil
	}

	best := 0
	for i := 1; i < 3; i++ {
		if means[i] > means[best] {
			best = i
		}
	}
	return Prediction{Label: c.labels[best], Confidence: means[best] / total}, nil
}

// LabelChannel returns the channel index assigned to a label, or -1.
func (c *ChannelClassifier) LabelChannel(label string) int {
	for i, l := range c.labels {
		if l == label {
			return i
		}
	}
	return -1
}

// ChannelMeans returns the mean red, green, and blue intensity in [0, 255].
func ChannelMeans(img image.Image) [3]float64 {
	var sum [3]float64
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return sum
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum[0] += float64(r >> 8)
			sum[1] += float64(g >> 8)
			sum[2] += float64(bl >> 8)
		}
	}
	for i := range sum {
		sum[i] /= n
	}
	return sum
}

// Time series labels.
const (
	LabelAnomaly = "Anomaly Detected"
	LabelNormal  = "Normal"
)

// ThresholdDetector flags a series as anomalous when any point exceeds Threshold.
type ThresholdDetector struct {
	closer
	Threshold float64
}

// NewThresholdDetector builds a detector; a non-positive threshold defaults to 100.
func NewThresholdDetector(threshold float64) *ThresholdDetector {
	if threshold <= 0 {
		threshold = 100
	}
	return &ThresholdDetector{Threshold: threshold}
}

func (d *ThresholdDetector) Labels() []string {
	return []string{LabelAnomaly, LabelNormal}
}

func (d *ThresholdDetector) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := d.check(ctx); err != nil {
		return Prediction{}, err
	}
	if in.Modality != store.ModalityTimeSeries || len(in.Series) == 0 {
		return Prediction{}, fmt.Errorf("%w: threshold detector expects a numeric series", ErrInvalidInput)
	}

	for _, v := range in.Series {
		if v > d.Threshold {
			return Prediction{Label: LabelAnomaly, Confidence: 0.92}, nil
		}
	}
	return Prediction{Label: LabelNormal, Confidence: 0.85}, nil
}
