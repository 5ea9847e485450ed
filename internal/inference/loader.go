package inference

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"advsandbox/internal/store"

	"gopkg.in/yaml.v3"
)

// ObjectFetcher reads model artifacts from external storage.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Descriptor is the yaml artifact describing how to build a predictor.
type Descriptor struct {
	Kind      string   `yaml:"kind"` // lexicon | channel | threshold
	Bias      int      `yaml:"bias"`
	Positive  []string `yaml:"positive"`
	Negative  []string `yaml:"negative"`
	Labels    []string `yaml:"labels"`
	Threshold float64  `yaml:"threshold"`
}

// ArtifactLoader materializes registered models into predictors.
// Models without an artifact URL use the built-in predictor for their modality,
// tuned by their metadata ("bias", "threshold", "labels").
type ArtifactLoader struct {
	fetcher ObjectFetcher
}

// NewArtifactLoader creates a loader. fetcher may be nil when no model uses
// object storage.
func NewArtifactLoader(fetcher ObjectFetcher) *ArtifactLoader {
	return &ArtifactLoader{fetcher: fetcher}
}

// Load builds a predictor for the model.
func (l *ArtifactLoader) Load(ctx context.Context, m store.Model) (Predictor, error) {
	if m.ArtifactURL == "" {
		return builtin(m)
	}

	bucket, key, err := parseArtifactURL(m.ArtifactURL)
	if err != nil {
		return nil, err
	}
	if l.fetcher == nil {
		return nil, errors.New("artifact storage is not configured")
	}

	data, err := l.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", m.ArtifactURL, err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", m.ArtifactURL, err)
	}
	return FromDescriptor(m.Type, d)
}

// FromDescriptor builds a predictor, checking the kind matches the modality.
func FromDescriptor(modality store.Modality, d Descriptor) (Predictor, error) {
	want := map[store.Modality]string{
		store.ModalityNLP:        "lexicon",
		store.ModalityCV:         "channel",
		store.ModalityTimeSeries: "threshold",
	}[modality]
	if want == "" {
		return nil, fmt.Errorf("unsupported modality %q", modality)
	}
	if d.Kind != want {
		return nil, fmt.Errorf("artifact kind %q does not serve %s models", d.Kind, modality)
	}

	switch d.Kind {
	case "lexicon":
		return NewLexiconClassifier(d.Positive, d.Negative, d.Bias), nil
	case "channel":
		return NewChannelClassifier(d.Labels), nil
	default:
		return NewThresholdDetector(d.Threshold), nil
	}
}

func builtin(m store.Model) (Predictor, error) {
	d := Descriptor{}
	switch m.Type {
	case store.ModalityNLP:
		d.Kind = "lexicon"
		if v, ok := m.Metadata["bias"]; ok {
			bias, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid bias metadata %q: %w", v, err)
			}
			d.Bias = bias
		}
	case store.ModalityCV:
		d.Kind = "channel"
		if v := m.Metadata["labels"]; v != "" {
			d.Labels = strings.Split(v, ",")
		}
	case store.ModalityTimeSeries:
		d.Kind = "threshold"
		if v, ok := m.Metadata["threshold"]; ok {
			th, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid threshold metadata %q: %w", v, err)
			}
			d.Threshold = th
		}
	}
	return FromDescriptor(m.Type, d)
}

func parseArtifactURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid artifact url %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("artifact url %q must be s3://bucket/key", raw)
	}
	return u.Host, key, nil
}
