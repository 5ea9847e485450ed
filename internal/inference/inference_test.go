package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"advsandbox/internal/store"
)

func solidImage(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeInput(t *testing.T) {
	redPNG, err := EncodeImage(solidImage(color.RGBA{R: 200, A: 255}))
	if err != nil {
		t.Fatalf("EncodeImage failed: %v", err)
	}
	imgJSON, _ := json.Marshal(redPNG)
	dataURI, _ := json.Marshal("data:image/png;base64," + redPNG)

	tests := []struct {
		name     string
		modality store.Modality
		raw      string
		wantErr  bool
	}{
		{"NLP text", store.ModalityNLP, `"hello world"`, false},
		{"NLP empty text", store.ModalityNLP, `"   "`, true},
		{"NLP number", store.ModalityNLP, `42`, true},
		{"CV image", store.ModalityCV, string(imgJSON), false},
		{"CV data uri", store.ModalityCV, string(dataURI), false},
		{"CV not base64", store.ModalityCV, `"%%%not-base64%%%"`, true},
		{"CV base64 but not an image", store.ModalityCV, `"aGVsbG8gd29ybGQ="`, true},
		{"TS series", store.ModalityTimeSeries, `[1, 2.5, 3]`, false},
		{"TS empty", store.ModalityTimeSeries, `[]`, true},
		{"TS strings", store.ModalityTimeSeries, `["a", "b"]`, true},
		{"missing payload", store.ModalityNLP, ``, true},
		{"unknown modality", store.Modality("Audio"), `"x"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInput(tt.modality, json.RawMessage(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLexiconClassifier_Predict(t *testing.T) {
	ctx := context.Background()
	c := NewLexiconClassifier(nil, nil, 0)

	tests := []struct {
		text  string
		label string
	}{
		{"This movie was absolutely amazing and I loved every second.", LabelPositive},
		{"This movie was absolutely terrible and I loved every second.", LabelNeutral},
		{"This movie was absolutely terrible and I hated every second.", LabelNegative},
		{"It is a movie.", LabelNeutral},
	}

	for _, tt := range tests {
		p, err := c.Predict(ctx, Input{Modality: store.ModalityNLP, Text: tt.text})
		if err != nil {
			t.Fatalf("Predict(%q) failed: %v", tt.text, err)
		}
		if p.Label != tt.label {
			t.Errorf("Predict(%q) = %s, want %s", tt.text, p.Label, tt.label)
		}
	}
}

func TestLexiconClassifier_Bias(t *testing.T) {
	c := NewLexiconClassifier(nil, nil, -1)
	p, err := c.Predict(context.Background(), Input{Modality: store.ModalityNLP, Text: "a neutral sentence"})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if p.Label != LabelNegative {
		t.Errorf("expected negative bias to yield Negative, got %s", p.Label)
	}
}

func TestPredictor_ClosedFails(t *testing.T) {
	c := NewLexiconClassifier(nil, nil, 0)
	_ = c.Close()

	_, err := c.Predict(context.Background(), Input{Modality: store.ModalityNLP, Text: "good"})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestChannelClassifier_Predict(t *testing.T) {
	c := NewChannelClassifier(nil)
	p, err := c.Predict(context.Background(), Input{Modality: store.ModalityCV, Image: solidImage(color.RGBA{G: 180, B: 20, A: 255})})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if p.Label != "Dog" {
		t.Errorf("expected Dog for green image, got %s", p.Label)
	}
	if c.LabelChannel("Object") != 2 {
		t.Errorf("expected Object on the blue channel")
	}
}

func TestThresholdDetector_Predict(t *testing.T) {
	d := NewThresholdDetector(0)
	ctx := context.Background()

	p, _ := d.Predict(ctx, Input{Modality: store.ModalityTimeSeries, Series: []float64{1, 2, 150}})
	if p.Label != LabelAnomaly {
		t.Errorf("expected anomaly, got %s", p.Label)
	}
	p, _ = d.Predict(ctx, Input{Modality: store.ModalityTimeSeries, Series: []float64{1, 2, 3}})
	if p.Label != LabelNormal {
		t.Errorf("expected normal, got %s", p.Label)
	}
}

type fakeFetcher struct {
	data []byte
	err  error

	bucket, key string
}

func (f *fakeFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	f.bucket, f.key = bucket, key
	return f.data, f.err
}

func TestArtifactLoader_Builtin(t *testing.T) {
	l := NewArtifactLoader(nil)

	p, err := l.Load(context.Background(), store.Model{ID: "ts", Type: store.ModalityTimeSeries, Metadata: map[string]string{"threshold": "10"}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	det, ok := p.(*ThresholdDetector)
	if !ok {
		t.Fatalf("expected *ThresholdDetector, got %T", p)
	}
	if det.Threshold != 10 {
		t.Errorf("expected threshold 10, got %v", det.Threshold)
	}

	if _, err := l.Load(context.Background(), store.Model{ID: "x", Type: store.ModalityNLP, Metadata: map[string]string{"bias": "lots"}}); err == nil {
		t.Error("expected error for invalid bias metadata")
	}
}

func TestArtifactLoader_FromStorage(t *testing.T) {
	f := &fakeFetcher{data: []byte("kind: lexicon\nbias: 1\npositive: [stellar]\n")}
	l := NewArtifactLoader(f)

	p, err := l.Load(context.Background(), store.Model{ID: "m", Type: store.ModalityNLP, ArtifactURL: "s3://models/sentiment/v1.yaml"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.bucket != "models" || f.key != "sentiment/v1.yaml" {
		t.Errorf("fetched %s/%s, want models/sentiment/v1.yaml", f.bucket, f.key)
	}

	pred, _ := p.Predict(context.Background(), Input{Modality: store.ModalityNLP, Text: "plain words"})
	if pred.Label != LabelPositive {
		t.Errorf("expected bias from artifact to apply, got %s", pred.Label)
	}
}

func TestArtifactLoader_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		loader  *ArtifactLoader
		model   store.Model
		wantErr string
	}{
		{
			name:    "storage unreachable",
			loader:  NewArtifactLoader(&fakeFetcher{err: errors.New("dial tcp: connection refused")}),
			model:   store.Model{Type: store.ModalityNLP, ArtifactURL: "s3://b/k"},
			wantErr: "connection refused",
		},
		{
			name:    "no fetcher configured",
			loader:  NewArtifactLoader(nil),
			model:   store.Model{Type: store.ModalityNLP, ArtifactURL: "s3://b/k"},
			wantErr: "not configured",
		},
		{
			name:    "bad scheme",
			loader:  NewArtifactLoader(&fakeFetcher{}),
			model:   store.Model{Type: store.ModalityNLP, ArtifactURL: "ftp://b/k"},
			wantErr: "unsupported artifact scheme",
		},
		{
			name:    "kind mismatch",
			loader:  NewArtifactLoader(&fakeFetcher{data: []byte("kind: channel\n")}),
			model:   store.Model{Type: store.ModalityNLP, ArtifactURL: "s3://b/k"},
			wantErr: "does not serve",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.loader.Load(ctx, tt.model)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTokenize_RoundTrip(t *testing.T) {
	text := `"Wow," she said. It's great!`
	tokens := Tokenize(text)
	if got := JoinTokens(tokens); got != text {
		t.Errorf("JoinTokens(Tokenize(%q)) = %q", text, got)
	}
	if tokens[0].Core != "Wow" || tokens[0].Leading != `"` || tokens[0].Trailing != `,"` {
		t.Errorf("unexpected first token: %+v", tokens[0])
	}
	if tokens[3].Core != "It's" {
		t.Errorf("expected apostrophe kept in core, got %q", tokens[3].Core)
	}
}
