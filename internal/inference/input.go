// Package inference holds the model-side collaborators of the attack core:
// modality-specific inputs, the Predictor capability, reference predictors, and
// the loader that materializes a registered model into a Predictor.
package inference

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"math"
	"strings"

	"advsandbox/internal/store"
)

// ErrInvalidInput is returned when a payload does not match the modality's shape.
var ErrInvalidInput = errors.New("invalid input payload")

// Input is a decoded, modality-specific model input.
type Input struct {
	Modality store.Modality
	Text     string
	Image    image.Image
	Series   []float64
}

// DecodeInput parses a raw JSON payload for the given modality.
// NLP expects a JSON string, CV a base64 string holding PNG/JPEG/GIF bytes,
// TimeSeries a non-empty array of finite numbers.
func DecodeInput(m store.Modality, raw json.RawMessage) (Input, error) {
	in := Input{Modality: m}
	if len(bytes.TrimSpace(raw)) == 0 {
		return in, fmt.Errorf("%w: input_data is required", ErrInvalidInput)
	}

	switch m {
	case store.ModalityNLP:
		if err := json.Unmarshal(raw, &in.Text); err != nil {
			return in, fmt.Errorf("%w: NLP models expect a text string", ErrInvalidInput)
		}
		if strings.TrimSpace(in.Text) == "" {
			return in, fmt.Errorf("%w: text must not be empty", ErrInvalidInput)
		}

	case store.ModalityCV:
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return in, fmt.Errorf("%w: CV models expect a base64 image string", ErrInvalidInput)
		}
		img, err := DecodeImage(encoded)
		if err != nil {
			return in, err
		}
		in.Image = img

	case store.ModalityTimeSeries:
		if err := json.Unmarshal(raw, &in.Series); err != nil {
			return in, fmt.Errorf("%w: time series models expect a numeric array", ErrInvalidInput)
		}
		if len(in.Series) == 0 {
			return in, fmt.Errorf("%w: series must not be empty", ErrInvalidInput)
		}
		for i, v := range in.Series {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return in, fmt.Errorf("%w: series[%d] is not a finite number", ErrInvalidInput, i)
			}
		}

	default:
		return in, fmt.Errorf("%w: unsupported modality %q", ErrInvalidInput, m)
	}

	return in, nil
}

// DecodeImage decodes a base64 string (optionally a data URI) into an image.
func DecodeImage(encoded string) (image.Image, error) {
	encoded = strings.TrimSpace(encoded)
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidInput, err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: image bytes are not decodable: %v", ErrInvalidInput, err)
	}
	return img, nil
}

// EncodeImage renders an image as base64 PNG.
func EncodeImage(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// String renders the input the way it is stored in attack results.
func (in Input) String() string {
	switch in.Modality {
	case store.ModalityNLP:
		return in.Text
	case store.ModalityCV:
		if in.Image == nil {
			return ""
		}
		s, err := EncodeImage(in.Image)
		if err != nil {
			return ""
		}
		return s
	case store.ModalityTimeSeries:
		b, _ := json.Marshal(in.Series)
		return string(b)
	}
	return ""
}
