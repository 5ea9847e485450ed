package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"advsandbox/internal/inference"
	"advsandbox/internal/logger"
	"advsandbox/internal/modelcache"
	"advsandbox/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrPredictUnavailable is returned when the service was built without a
	// model cache.
	ErrPredictUnavailable = errors.New("direct inference is not enabled")

	// ErrModelBusy is returned when every cache slot stays pinned past the
	// acquire wait.
	ErrModelBusy = errors.New("model capacity exhausted, retry later")
)

// ModelCache hands out pinned, loaded models.
type ModelCache interface {
	Acquire(ctx context.Context, modelID string) (*modelcache.Handle, error)
}

// Option configures a Service.
type Option func(*Service)

// WithModelCache enables Predict against the given cache.
func WithModelCache(c ModelCache) Option {
	return func(s *Service) { s.cache = c }
}

// PredictRequest is a single synchronous inference call.
type PredictRequest struct {
	ModelID   string          `validate:"required,max=128"`
	InputData json.RawMessage `validate:"required"`
}

// PredictResult is the model's answer for one input.
type PredictResult struct {
	ModelID string
	inference.Prediction
}

// Predict runs one input through a cached model. It bypasses the job queue.
func (s *Service) Predict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	ctx, span := otel.Tracer(observability.InstrumentationPrefix+"dispatch").Start(ctx, "predict",
		trace.WithAttributes(attribute.String("model.id", req.ModelID)),
	)
	defer span.End()

	if s.cache == nil {
		return nil, ErrPredictUnavailable
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid("%s", describe(err))
	}

	model, err := s.GetModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	in, err := inference.DecodeInput(model.Type, req.InputData)
	if err != nil {
		return nil, invalid("%v", err)
	}

	handle, err := s.cache.Acquire(ctx, model.ID)
	switch {
	case errors.Is(err, modelcache.ErrModelNotFound):
		return nil, ErrModelNotFound
	case errors.Is(err, modelcache.ErrCacheExhausted):
		return nil, fmt.Errorf("%w: %s", ErrModelBusy, model.ID)
	case err != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("failed to acquire model %s: %w", model.ID, err)
	}
	defer handle.Release()

	pred, err := handle.Predictor().Predict(ctx, in)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, inference.ErrInvalidInput) {
			return nil, invalid("%v", err)
		}
		return nil, fmt.Errorf("prediction failed for model %s: %w", model.ID, err)
	}

	s.predictions.Add(ctx, 1, metric.WithAttributes(attribute.String("model.id", model.ID)))
	logger.FromContext(ctx, s.logger).Debug("prediction served",
		"model_id", model.ID, "prediction", pred.Label, "confidence", pred.Confidence)
	return &PredictResult{ModelID: model.ID, Prediction: pred}, nil
}
