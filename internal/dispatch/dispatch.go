// Package dispatch validates attack submissions and turns them into queued
// jobs. It is the synchronous half of the system: everything after the job is
// enqueued happens on workers and is observed through the job store.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"advsandbox/internal/attack"
	"advsandbox/internal/inference"
	"advsandbox/internal/logger"
	"advsandbox/internal/observability"
	"advsandbox/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidRequest is returned when a submission is rejected before any
	// job exists.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrJobNotFound is returned for unknown jobs and for jobs owned by another caller.
	ErrJobNotFound = errors.New("attack not found")

	// ErrNotCompleted is returned when results are requested for a job that
	// has not completed.
	ErrNotCompleted = errors.New("attack has not completed")

	// ErrNotCancellable is returned when cancelling a job that already finished.
	ErrNotCancellable = errors.New("attack is already finished")

	// ErrModelNotFound is returned by model registry lookups.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelExists is returned when registering a duplicate model id.
	ErrModelExists = errors.New("model already exists")
)

// SubmitRequest is a validated attack submission.
type SubmitRequest struct {
	CallerID       string             `validate:"required"`
	ModelID        string             `validate:"required,max=128"`
	AttackMethodID string             `validate:"required,max=64"`
	InputData      json.RawMessage    `validate:"required"`
	TargetLabel    string             `validate:"max=128"`
	Parameters     map[string]float64 `validate:"max=32"`
	CallbackURL    string             `validate:"omitempty,http_url,max=2048"`
}

// Submission is the outcome of an accepted submit.
type Submission struct {
	Job              *store.AttackJob
	EstimatedSeconds int
}

// Service implements the dispatcher operations on top of a storage backend.
type Service struct {
	backend  store.Backend
	registry *attack.Registry
	cache    ModelCache
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	submitted   metric.Int64Counter
	rejected    metric.Int64Counter
	predictions metric.Int64Counter
}

// New creates a dispatcher.
func New(backend store.Backend, registry *attack.Registry, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		backend:  backend,
		registry: registry,
		validate: validator.New(),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := observability.Meter("dispatch")
	s.submitted, _ = meter.Int64Counter("advsandbox.attacks.submitted",
		metric.WithDescription("Attack jobs accepted and queued"))
	s.rejected, _ = meter.Int64Counter("advsandbox.attacks.rejected",
		metric.WithDescription("Attack submissions rejected by validation"))
	s.predictions, _ = meter.Int64Counter("advsandbox.predictions",
		metric.WithDescription("Direct inference calls served"))
	return s
}

// Registry returns the attack registry submissions are checked against.
func (s *Service) Registry() *attack.Registry {
	return s.registry
}

// NewJobID returns an opaque attack id.
func NewJobID() string {
	return "atk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Submit validates the request, then creates the job and enqueues it in one
// transaction. It never waits for execution.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	ctx, span := otel.Tracer(observability.InstrumentationPrefix+"dispatch").Start(ctx, "submit_attack",
		trace.WithAttributes(
			attribute.String("model.id", req.ModelID),
			attribute.String("attack.method", req.AttackMethodID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	strategy, err := s.check(ctx, req)
	if err != nil {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("attack.method", req.AttackMethodID)))
		return nil, err
	}

	job := &store.AttackJob{
		ID:             NewJobID(),
		CallerID:       req.CallerID,
		ModelID:        req.ModelID,
		AttackMethodID: req.AttackMethodID,
		Input:          req.InputData,
		TargetLabel:    req.TargetLabel,
		Parameters:     req.Parameters,
		CallbackURL:    req.CallbackURL,
		Status:         store.JobStatusQueued,
		Stage:          "queued",
		CreatedAt:      s.now(),
	}
	span.SetAttributes(attribute.String("attack.id", job.ID))

	payload, err := json.Marshal(store.JobPayload{
		JobID: job.ID,
		Trace: observability.InjectTrace(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue payload: %w", err)
	}

	tx, err := s.backend.BeginTx(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.backend.CreateJob(ctx, tx, job); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if _, err := s.backend.Enqueue(ctx, tx, job.ID, payload, s.now()); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	s.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("attack.method", job.AttackMethodID)))
	logger.FromContext(ctx, s.logger).Info("attack queued",
		"job_id", job.ID, "model_id", job.ModelID, "attack_method_id", job.AttackMethodID)

	return &Submission{
		Job:              job,
		EstimatedSeconds: estimate(strategy),
	}, nil
}

// check runs every synchronous validation. The returned errors wrap
// ErrInvalidRequest.
func (s *Service) check(ctx context.Context, req SubmitRequest) (attack.Strategy, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid("%s", describe(err))
	}

	model, err := s.backend.GetModel(ctx, req.ModelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, invalid("unknown model_id %q", req.ModelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up model: %w", err)
	}
	if model.Status != store.ModelStatusActive {
		return nil, invalid("model %q is %s, not active", model.ID, model.Status)
	}

	strategy, ok := s.registry.Lookup(req.AttackMethodID)
	if !ok {
		return nil, invalid("unknown attack_method_id %q", req.AttackMethodID)
	}
	if !attack.Supports(strategy, model.Type) {
		return nil, invalid("attack method %q does not support %s models", strategy.ID(), model.Type)
	}

	if _, err := inference.DecodeInput(model.Type, req.InputData); err != nil {
		return nil, invalid("%v", err)
	}
	if _, err := attack.ResolveParams(strategy, req.Parameters); err != nil {
		return nil, invalid("%v", err)
	}
	return strategy, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// describe flattens validator errors into one line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := fieldName(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "http_url":
			msgs = append(msgs, field+" must be an absolute http(s) URL")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s long", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

var fieldNames = map[string]string{
	"CallerID":       "caller",
	"ModelID":        "model_id",
	"AttackMethodID": "attack_method_id",
	"InputData":      "input_data",
	"TargetLabel":    "target_label",
	"Parameters":     "attack_parameters",
	"CallbackURL":    "callback_url",
	"Name":           "name",
	"Type":           "type",
	"Version":        "version",
	"ArtifactURL":    "artifact_url",
}

func fieldName(f string) string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return f
}

// estimate is the completion estimate returned with a 202.
func estimate(s attack.Strategy) int {
	return max(1, int(s.DefaultTimeout().Seconds()/2))
}
