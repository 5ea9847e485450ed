// Package worker contains the worker pool that executes queued attack jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"advsandbox/internal/attack"
	"advsandbox/internal/inference"
	"advsandbox/internal/logger"
	"advsandbox/internal/modelcache"
	"advsandbox/internal/observability"
	"advsandbox/internal/store"
	"advsandbox/internal/webhook"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the slice of storage the worker needs.
type Backend interface {
	store.Queue
	store.JobStore
}

// ModelCache hands out pinned models.
type ModelCache interface {
	Acquire(ctx context.Context, modelID string) (*modelcache.Handle, error)
}

// Notifier schedules webhook deliveries without blocking.
type Notifier interface {
	Enqueue(d webhook.Delivery)
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval time.Duration // Interval between heartbeat calls (default: 2m)
	LeaseDuration     time.Duration // How long a claim or heartbeat hides the job (default: 5m)

	// PublicURL is the controller base URL used for result links in webhooks.
	PublicURL string

	// Timeout overrides a method's default execution timeout when it returns
	// a positive duration.
	Timeout func(methodID string) time.Duration
}

// Agent is the main worker agent that runs the pull-loop for attack execution.
type Agent struct {
	backend  Backend
	cache    ModelCache
	registry *attack.Registry
	notifier Notifier
	config   AgentConfig
	logger   *slog.Logger
	done     chan struct{}
	now      func() time.Time

	outcomes  metric.Int64Counter
	durations metric.Float64Histogram
}

// New creates a new worker agent. notifier may be nil when webhooks are disabled.
func New(backend Backend, cache ModelCache, registry *attack.Registry, notifier Notifier, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.LeaseDuration <= 0 {
		config.LeaseDuration = 5 * time.Minute
	}

	if log == nil {
		log = slog.Default()
	}

	a := &Agent{
		backend:  backend,
		cache:    cache,
		registry: registry,
		notifier: notifier,
		config:   config,
		logger:   log.With("worker_id", config.ID),
		done:     make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}

	meter := observability.Meter("worker")
	a.outcomes, _ = meter.Int64Counter("advsandbox.attacks.finished",
		metric.WithDescription("Attack jobs finalized, by status"))
	a.durations, _ = meter.Float64Histogram("advsandbox.attacks.duration",
		metric.WithDescription("Wall time from claim to finalization"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(observability.DurationBuckets...))
	_, _ = meter.Int64ObservableGauge("advsandbox.queue.depth",
		metric.WithDescription("Attack jobs waiting in or leased from the queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := backend.Count(ctx)
			if err != nil {
				return err
			}
			obs.Observe(n)
			return nil
		}),
	)
	return a
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On SIGTERM, it stops dequeuing new work and allows in-flight attacks to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker starting", "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	// Helper to trigger immediate non-blocking re-poll
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	// Initial poll
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running attacks to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			// Timer-based poll (with backoff)
			triggerPoll()

		case <-pollNow:
			// Count available slots
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			// Batch dequeue up to available slots
			items, err := a.backend.DequeueBatch(ctx, availableSlots, a.config.LeaseDuration)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("dequeue failed", "error", err)
				}
				continue
			}

			if len(items) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = min(currentBackoff*2, a.config.MaxBackoff)
				continue
			}

			// Found work - reset backoff to minimum
			currentBackoff = a.config.PollInterval

			a.logger.Debug("claimed attacks", "count", len(items))

			for _, item := range items {
				// Acquire semaphore slot
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						// Signal that a slot is now available - trigger immediate re-poll
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			// If we got jobs and there are still slots available, poll again immediately
			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs one claimed queue item to its terminal write.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	var payload store.JobPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil || payload.JobID == "" {
		payload.JobID = item.JobID
	}

	// Attacks finish even if the poll context is cancelled (graceful drain).
	execCtx := context.WithoutCancel(observability.ExtractTrace(ctx, payload.Trace))
	execCtx = logger.WithJobID(execCtx, payload.JobID)
	log := logger.FromContext(execCtx, a.logger)

	tracer := otel.Tracer(observability.InstrumentationPrefix + "worker")
	spanCtx, span := tracer.Start(execCtx, "process_attack",
		trace.WithAttributes(
			attribute.String("attack.id", payload.JobID),
			attribute.Int("attack.attempt", item.Attempt),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	job, err := a.backend.GetJob(spanCtx, payload.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("queued attack has no job record, dropping")
		a.ack(spanCtx, payload.JobID)
		return
	}
	if err != nil {
		// Leave the lease to expire so the item is redelivered.
		log.Error("failed to load attack", "error", err)
		span.RecordError(err)
		return
	}
	if job.Status.IsTerminal() {
		log.Info("attack already finalized, skipping redelivery", "status", job.Status)
		// The previous owner died between its terminal write and the first
		// delivery attempt.
		if job.CallbackURL != "" && job.WebhookStatus == store.WebhookStatusNone && a.notifier != nil {
			log.Info("re-enqueueing webhook that was never attempted")
			a.notifier.Enqueue(webhook.NewDelivery(job, a.config.PublicURL, a.now()))
		}
		a.ack(spanCtx, job.ID)
		return
	}
	span.SetAttributes(
		attribute.String("model.id", job.ModelID),
		attribute.String("attack.method", job.AttackMethodID),
	)
	log.Info("processing attack", "model_id", job.ModelID, "attack_method_id", job.AttackMethodID, "attempt", item.Attempt)

	// Start heartbeat to refresh the lease during execution
	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, job.ID)

	start := a.now()
	fin := a.execute(spanCtx, job)
	cancelHeartbeat()

	changed, err := a.backend.Finalize(spanCtx, job.ID, fin)
	if err != nil {
		log.Error("failed to finalize attack", "status", fin.Status, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return
	}

	if !changed {
		log.Info("attack was finalized elsewhere, result discarded", "status", fin.Status)
		a.ack(spanCtx, job.ID)
		return
	}
	// Acked after the webhook hand-off; a crash in between redelivers the item.
	defer a.ack(spanCtx, job.ID)

	elapsed := a.now().Sub(start)
	attrs := metric.WithAttributes(
		attribute.String("status", string(fin.Status)),
		attribute.String("attack.method", job.AttackMethodID),
	)
	a.outcomes.Add(spanCtx, 1, attrs)
	a.durations.Record(spanCtx, elapsed.Seconds(), attrs)

	span.SetAttributes(attribute.String("attack.status", string(fin.Status)))
	if fin.Status == store.JobStatusFailed {
		span.SetStatus(codes.Error, fin.Error)
		log.Warn("attack failed", "error", fin.Error, "duration", elapsed)
	} else {
		log.Info("attack finished", "status", fin.Status, "duration", elapsed)
	}

	a.notify(spanCtx, job.ID, log)
}

// notify enqueues the webhook for a job whose terminal write this worker made.
func (a *Agent) notify(ctx context.Context, jobID string, log *slog.Logger) {
	if a.notifier == nil {
		return
	}
	job, err := a.backend.GetJob(ctx, jobID)
	if err != nil {
		log.Error("failed to reload attack for webhook", "error", err)
		return
	}
	if job.CallbackURL == "" {
		return
	}
	a.notifier.Enqueue(webhook.NewDelivery(job, a.config.PublicURL, a.now()))
}

func (a *Agent) ack(ctx context.Context, jobID string) {
	if err := a.backend.Ack(ctx, nil, jobID); err != nil {
		a.logger.Error("ack failed", "job_id", jobID, "error", err)
	}
}

// execute runs the attack and returns the terminal write. It never panics.
func (a *Agent) execute(ctx context.Context, job *store.AttackJob) (fin store.Finalization) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("attack panicked", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			fin = failed(fmt.Sprintf("attack panicked: %v", r))
		}
	}()

	start := a.now()

	strategy, ok := a.registry.Lookup(job.AttackMethodID)
	if !ok {
		return failed(fmt.Sprintf("unknown attack method %q", job.AttackMethodID))
	}

	if cancelled, err := a.reportProgress(ctx, job.ID, 5, "loading_model"); err != nil || cancelled {
		return cancelledFin()
	}

	handle, err := a.cache.Acquire(ctx, job.ModelID)
	if err != nil {
		return failed(err.Error())
	}
	defer handle.Release()
	loadTime := a.now().Sub(start)

	pred := handle.Predictor()
	in, err := inference.DecodeInput(handle.Model().Type, job.Input)
	if err != nil {
		return failed(err.Error())
	}
	params, err := attack.ResolveParams(strategy, job.Parameters)
	if err != nil {
		return failed(err.Error())
	}

	orig, err := pred.Predict(ctx, in)
	if err != nil {
		return failed(fmt.Sprintf("original prediction failed: %v", err))
	}

	timeout := strategy.DefaultTimeout()
	if a.config.Timeout != nil {
		if d := a.config.Timeout(strategy.ID()); d > 0 {
			timeout = d
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := func(p int, stage string) error {
		cancelled, err := a.reportProgress(ctx, job.ID, p, stage)
		if err != nil || cancelled {
			return attack.ErrCancelled
		}
		return nil
	}

	attackStart := a.now()
	outcome, err := strategy.Run(runCtx, pred, in, job.TargetLabel, params, progress)
	switch {
	case err == nil && outcome != nil:
		// A result that arrives just after the deadline is still kept.
	case errors.Is(err, attack.ErrCancelled):
		return cancelledFin()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failed(fmt.Sprintf("attack timed out after %s", timeout))
	case err != nil:
		return failed(err.Error())
	default:
		return failed("attack produced no outcome")
	}
	attackTime := a.now().Sub(attackStart)

	if cancelled, err := a.reportProgress(ctx, job.ID, 95, "evaluating"); err != nil || cancelled {
		return cancelledFin()
	}

	adv, err := pred.Predict(ctx, outcome.Adversarial)
	if err != nil {
		return failed(fmt.Sprintf("adversarial prediction failed: %v", err))
	}

	return store.Finalization{
		Status: store.JobStatusCompleted,
		Result: &store.AttackResult{
			OriginalPrediction:    orig.Label,
			OriginalConfidence:    orig.Confidence,
			AdversarialExample:    outcome.Adversarial.String(),
			AdversarialPrediction: adv.Label,
			AdversarialConfidence: adv.Confidence,
			AttackSuccess:         attack.Succeeded(orig, job.TargetLabel, adv),
			PerturbationDetails:   outcome.Details,
			Metrics: map[string]any{
				"attack_time_seconds":     attackTime.Seconds(),
				"model_load_time_seconds": loadTime.Seconds(),
				"total_time_seconds":      a.now().Sub(start).Seconds(),
				"timeout_seconds":         timeout.Seconds(),
			},
		},
	}
}

// reportProgress writes progress and reports whether cancellation was requested.
// ErrNotFound means the job left in_progress, which only a cancel can cause.
// Other store errors are logged and ignored so a flaky write does not kill the attack.
func (a *Agent) reportProgress(ctx context.Context, jobID string, progress int, stage string) (bool, error) {
	cancelled, err := a.backend.UpdateProgress(ctx, jobID, progress, stage)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		a.logger.Warn("progress update failed", "job_id", jobID, "error", err)
		return false, nil
	}
	return cancelled, nil
}

// runHeartbeat refreshes the lease periodically while an attack is executing.
// This prevents long-running attacks from being picked up by another worker.
func (a *Agent) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := a.now().Add(a.config.LeaseDuration)
			if err := a.backend.SetVisibleAfter(ctx, nil, jobID, visibleAfter); err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}
}

func failed(msg string) store.Finalization {
	return store.Finalization{Status: store.JobStatusFailed, Error: msg}
}

func cancelledFin() store.Finalization {
	return store.Finalization{Status: store.JobStatusCancelled, Error: attack.ErrCancelled.Error()}
}
