// Package webhook delivers attack completion notifications to caller-supplied
// callback URLs with bounded retries, and ships a deliberately flaky receiver
// for exercising that path.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"advsandbox/internal/observability"
	"advsandbox/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrDeliveryFailed is returned by Deliver once every attempt has failed.
var ErrDeliveryFailed = errors.New("webhook delivery failed")

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Webhook-Signature"

// Recorder persists the delivery audit trail and the per-job outcome.
type Recorder interface {
	RecordWebhookAttempt(ctx context.Context, attempt *store.WebhookDeliveryAttempt) error
	AnnotateWebhook(ctx context.Context, id string, status store.WebhookStatus) error
}

// Config tunes delivery.
type Config struct {
	MaxAttempts    int           // default 3
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
	Timeout        time.Duration // per attempt, default 10s
	Secret         string        // signs payloads when set
	Workers        int           // concurrent deliveries, default 4
	QueueSize      int           // buffered deliveries, default 256
}

// Notifier delivers webhooks asynchronously.
type Notifier struct {
	recorder Recorder
	client   *http.Client
	config   Config
	logger   *slog.Logger

	queue    chan Delivery
	overflow sync.WaitGroup

	// baseCtx bounds overflow deliveries; it is cancelled when Run returns.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	attemptCounter metric.Int64Counter
	successCounter metric.Int64Counter
	failureCounter metric.Int64Counter
}

// New creates a notifier. A nil client gets a default one.
func New(recorder Recorder, config Config, client *http.Client, logger *slog.Logger) *Notifier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		recorder:   recorder,
		client:     client,
		config:     config,
		logger:     logger,
		queue:      make(chan Delivery, config.QueueSize),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		sleep:      sleepCtx,
		now:        func() time.Time { return time.Now().UTC() },
	}

	meter := observability.Meter("webhook")
	n.attemptCounter, _ = meter.Int64Counter("advsandbox.webhook.attempts",
		metric.WithDescription("Webhook delivery attempts"))
	n.successCounter, _ = meter.Int64Counter("advsandbox.webhook.successes",
		metric.WithDescription("Webhooks delivered"))
	n.failureCounter, _ = meter.Int64Counter("advsandbox.webhook.failures",
		metric.WithDescription("Webhooks abandoned after the last attempt"))
	return n
}

// Enqueue schedules a delivery without blocking. When the buffer is full the
// delivery runs on its own goroutine, which Run waits for before returning.
func (n *Notifier) Enqueue(d Delivery) {
	select {
	case n.queue <- d:
	default:
		n.logger.Warn("webhook queue full, delivering on overflow goroutine", "job_id", d.JobID)
		n.overflow.Add(1)
		go func() {
			defer n.overflow.Done()
			_ = n.Deliver(n.baseCtx, d)
		}()
	}
}

// Run drains the delivery queue with Config.Workers goroutines until ctx is
// cancelled. Deliveries still buffered at shutdown are marked failed.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("webhook notifier starting", "workers", n.config.Workers, "max_attempts", n.config.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < n.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-n.queue:
					_ = n.Deliver(ctx, d)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	n.cancelBase()
	n.overflow.Wait()

	for {
		select {
		case d := <-n.queue:
			n.logger.Warn("webhook dropped at shutdown", "job_id", d.JobID)
			n.annotate(d.JobID, store.WebhookStatusFailed)
		default:
			return ctx.Err()
		}
	}
}

// Deliver posts the payload until it succeeds or MaxAttempts is reached,
// recording every attempt. Only 2xx responses count as delivered.
func (n *Notifier) Deliver(ctx context.Context, d Delivery) error {
	log := n.logger.With("job_id", d.JobID, "url", d.URL)
	n.annotate(d.JobID, store.WebhookStatusPending)

	body, err := json.Marshal(d.Payload)
	if err != nil {
		n.annotate(d.JobID, store.WebhookStatusFailed)
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := n.Backoff(attempt - 1)
			log.Info("retrying webhook", "attempt", attempt, "backoff", wait)
			if err := n.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		n.attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
		code, err := n.post(ctx, d, body, attempt)
		rec := &store.WebhookDeliveryAttempt{
			JobID:      d.JobID,
			URL:        d.URL,
			Attempt:    attempt,
			StatusCode: code,
			Success:    err == nil,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if recErr := n.recorder.RecordWebhookAttempt(context.WithoutCancel(ctx), rec); recErr != nil {
			log.Error("failed to record webhook attempt", "attempt", attempt, "error", recErr)
		}

		if err == nil {
			n.successCounter.Add(ctx, 1)
			n.annotate(d.JobID, store.WebhookStatusDelivered)
			log.Info("webhook delivered", "attempt", attempt, "status_code", code)
			return nil
		}
		lastErr = err
		log.Warn("webhook attempt failed", "attempt", attempt, "status_code", code, "error", err)
	}

	n.failureCounter.Add(ctx, 1)
	n.annotate(d.JobID, store.WebhookStatusFailed)
	log.Error("webhook abandoned", "attempts", n.config.MaxAttempts, "error", lastErr)
	return fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, d.JobID, lastErr)
}

// Backoff returns the wait after the given failed attempt:
// InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (n *Notifier) Backoff(attempt int) time.Duration {
	wait := n.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= n.config.MaxBackoff {
			return n.config.MaxBackoff
		}
	}
	return min(wait, n.config.MaxBackoff)
}

func (n *Notifier) post(ctx context.Context, d Delivery, body []byte, attempt int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "advsandbox-webhook/1.0")
	req.Header.Set("X-Webhook-Event", d.Payload.EventType)
	req.Header.Set("X-Attack-ID", d.JobID)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(attempt))
	if n.config.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(n.config.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (n *Notifier) annotate(jobID string, status store.WebhookStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.recorder.AnnotateWebhook(ctx, jobID, status); err != nil {
		n.logger.Error("failed to annotate webhook status", "job_id", jobID, "status", status, "error", err)
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
