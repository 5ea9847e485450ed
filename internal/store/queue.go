// Package store contains the database layer for advsandbox.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Queue defines the interface for job queue operations.
// Implementations must hand each visible item to exactly one consumer and hide it
// for the lease duration, so a crashed consumer's item becomes visible again.
type Queue interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, tx DBTransaction, jobID string, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' visible jobs atomically, leasing them for
	// 'lease' and moving their jobs to in_progress.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]QueueItem, error)

	// Ack removes a job from the queue.
	Ack(ctx context.Context, tx DBTransaction, jobID string) error

	// SetVisibleAfter extends the lease (heartbeat).
	SetVisibleAfter(ctx context.Context, tx DBTransaction, jobID string, visibleAfter time.Time) error

	// Count tracks count of items in queue
	Count(ctx context.Context) (int64, error)
}

// QueueItem represents a dequeued job from the queue.
type QueueItem struct {
	JobID   string
	Attempt int
	Payload json.RawMessage
}

// JobPayload is the queue message body. The job itself stays in the job
// store; the payload carries its id and the submitter's trace context.
type JobPayload struct {
	JobID string            `json:"job_id"`
	Trace map[string]string `json:"trace,omitempty"`
}
