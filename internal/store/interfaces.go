package store

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("record already exists")
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// ModelStore handles the model registry.
type ModelStore interface {
	// CreateModel registers a new model. Returns ErrConflict if the id is taken.
	CreateModel(ctx context.Context, model *Model) error

	// GetModel returns a model by its ID, or ErrNotFound.
	GetModel(ctx context.Context, id string) (*Model, error)

	// ListModels returns a page of models and the total count matching the filter.
	ListModels(ctx context.Context, filter ModelFilter) ([]Model, int, error)

	// UpdateModelStatus changes the lifecycle status of a model.
	UpdateModelStatus(ctx context.Context, id string, status ModelStatus) error
}

// JobStore handles the persistence of attack jobs. It is the single source of
// truth for status and result queries.
type JobStore interface {
	// CreateJob inserts a new job in the queued state.
	CreateJob(ctx context.Context, tx DBTransaction, job *AttackJob) error

	// GetJob returns a job by its ID, or ErrNotFound.
	GetJob(ctx context.Context, id string) (*AttackJob, error)

	// ListJobs returns a page of jobs and the total count matching the filter.
	ListJobs(ctx context.Context, filter JobFilter) ([]AttackJob, int, error)

	// UpdateProgress records worker progress on an in-progress job.
	// Progress never decreases. It reports whether cancellation was requested,
	// and returns ErrNotFound when no in-progress job has the id.
	UpdateProgress(ctx context.Context, id string, progress int, stage string) (bool, error)

	// RequestCancel cancels a queued job outright or flags an in-progress job
	// for cooperative cancellation. It returns the status after the call, or
	// ErrConflict when the job is already terminal.
	RequestCancel(ctx context.Context, id string) (JobStatus, error)

	// Finalize applies the terminal write for a job and removes it from the queue.
	// It reports false, without error, when the job was already terminal.
	Finalize(ctx context.Context, id string, fin Finalization) (bool, error)

	// AnnotateWebhook records the webhook delivery outcome on the job.
	AnnotateWebhook(ctx context.Context, id string, status WebhookStatus) error
}

// WebhookAttemptStore keeps the audit trail of webhook deliveries.
type WebhookAttemptStore interface {
	// RecordWebhookAttempt appends a delivery attempt.
	RecordWebhookAttempt(ctx context.Context, attempt *WebhookDeliveryAttempt) error

	// ListWebhookAttempts returns every attempt for a job, oldest first.
	ListWebhookAttempts(ctx context.Context, jobID string) ([]WebhookDeliveryAttempt, error)
}

// Backend is everything a storage implementation provides.
type Backend interface {
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
	ModelStore
	JobStore
	WebhookAttemptStore
	Queue
}
