// Package store contains the database layer for advsandbox.
package store

import (
	"encoding/json"
	"time"
)

// Modality is the input domain of a model.
type Modality string

const (
	ModalityNLP        Modality = "NLP"
	ModalityCV         Modality = "CV"
	ModalityTimeSeries Modality = "TimeSeries"
)

// Valid reports whether m is one of the supported modalities.
func (m Modality) Valid() bool {
	switch m {
	case ModalityNLP, ModalityCV, ModalityTimeSeries:
		return true
	}
	return false
}

// ModelStatus is the lifecycle state of a registered model.
type ModelStatus string

const (
	ModelStatusActive     ModelStatus = "active"
	ModelStatusDeprecated ModelStatus = "deprecated"
	ModelStatusProcessing ModelStatus = "processing"
)

// Valid reports whether s is a known model status.
func (s ModelStatus) Valid() bool {
	switch s {
	case ModelStatusActive, ModelStatusDeprecated, ModelStatusProcessing:
		return true
	}
	return false
}

// Model is a registered machine-learning model.
// The loaded representation lives in the model cache, not here.
type Model struct {
	ID          string
	Name        string
	Type        Modality
	Version     string
	Status      ModelStatus
	Description string
	ArtifactURL string // s3://bucket/key, empty for built-in predictors
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AttackJob represents a single submitted adversarial attack.
type AttackJob struct {
	ID             string
	CallerID       string
	ModelID        string
	AttackMethodID string
	Input          json.RawMessage
	TargetLabel    string
	Parameters     map[string]float64
	CallbackURL    string

	Status          JobStatus
	Progress        int
	Stage           string
	Attempt         int
	CancelRequested bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result        *AttackResult
	Error         *string
	WebhookStatus WebhookStatus
}

// AttackResult holds the outcome of a completed attack.
type AttackResult struct {
	OriginalPrediction    string
	OriginalConfidence    float64
	AdversarialExample    string
	AdversarialPrediction string
	AdversarialConfidence float64
	AttackSuccess         bool
	PerturbationDetails   map[string]any
	Metrics               map[string]any
}

// WebhookStatus annotates a job with the outcome of its webhook delivery.
// It never affects the job status itself.
type WebhookStatus string

const (
	WebhookStatusNone      WebhookStatus = ""
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusDelivered WebhookStatus = "delivered"
	WebhookStatusFailed    WebhookStatus = "webhook_delivery_failed"
)

// WebhookDeliveryAttempt is an append-only audit record of one delivery attempt.
type WebhookDeliveryAttempt struct {
	ID          int64
	JobID       string
	URL         string
	Attempt     int
	Success     bool
	StatusCode  int
	Error       string
	AttemptedAt time.Time
}

// Finalization is the terminal write applied to a job by its worker.
type Finalization struct {
	Status JobStatus
	Result *AttackResult
	Error  string
}

// JobFilter narrows a job listing. Zero values mean "no filter".
type JobFilter struct {
	CallerID       string
	ModelID        string
	AttackMethodID string
	Status         JobStatus
	AttackSuccess  *bool
	SortBy         string
	SortDesc       bool
	Limit          int
	Offset         int
}

// ModelFilter narrows a model listing.
type ModelFilter struct {
	Type     Modality
	Status   ModelStatus
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}
