// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// SubmitAttackRequest is the request body for launching an attack.
type SubmitAttackRequest struct {
	ModelID          string             `json:"model_id"`
	AttackMethodID   string             `json:"attack_method_id"`
	InputData        json.RawMessage    `json:"input_data"`
	TargetLabel      string             `json:"target_label,omitempty"`
	AttackParameters map[string]float64 `json:"attack_parameters,omitempty"`
	CallbackURL      string             `json:"callback_url,omitempty"`
}

// AttackLaunchResponse is returned once an attack has been queued.
type AttackLaunchResponse struct {
	AttackID                       string `json:"attack_id"`
	Status                         string `json:"status"`
	Message                        string `json:"message"`
	EstimatedCompletionTimeSeconds int    `json:"estimated_completion_time_seconds"`
}

// AttackStatusResponse is the current state of an attack.
type AttackStatusResponse struct {
	ID                 string          `json:"id"`
	ModelID            string          `json:"model_id"`
	AttackMethodID     string          `json:"attack_method_id"`
	OriginalInput      json.RawMessage `json:"original_input"`
	TargetLabel        string          `json:"target_label,omitempty"`
	Status             string          `json:"status"`
	ProgressPercentage int             `json:"progress_percentage"`
	CurrentStage       string          `json:"current_stage"`
	Attempt            int             `json:"attempt"`
	CancelRequested    bool            `json:"cancel_requested,omitempty"`
	AttackSuccess      *bool           `json:"attack_success,omitempty"`
	Error              *string         `json:"error,omitempty"`
	WebhookStatus      string          `json:"webhook_status,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// AttackResultResponse is the outcome of a completed attack.
type AttackResultResponse struct {
	ID                    string          `json:"id"`
	ModelID               string          `json:"model_id"`
	AttackMethodID        string          `json:"attack_method_id"`
	Status                string          `json:"status"`
	OriginalInput         json.RawMessage `json:"original_input"`
	TargetLabel           string          `json:"target_label,omitempty"`
	OriginalPrediction    string          `json:"original_prediction"`
	OriginalConfidence    float64         `json:"original_confidence"`
	AdversarialExample    string          `json:"adversarial_example"`
	AdversarialPrediction string          `json:"adversarial_prediction"`
	AdversarialConfidence float64         `json:"adversarial_confidence"`
	AttackSuccess         bool            `json:"attack_success"`
	PerturbationDetails   map[string]any  `json:"perturbation_details,omitempty"`
	Metrics               map[string]any  `json:"metrics,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
}

// AttackListResponse is one page of attacks.
type AttackListResponse struct {
	Attacks []AttackStatusResponse `json:"attacks"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// CancelAttackResponse reports the status after a cancel request.
type CancelAttackResponse struct {
	AttackID string `json:"attack_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// WebhookAttempt is one recorded webhook delivery attempt.
type WebhookAttempt struct {
	Attempt     int       `json:"attempt"`
	URL         string    `json:"url"`
	Success     bool      `json:"success"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// WebhookAttemptsResponse is the delivery audit trail of an attack.
type WebhookAttemptsResponse struct {
	AttackID      string           `json:"attack_id"`
	WebhookStatus string           `json:"webhook_status,omitempty"`
	Attempts      []WebhookAttempt `json:"attempts"`
}

// RegisterModelRequest is the request body for registering a model.
type RegisterModelRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	ArtifactURL string            `json:"model_file_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UpdateModelStatusRequest changes a model's lifecycle status.
type UpdateModelStatusRequest struct {
	Status string `json:"status"`
}

// ModelResponse represents a registered model.
type ModelResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"`
	ArtifactURL string            `json:"model_file_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ModelListResponse is one page of models.
type ModelListResponse struct {
	Models []ModelResponse `json:"models"`
	Total  int             `json:"total"`
}

// PredictRequest asks a model to label one input directly.
type PredictRequest struct {
	ModelID   string          `json:"model_id"`
	InputData json.RawMessage `json:"input_data"`
}

// PredictResponse is a model's label for one input.
type PredictResponse struct {
	ModelID    string  `json:"model_id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// AttackParam describes a tunable attack parameter.
type AttackParam struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Default     float64 `json:"default"`
	Integer     bool    `json:"integer"`
}

// AttackMethodResponse describes an available attack method.
type AttackMethodResponse struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Description           string        `json:"description"`
	Modalities            []string      `json:"modalities"`
	Parameters            []AttackParam `json:"parameters"`
	DefaultTimeoutSeconds float64       `json:"default_timeout_seconds"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
