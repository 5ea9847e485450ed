// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"advsandbox/internal/attack"
	"advsandbox/internal/controller/middleware"
	"advsandbox/internal/dispatch"
	"advsandbox/internal/logger"
	"advsandbox/internal/store"
	"advsandbox/pkg/api"
)

// maxBodyBytes bounds request bodies; base64 images are the largest inputs.
const maxBodyBytes = 10 << 20

// Dispatcher is the attack and model service the handlers front.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatch.SubmitRequest) (*dispatch.Submission, error)
	Status(ctx context.Context, callerID, jobID string) (*store.AttackJob, error)
	Result(ctx context.Context, callerID, jobID string) (*store.AttackJob, error)
	Cancel(ctx context.Context, callerID, jobID string) (store.JobStatus, error)
	List(ctx context.Context, req dispatch.ListRequest) ([]store.AttackJob, int, error)
	WebhookAttempts(ctx context.Context, callerID, jobID string) ([]store.WebhookDeliveryAttempt, error)

	RegisterModel(ctx context.Context, req dispatch.RegisterModelRequest) (*store.Model, error)
	GetModel(ctx context.Context, id string) (*store.Model, error)
	ListModels(ctx context.Context, req dispatch.ModelListRequest) ([]store.Model, int, error)
	UpdateModelStatus(ctx context.Context, id string, status store.ModelStatus) error
	Predict(ctx context.Context, req dispatch.PredictRequest) (*dispatch.PredictResult, error)

	Registry() *attack.Registry
}

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc    Dispatcher
	db     Pinger
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(svc Dispatcher, db Pinger, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, db: db, logger: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// fail maps service errors to HTTP statuses. Unexpected errors are logged and
// reported without detail.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var code int
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrJobNotFound), errors.Is(err, dispatch.ErrModelNotFound):
		code = http.StatusNotFound
	case errors.Is(err, dispatch.ErrNotCompleted),
		errors.Is(err, dispatch.ErrNotCancellable),
		errors.Is(err, dispatch.ErrModelExists):
		code = http.StatusConflict
	case errors.Is(err, dispatch.ErrModelBusy), errors.Is(err, dispatch.ErrPredictUnavailable):
		code = http.StatusServiceUnavailable
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.httpError(w, err.Error(), code)
}

// callerID returns the authenticated caller or writes 401.
func (h *Handlers) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.CallerIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
