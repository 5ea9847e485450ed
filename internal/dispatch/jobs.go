package dispatch

import (
	"context"
	"errors"
	"fmt"

	"advsandbox/internal/logger"
	"advsandbox/internal/store"
)

// MaxListLimit bounds a single listing page.
const MaxListLimit = 1000

// ListRequest narrows an attack listing for one caller.
type ListRequest struct {
	CallerID       string `validate:"required"`
	ModelID        string
	AttackMethodID string
	Status         store.JobStatus
	AttackSuccess  *bool
	SortBy         string `validate:"omitempty,oneof=created_at completed_at model_id status"`
	SortDesc       bool
	Limit          int `validate:"gte=0,lte=1000"`
	Offset         int `validate:"gte=0"`
}

// Status returns the job as the caller sees it. Jobs owned by other callers
// are reported as not found.
func (s *Service) Status(ctx context.Context, callerID, jobID string) (*store.AttackJob, error) {
	job, err := s.backend.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attack %s: %w", jobID, err)
	}
	if job.CallerID != callerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Result returns a completed job. Any other status yields ErrNotCompleted.
func (s *Service) Result(ctx context.Context, callerID, jobID string) (*store.AttackJob, error) {
	job, err := s.Status(ctx, callerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobStatusCompleted || job.Result == nil {
		return job, fmt.Errorf("%w: status is %s", ErrNotCompleted, job.Status)
	}
	return job, nil
}

// Cancel cancels a queued job or asks the owning worker to stop an
// in-progress one. It returns the status after the request.
func (s *Service) Cancel(ctx context.Context, callerID, jobID string) (store.JobStatus, error) {
	if _, err := s.Status(ctx, callerID, jobID); err != nil {
		return "", err
	}

	status, err := s.backend.RequestCancel(ctx, jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", ErrJobNotFound
	case errors.Is(err, store.ErrConflict):
		return status, ErrNotCancellable
	case err != nil:
		return "", fmt.Errorf("failed to cancel attack %s: %w", jobID, err)
	}

	logger.FromContext(ctx, s.logger).Info("attack cancel requested", "job_id", jobID, "status", status)
	return status, nil
}

// List returns a page of the caller's jobs and the total match count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]store.AttackJob, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, invalid("%s", describe(err))
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, 0, invalid("unknown status %q", req.Status)
	}
	limit := req.Limit
	if limit == 0 {
		limit = 100
	}

	return s.backend.ListJobs(ctx, store.JobFilter{
		CallerID:       req.CallerID,
		ModelID:        req.ModelID,
		AttackMethodID: req.AttackMethodID,
		Status:         req.Status,
		AttackSuccess:  req.AttackSuccess,
		SortBy:         req.SortBy,
		SortDesc:       req.SortDesc,
		Limit:          limit,
		Offset:         req.Offset,
	})
}

// WebhookAttempts returns the delivery audit trail of a job.
func (s *Service) WebhookAttempts(ctx context.Context, callerID, jobID string) ([]store.WebhookDeliveryAttempt, error) {
	if _, err := s.Status(ctx, callerID, jobID); err != nil {
		return nil, err
	}
	return s.backend.ListWebhookAttempts(ctx, jobID)
}
