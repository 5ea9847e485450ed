package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"advsandbox/internal/store"
)

// RegisterModelRequest registers a model in the registry.
type RegisterModelRequest struct {
	ID          string            `validate:"required,max=128"`
	Name        string            `validate:"required,max=256"`
	Type        store.Modality    `validate:"required"`
	Version     string            `validate:"required,max=64"`
	Status      store.ModelStatus `validate:"omitempty"`
	Description string            `validate:"max=2048"`
	ArtifactURL string            `validate:"omitempty,startswith=s3://"`
	Metadata    map[string]string
}

// ModelListRequest narrows a model listing.
type ModelListRequest struct {
	Type     store.Modality
	Status   store.ModelStatus
	SortBy   string `validate:"omitempty,oneof=created_at name id"`
	SortDesc bool
	Limit    int `validate:"gte=0,lte=1000"`
	Offset   int `validate:"gte=0"`
}

// RegisterModel validates and stores a new model. New models are active
// unless a status is given.
func (s *Service) RegisterModel(ctx context.Context, req RegisterModelRequest) (*store.Model, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalid("%s", describe(err))
	}
	if !req.Type.Valid() {
		return nil, invalid("unknown model type %q", req.Type)
	}
	if req.Status == "" {
		req.Status = store.ModelStatusActive
	}
	if !req.Status.Valid() {
		return nil, invalid("unknown model status %q", req.Status)
	}

	m := &store.Model{
		ID:          strings.TrimSpace(req.ID),
		Name:        req.Name,
		Type:        req.Type,
		Version:     req.Version,
		Status:      req.Status,
		Description: req.Description,
		ArtifactURL: req.ArtifactURL,
		Metadata:    req.Metadata,
	}
	if err := s.backend.CreateModel(ctx, m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrModelExists, m.ID)
		}
		return nil, fmt.Errorf("failed to register model: %w", err)
	}
	s.logger.Info("model registered", "model_id", m.ID, "type", m.Type, "version", m.Version)
	return m, nil
}

// GetModel returns a registered model.
func (s *Service) GetModel(ctx context.Context, id string) (*store.Model, error) {
	m, err := s.backend.GetModel(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrModelNotFound
	}
	return m, err
}

// ListModels returns a page of models and the total match count.
func (s *Service) ListModels(ctx context.Context, req ModelListRequest) ([]store.Model, int, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, 0, invalid("%s", describe(err))
	}
	if req.Type != "" && !req.Type.Valid() {
		return nil, 0, invalid("unknown model type %q", req.Type)
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, 0, invalid("unknown model status %q", req.Status)
	}
	limit := req.Limit
	if limit == 0 {
		limit = 100
	}
	return s.backend.ListModels(ctx, store.ModelFilter{
		Type:     req.Type,
		Status:   req.Status,
		SortBy:   req.SortBy,
		SortDesc: req.SortDesc,
		Limit:    limit,
		Offset:   req.Offset,
	})
}

// UpdateModelStatus moves a model between active, deprecated and processing.
// Only active models accept new submissions.
func (s *Service) UpdateModelStatus(ctx context.Context, id string, status store.ModelStatus) error {
	if !status.Valid() {
		return invalid("unknown model status %q", status)
	}
	err := s.backend.UpdateModelStatus(ctx, id, status)
	if errors.Is(err, store.ErrNotFound) {
		return ErrModelNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update model %s: %w", id, err)
	}
	s.logger.Info("model status changed", "model_id", id, "status", status)
	return nil
}
