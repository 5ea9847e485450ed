package handlers

import (
	"net/http"

	"advsandbox/internal/dispatch"
	"advsandbox/internal/store"
	"advsandbox/pkg/api"
)

// RegisterModel handles POST /models.
func (h *Handlers) RegisterModel(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterModelRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, err := h.svc.RegisterModel(r.Context(), dispatch.RegisterModelRequest{
		ID:          req.ID,
		Name:        req.Name,
		Type:        store.Modality(req.Type),
		Version:     req.Version,
		Status:      store.ModelStatus(req.Status),
		Description: req.Description,
		ArtifactURL: req.ArtifactURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toModelResponse(m))
}

// GetModel handles GET /models/{id}.
func (h *Handlers) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetModel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toModelResponse(m))
}

// ListModels handles GET /models.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := dispatch.ModelListRequest{
		Type:   store.Modality(q.Get("type")),
		Status: store.ModelStatus(q.Get("status")),
		SortBy: q.Get("sort_by"),
	}

	switch q.Get("sort_order") {
	case "", "asc":
	case "desc":
		req.SortDesc = true
	default:
		h.httpError(w, "sort_order must be asc or desc", http.StatusBadRequest)
		return
	}

	var err error
	if req.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		h.httpError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	if req.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		h.httpError(w, "offset must be an integer", http.StatusBadRequest)
		return
	}

	models, total, err := h.svc.ListModels(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.ModelListResponse{Models: make([]api.ModelResponse, 0, len(models)), Total: total}
	for i := range models {
		resp.Models = append(resp.Models, toModelResponse(&models[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// UpdateModelStatus handles PATCH /models/{id}/status.
func (h *Handlers) UpdateModelStatus(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateModelStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := h.svc.UpdateModelStatus(r.Context(), id, store.ModelStatus(req.Status)); err != nil {
		h.fail(w, r, err)
		return
	}

	m, err := h.svc.GetModel(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toModelResponse(m))
}

func toModelResponse(m *store.Model) api.ModelResponse {
	return api.ModelResponse{
		ID:          m.ID,
		Name:        m.Name,
		Type:        string(m.Type),
		Version:     m.Version,
		Description: m.Description,
		Status:      string(m.Status),
		ArtifactURL: m.ArtifactURL,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
