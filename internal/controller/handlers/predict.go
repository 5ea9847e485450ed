package handlers

import (
	"net/http"

	"advsandbox/internal/dispatch"
	"advsandbox/pkg/api"
)

// Predict handles POST /predict.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.callerID(w, r); !ok {
		return
	}
	var req api.PredictRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Predict(r.Context(), dispatch.PredictRequest{
		ModelID:   req.ModelID,
		InputData: req.InputData,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.PredictResponse{
		ModelID:    res.ModelID,
		Prediction: res.Label,
		Confidence: res.Confidence,
	})
}
