package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"advsandbox/internal/dispatch"
	"advsandbox/internal/store"
	"advsandbox/pkg/api"
)

// SubmitAttack handles POST /attacks.
// The attack is validated and queued; execution happens asynchronously.
func (h *Handlers) SubmitAttack(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req api.SubmitAttackRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.svc.Submit(r.Context(), dispatch.SubmitRequest{
		CallerID:       callerID,
		ModelID:        req.ModelID,
		AttackMethodID: req.AttackMethodID,
		InputData:      req.InputData,
		TargetLabel:    req.TargetLabel,
		Parameters:     req.AttackParameters,
		CallbackURL:    req.CallbackURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/attacks/"+sub.Job.ID+"/status")
	h.respondJson(w, http.StatusAccepted, api.AttackLaunchResponse{
		AttackID:                       sub.Job.ID,
		Status:                         string(sub.Job.Status),
		Message:                        "Attack queued for processing",
		EstimatedCompletionTimeSeconds: sub.EstimatedSeconds,
	})
}

// GetAttackStatus handles GET /attacks/{id}/status.
func (h *Handlers) GetAttackStatus(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Status(r.Context(), callerID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toStatusResponse(job))
}

// GetAttackResults handles GET /attacks/{id}/results.
// Results exist only once the attack has completed.
func (h *Handlers) GetAttackResults(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Result(r.Context(), callerID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res := job.Result
	h.respondJson(w, http.StatusOK, api.AttackResultResponse{
		ID:                    job.ID,
		ModelID:               job.ModelID,
		AttackMethodID:        job.AttackMethodID,
		Status:                string(job.Status),
		OriginalInput:         job.Input,
		TargetLabel:           job.TargetLabel,
		OriginalPrediction:    res.OriginalPrediction,
		OriginalConfidence:    res.OriginalConfidence,
		AdversarialExample:    res.AdversarialExample,
		AdversarialPrediction: res.AdversarialPrediction,
		AdversarialConfidence: res.AdversarialConfidence,
		AttackSuccess:         res.AttackSuccess,
		PerturbationDetails:   res.PerturbationDetails,
		Metrics:               res.Metrics,
		CreatedAt:             job.CreatedAt,
		CompletedAt:           job.CompletedAt,
	})
}

// CancelAttack handles POST /attacks/{id}/cancel.
// A queued attack is cancelled at once; a running one stops at its next checkpoint.
func (h *Handlers) CancelAttack(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	status, err := h.svc.Cancel(r.Context(), callerID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg := "Attack cancelled"
	if status != store.JobStatusCancelled {
		msg = "Cancellation requested; the attack stops at its next checkpoint"
	}
	h.respondJson(w, http.StatusAccepted, api.CancelAttackResponse{
		AttackID: id,
		Status:   string(status),
		Message:  msg,
	})
}

// ListAttacks handles GET /attacks.
func (h *Handlers) ListAttacks(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	req := dispatch.ListRequest{
		CallerID:       callerID,
		ModelID:        q.Get("model_id"),
		AttackMethodID: q.Get("attack_method_id"),
		Status:         store.JobStatus(q.Get("status")),
		SortBy:         q.Get("sort_by"),
	}

	var err error
	if req.SortDesc, err = parseSortOrder(q.Get("sort_order")); err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		h.httpError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	if req.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		h.httpError(w, "offset must be an integer", http.StatusBadRequest)
		return
	}
	if v := q.Get("attack_success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.httpError(w, "attack_success must be true or false", http.StatusBadRequest)
			return
		}
		req.AttackSuccess = &b
	}

	jobs, total, err := h.svc.List(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.AttackListResponse{
		Attacks: make([]api.AttackStatusResponse, 0, len(jobs)),
		Total:   total,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	if resp.Limit == 0 {
		resp.Limit = 100
	}
	for i := range jobs {
		resp.Attacks = append(resp.Attacks, toStatusResponse(&jobs[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetWebhookAttempts handles GET /attacks/{id}/webhooks.
func (h *Handlers) GetWebhookAttempts(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	job, err := h.svc.Status(r.Context(), callerID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attempts, err := h.svc.WebhookAttempts(r.Context(), callerID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.WebhookAttemptsResponse{
		AttackID:      id,
		WebhookStatus: string(job.WebhookStatus),
		Attempts:      make([]api.WebhookAttempt, 0, len(attempts)),
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, api.WebhookAttempt{
			Attempt:     a.Attempt,
			URL:         a.URL,
			Success:     a.Success,
			StatusCode:  a.StatusCode,
			Error:       a.Error,
			AttemptedAt: a.AttemptedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

func toStatusResponse(job *store.AttackJob) api.AttackStatusResponse {
	resp := api.AttackStatusResponse{
		ID:                 job.ID,
		ModelID:            job.ModelID,
		AttackMethodID:     job.AttackMethodID,
		OriginalInput:      job.Input,
		TargetLabel:        job.TargetLabel,
		Status:             string(job.Status),
		ProgressPercentage: job.Progress,
		CurrentStage:       job.Stage,
		Attempt:            job.Attempt,
		CancelRequested:    job.CancelRequested,
		Error:              job.Error,
		WebhookStatus:      string(job.WebhookStatus),
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
	}
	if resp.CurrentStage == "" {
		resp.CurrentStage = string(job.Status)
	}
	if job.Result != nil {
		success := job.Result.AttackSuccess
		resp.AttackSuccess = &success
	}
	return resp
}

func parseSortOrder(v string) (bool, error) {
	switch v {
	case "", "desc":
		return true, nil
	case "asc":
		return false, nil
	}
	return false, errors.New("sort_order must be asc or desc")
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", v, err)
	}
	return n, nil
}
