package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"advsandbox/internal/attack"
	"advsandbox/internal/dispatch"
	"advsandbox/internal/modelcache"
	"advsandbox/internal/store/memory"
	"advsandbox/pkg/api"
)

func TestPredict(t *testing.T) {
	env := newTestEnv(t)
	body := api.PredictRequest{
		ModelID:   "default-sentiment-model",
		InputData: json.RawMessage(`"This movie was absolutely amazing and I loved every second."`),
	}

	rr := env.do(t, http.MethodPost, "/predict", "alice", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[api.PredictResponse](t, rr)
	if resp.ModelID != "default-sentiment-model" || resp.Prediction != "Positive" {
		t.Errorf("unexpected prediction %+v", resp)
	}
	if resp.Confidence <= 0 || resp.Confidence > 1 {
		t.Errorf("confidence %v out of range", resp.Confidence)
	}
	if stats := env.cache.Stats(); stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("expected the model to be loaded once, got %+v", stats)
	}
	if pinned := env.cache.Pinned("default-sentiment-model"); pinned != 0 {
		t.Errorf("expected handle to be released, %d still pinned", pinned)
	}
}

func TestPredict_Errors(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		caller string
		body   any
		want   int
	}{
		{"unauthenticated", "", api.PredictRequest{ModelID: "default-sentiment-model", InputData: json.RawMessage(`"hi"`)}, http.StatusUnauthorized},
		{"malformed", "alice", `{"model_id":`, http.StatusBadRequest},
		{"missing model_id", "alice", api.PredictRequest{InputData: json.RawMessage(`"hi"`)}, http.StatusBadRequest},
		{"missing input", "alice", api.PredictRequest{ModelID: "default-sentiment-model"}, http.StatusBadRequest},
		{"wrong modality", "alice", api.PredictRequest{ModelID: "default-sentiment-model", InputData: json.RawMessage(`[1, 2, 3]`)}, http.StatusBadRequest},
		{"unknown model", "alice", api.PredictRequest{ModelID: "nope", InputData: json.RawMessage(`"hi"`)}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/predict", tt.caller, tt.body)
			if rr.Code != tt.want {
				t.Errorf("got status %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestPredict_CacheExhausted(t *testing.T) {
	env := newTestEnvWithCache(t, modelcache.Config{Capacity: 1, Wait: 20 * time.Millisecond})

	// A running attack holds the only slot.
	handle, err := env.cache.Acquire(context.Background(), "old-model")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer handle.Release()

	rr := env.do(t, http.MethodPost, "/predict", "alice", api.PredictRequest{
		ModelID:   "default-sentiment-model",
		InputData: json.RawMessage(`"great film"`),
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusServiceUnavailable, rr.Body.String())
	}
	if resp := decodeBody[api.ErrorResponse](t, rr); resp.Code != "503" {
		t.Errorf("unexpected error body %+v", resp)
	}
}

func TestPredict_WithoutCache(t *testing.T) {
	backend := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := routes(New(dispatch.New(backend, attack.DefaultRegistry(), log), backend, log))
	env := &testEnv{handler: h, backend: backend}

	rr := env.do(t, http.MethodPost, "/predict", "alice", api.PredictRequest{
		ModelID:   "default-sentiment-model",
		InputData: json.RawMessage(`"hi"`),
	})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}
