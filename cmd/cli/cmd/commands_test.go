package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"advsandbox/pkg/api"

	"github.com/spf13/viper"
)

// serve points the CLI at a test server backed by handler.
func serve(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	viper.Set("url", server.URL)
	viper.Set("token", "test-token")
}

func TestListCommand_FiltersAndTable(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed" || q.Get("model_id") != "m1" || q.Get("attack_success") != "false" || q.Get("limit") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Has("offset") {
			t.Errorf("zero offset should not be sent: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.AttackListResponse{
			Attacks: []api.AttackStatusResponse{{ID: "atk-1", ModelID: "m1", AttackMethodID: "fgsm", Status: "failed", CreatedAt: time.Now()}},
			Total:   7,
			Limit:   5,
		})
	})

	out, err := execute(t, "list", "--status", "failed", "--model", "m1", "--success=false", "--limit", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "atk-1") || !strings.Contains(out, "Showing 1 of 7") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestListCommand_Empty(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.AttackListResponse{Attacks: []api.AttackStatusResponse{}})
	})

	out, err := execute(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No attacks found.") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCancelCommand(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/attacks/atk-1/cancel" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.CancelAttackResponse{AttackID: "atk-1", Status: "cancelled", Message: "Attack cancelled"})
	})

	out, err := execute(t, "cancel", "atk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Attack cancelled") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCancelCommand_Conflict(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Attack already finished", Code: "409"})
	})

	_, err := execute(t, "cancel", "atk-1")
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Errorf("expected conflict error, got: %v", err)
	}
}

func TestResultCommand_JSON(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attacks/atk-1/results" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.AttackResultResponse{ID: "atk-1", AttackSuccess: true, AdversarialPrediction: "Negative"})
	})

	out, err := execute(t, "result", "atk-1", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got api.AttackResultResponse
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.ID != "atk-1" || !got.AttackSuccess {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestWebhooksCommand(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.WebhookAttemptsResponse{
			AttackID:      "atk-1",
			WebhookStatus: "delivered",
			Attempts: []api.WebhookAttempt{
				{Attempt: 1, StatusCode: 500, Error: "unexpected status 500", AttemptedAt: time.Now()},
				{Attempt: 2, Success: true, StatusCode: 200, AttemptedAt: time.Now()},
			},
		})
	})

	out, err := execute(t, "webhooks", "atk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"delivered", "unexpected status 500", "200"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestModelsListCommand(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "CV" {
			t.Errorf("expected type filter, got: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.ModelListResponse{
			Models: []api.ModelResponse{{ID: "cv-object-detector", Type: "CV", Version: "1.0.0", Status: "active", Name: "Object Detector"}},
			Total:  1,
		})
	})

	out, err := execute(t, "models", "list", "--type", "CV")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "cv-object-detector") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestModelsRegisterCommand_SendsAdminToken(t *testing.T) {
	resetViper()
	var got api.RegisterModelRequest
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(adminTokenHeader) != "ops-secret" {
			t.Errorf("expected admin token header, got %q", r.Header.Get(adminTokenHeader))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.ModelResponse{ID: got.ID, Status: "active"})
	})
	viper.Set("admin_token", "ops-secret")

	out, err := execute(t, "models", "register", "--id", "m1", "--name", "M1", "--type", "NLP", "--version", "1",
		"--artifact-url", "s3://models/m1.json", "--metadata", "bias=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ArtifactURL != "s3://models/m1.json" || got.Metadata["bias"] != "1" {
		t.Errorf("unexpected request: %+v", got)
	}
	if !strings.Contains(out, "Model registered") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestModelsRegisterCommand_RequiresFields(t *testing.T) {
	resetViper()
	viper.Set("token", "test-token")

	_, err := execute(t, "models", "register", "--id", "m1", "--type", "NLP", "--version", "1")
	if err == nil || !strings.Contains(err.Error(), "--name is required") {
		t.Errorf("expected missing name error, got: %v", err)
	}
}

func TestModelsSetStatusCommand(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/models/m1/status" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req api.UpdateModelStatusRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(api.ModelResponse{ID: "m1", Status: req.Status})
	})

	out, err := execute(t, "models", "set-status", "m1", "deprecated")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Model m1 is now deprecated") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestMethodsCommand(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]api.AttackMethodResponse{{
			ID:                    "fgsm",
			Name:                  "Fast Gradient Sign Method",
			Modalities:            []string{"CV"},
			DefaultTimeoutSeconds: 60,
			Parameters:            []api.AttackParam{{Name: "epsilon", Min: 0, Max: 1, Default: 0.1}},
		}})
	})

	out, err := execute(t, "methods")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"fgsm", "epsilon", "CV", "60s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestPredictCommand(t *testing.T) {
	resetViper()
	var got api.PredictRequest
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(api.PredictResponse{ModelID: "default-sentiment-model", Prediction: "Positive", Confidence: 0.85})
	})

	out, err := execute(t, "predict", "--model", "default-sentiment-model", "--input", "I loved this film")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ModelID != "default-sentiment-model" || string(got.InputData) != `"I loved this film"` {
		t.Errorf("unexpected request body: %+v", got)
	}
	if !strings.Contains(out, "Positive") || !strings.Contains(out, "0.8500") {
		t.Errorf("expected prediction in output, got: %s", out)
	}
}

func TestPredictCommand_Errors(t *testing.T) {
	resetViper()
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "model capacity exhausted, retry later", Code: "503"})
	})

	if _, err := execute(t, "predict", "--input", "x"); err == nil || !strings.Contains(err.Error(), "--model") {
		t.Errorf("expected missing model error, got %v", err)
	}
	if _, err := execute(t, "predict", "--model", "m"); err == nil {
		t.Error("expected missing input error")
	}

	_, err := execute(t, "predict", "--model", "m", "--input-json", "[1,2]")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected API error, got %v", err)
	}
}
