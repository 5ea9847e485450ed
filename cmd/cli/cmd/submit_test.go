package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"advsandbox/pkg/api"

	"github.com/spf13/viper"
)

func TestSubmitCommand_Success(t *testing.T) {
	resetViper()

	var got api.SubmitAttackRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/attacks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.AttackLaunchResponse{AttackID: "atk-123", Status: "queued", EstimatedCompletionTimeSeconds: 15})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	out, err := execute(t, "submit", "--model", "default-sentiment-model", "--method", "textfooler",
		"--input", "great movie", "--target", "Negative", "--param", "num_words_to_change=2",
		"--callback", "http://hooks.test/webhook-receiver")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.ModelID != "default-sentiment-model" || got.AttackMethodID != "textfooler" || got.TargetLabel != "Negative" {
		t.Errorf("unexpected request body: %+v", got)
	}
	if string(got.InputData) != `"great movie"` {
		t.Errorf("expected input encoded as a JSON string, got %s", got.InputData)
	}
	if got.AttackParameters["num_words_to_change"] != 2 {
		t.Errorf("expected num_words_to_change=2, got %v", got.AttackParameters)
	}
	if got.CallbackURL != "http://hooks.test/webhook-receiver" {
		t.Errorf("unexpected callback url %q", got.CallbackURL)
	}
	if !strings.Contains(out, "atk-123") || !strings.Contains(out, "15s") {
		t.Errorf("expected attack id and estimate in output, got: %s", out)
	}
}

func TestSubmitCommand_InputJSON(t *testing.T) {
	resetViper()

	var got api.SubmitAttackRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.AttackLaunchResponse{AttackID: "atk-ts"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	if _, err := execute(t, "submit", "-m", "ts-anomaly-detector", "-a", "timeseries-shift", "--input-json", "[1,2,3]"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.InputData) != "[1,2,3]" {
		t.Errorf("expected raw JSON input, got %s", got.InputData)
	}
}

func TestSubmitCommand_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing model", []string{"--method", "fgsm", "--input", "x"}, "--model is required"},
		{"missing method", []string{"--model", "m", "--input", "x"}, "--method is required"},
		{"missing input", []string{"--model", "m", "--method", "fgsm"}, "one of --input or --input-json is required"},
		{"both inputs", []string{"--model", "m", "--method", "fgsm", "--input", "x", "--input-json", "[1]"}, "mutually exclusive"},
		{"invalid json", []string{"--model", "m", "--method", "fgsm", "--input-json", "[1,"}, "not valid JSON"},
		{"non numeric param", []string{"--model", "m", "--method", "fgsm", "--input", "x", "--param", "epsilon=big"}, "not a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			viper.Set("token", "test-token")
			viper.Set("url", "http://127.0.0.1:1")

			_, err := execute(t, append([]string{"submit"}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestSubmitCommand_APIError(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Invalid request", Code: "400", Details: "unknown attack method \"nope\""})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	_, err := execute(t, "submit", "--model", "m", "--method", "nope", "--input", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "unknown attack method") {
		t.Errorf("expected API error details, got: %v", err)
	}
}

func TestSubmitCommand_WaitPrintsResult(t *testing.T) {
	resetViper()

	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/attacks":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(api.AttackLaunchResponse{AttackID: "atk-w"})
		case r.URL.Path == "/attacks/atk-w/status":
			status := api.AttackStatusResponse{ID: "atk-w", Status: "in_progress", ProgressPercentage: 50, CurrentStage: "attacking"}
			if polls.Add(1) > 2 {
				status.Status, status.ProgressPercentage, status.CurrentStage = "completed", 100, "completed"
			}
			json.NewEncoder(w).Encode(status)
		case r.URL.Path == "/attacks/atk-w/results":
			json.NewEncoder(w).Encode(api.AttackResultResponse{
				ID: "atk-w", AttackSuccess: true, OriginalPrediction: "Positive", AdversarialPrediction: "Negative",
				AdversarialExample: "terrible movie", Metrics: map[string]any{"attack_time_seconds": 0.5},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	out, err := execute(t, "submit", "--model", "m", "--method", "textfooler", "--input", "great movie", "--wait", "--interval", "1ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"50% attacking", "Attack Result", "terrible movie", "attack_time_seconds"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}
