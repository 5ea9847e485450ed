package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"advsandbox/internal/store"
)

// PreviewLength is how many characters of the input and adversarial example
// are copied into a payload.
const PreviewLength = 100

// Payload is the JSON body posted to a callback URL.
type Payload struct {
	EventType                 string `json:"event_type"`
	AttackID                  string `json:"attack_id"`
	Timestamp                 string `json:"timestamp"`
	Status                    string `json:"status"`
	ResultURL                 string `json:"result_url"`
	ModelID                   string `json:"model_id"`
	AttackMethodID            string `json:"attack_method_id"`
	AttackSuccess             bool   `json:"attack_success"`
	OriginalInputPreview      string `json:"original_input_preview"`
	AdversarialExamplePreview string `json:"adversarial_example_preview"`
	Error                     string `json:"error,omitempty"`
}

// Delivery is one payload addressed to one callback URL.
type Delivery struct {
	JobID   string
	URL     string
	Payload Payload
}

// NewDelivery builds the delivery for a finalized job. publicURL is the base
// the controller is reachable at.
func NewDelivery(job *store.AttackJob, publicURL string, now time.Time) Delivery {
	p := Payload{
		EventType:            "attack_" + string(job.Status),
		AttackID:             job.ID,
		Timestamp:            now.UTC().Format(time.RFC3339Nano),
		Status:               string(job.Status),
		ResultURL:            fmt.Sprintf("%s/attacks/%s/results", strings.TrimRight(publicURL, "/"), job.ID),
		ModelID:              job.ModelID,
		AttackMethodID:       job.AttackMethodID,
		OriginalInputPreview: Preview(inputText(job)),
	}
	if job.Result != nil {
		p.AttackSuccess = job.Result.AttackSuccess
		p.AdversarialExamplePreview = Preview(job.Result.AdversarialExample)
	}
	if job.Error != nil {
		p.Error = *job.Error
	}
	return Delivery{JobID: job.ID, URL: job.CallbackURL, Payload: p}
}

// inputText renders a stored input without its JSON string quoting.
func inputText(job *store.AttackJob) string {
	var s string
	if err := json.Unmarshal(job.Input, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(job.Input))
}

// Preview truncates s to PreviewLength characters, marking the cut with "...".
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLength {
		return s
	}
	return string(r[:PreviewLength]) + "..."
}
