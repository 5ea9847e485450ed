package webhook

import (
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// ReceiverConfig controls how often the receiver pretends to be broken.
type ReceiverConfig struct {
	FailureRate float64       // probability of a 500 per request
	Delay       time.Duration // processing delay before responding
	AlwaysFail  bool          // answer every request with 500
	FailFirst   int           // fail this many requests per attack id before succeeding
	Secret      string        // verify SignatureHeader when set
}

// Receiver is a flaky webhook endpoint. It records every payload it accepts.
type Receiver struct {
	config ReceiverConfig
	logger *slog.Logger
	rand   func() float64

	mu       sync.Mutex
	seen     map[string]int
	received []Payload
}

// NewReceiver creates a receiver.
func NewReceiver(config ReceiverConfig, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		config: config,
		logger: logger,
		rand:   rand.Float64,
		seen:   make(map[string]int),
	}
}

// Handler returns the receiver routes.
func (r *Receiver) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook-receiver", r.receive)
	mux.HandleFunc("GET /webhook-receiver", r.list)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok", "service": "webhook-listener"})
	})
	return mux
}

func (r *Receiver) receive(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1<<20))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"status": "failed", "message": "unreadable body"})
		return
	}
	if r.config.Secret != "" {
		want := "sha256=" + Sign(r.config.Secret, body)
		if !hmac.Equal([]byte(req.Header.Get(SignatureHeader)), []byte(want)) {
			respond(w, http.StatusUnauthorized, map[string]string{"status": "failed", "message": "bad signature"})
			return
		}
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"status": "failed", "message": "invalid payload"})
		return
	}
	log := r.logger.With("attack_id", p.AttackID, "event_type", p.EventType)
	log.Info("webhook received")

	if r.config.Delay > 0 {
		select {
		case <-time.After(r.config.Delay):
		case <-req.Context().Done():
			return
		}
	}

	r.mu.Lock()
	r.seen[p.AttackID]++
	n := r.seen[p.AttackID]
	r.mu.Unlock()

	switch {
	case r.config.AlwaysFail:
		log.Warn("simulating forced failure")
		respond(w, http.StatusInternalServerError, map[string]string{"status": "failed", "message": "Simulated forced failure"})
		return
	case n <= r.config.FailFirst:
		log.Warn("simulating initial failure", "request", n)
		respond(w, http.StatusInternalServerError, map[string]string{"status": "failed", "message": "Simulated initial failure"})
		return
	case r.config.FailureRate > 0 && r.rand() < r.config.FailureRate:
		log.Warn("simulating random failure")
		respond(w, http.StatusInternalServerError, map[string]string{"status": "failed", "message": "Simulated random failure"})
		return
	}

	r.mu.Lock()
	r.received = append(r.received, p)
	r.mu.Unlock()

	log.Info("webhook processed")
	respond(w, http.StatusOK, map[string]string{"status": "success", "message": "Webhook received successfully"})
}

func (r *Receiver) list(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, r.Received())
}

// Received returns the payloads accepted so far.
func (r *Receiver) Received() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payload, len(r.received))
	copy(out, r.received)
	return out
}

// Requests returns how many requests arrived for an attack id, failed ones included.
func (r *Receiver) Requests(attackID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[attackID]
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
