package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands each caller its own token bucket.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	limiters sync.Map // callerID -> *cachedLimiter
	now      func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long an idle caller's bucket is kept.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given
// burst per caller. A non-positive rate means unlimited.
func NewRateLimiter(perSecond float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	rl := &RateLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware rejects callers that exceed their rate with 429.
// It must run after Auth.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID, ok := CallerIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}

			// RateLimit<=0 means unlimited
			if rl.limit > 0 && !rl.limiterFor(callerID).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiterFor(callerID string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(callerID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(callerID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}
