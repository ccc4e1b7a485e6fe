package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/kraklabs/lora-orchestrator/internal/api/errors"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
)

// RateLimiter hands out a token-bucket limiter per user id, adapted from the
// corpus's per-client limiter but keyed by the validated x_user_id rather
// than an API key or remote address.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter allowing requestsPerMinute sustained
// throughput with burst headroom, per user.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[userID] = l
	}
	return l
}

// Cleanup drops limiters sitting at full capacity (idle since the last
// request), meant to be called periodically so the map doesn't grow
// unbounded with one-off callers.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, l := range rl.limiters {
		if l.TokensAt(now) == float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

// RateLimit applies per-user rate limiting. It must run after RequireUserID
// so UserID(r) resolves to the caller's identity.
func RateLimit(requestsPerMinute, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(requestsPerMinute, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r)
			if userID != "" && !limiter.limiterFor(userID).Allow() {
				w.Header().Set("Retry-After", "60")
				requestID := logger.RequestID(r.Context())
				apierrors.Write(w, apierrors.New(apierrors.CodeRateLimitExceeded,
					"rate limit exceeded, retry later").WithRequestID(requestID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
