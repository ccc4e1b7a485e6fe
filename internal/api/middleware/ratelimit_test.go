package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	handler := RateLimit(60, 3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrapped := RequireUserID(handler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
		req.Header.Set(UserIDHeader, "user-1")
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRateLimit_BlocksBeyondBurst(t *testing.T) {
	handler := RateLimit(60, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrapped := RequireUserID(handler)

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
		req.Header.Set(UserIDHeader, "user-1")
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		lastCode = rr.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestRateLimit_IsolatesByUser(t *testing.T) {
	handler := RateLimit(60, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrapped := RequireUserID(handler)

	for _, user := range []string{"user-a", "user-b", "user-c"} {
		req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
		req.Header.Set(UserIDHeader, user)
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestRateLimit_SetsRetryAfterHeader(t *testing.T) {
	handler := RateLimit(60, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	wrapped := RequireUserID(handler)

	req := httptest.NewRequest(http.MethodPost, "/summarize", nil)
	req.Header.Set(UserIDHeader, "user-1")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}
