package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastion/internal/lockout/models"
	platformMW "bastion/internal/platform/middleware"
)

type stubChecker struct {
	allowed bool
	keys    []string
}

func (c *stubChecker) CheckSimpleCounter(_ context.Context, key string, _ int64, _ time.Duration) bool {
	c.keys = append(c.keys, key)
	return c.allowed
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	// Metadata middleware normally runs first and supplies the client IP.
	platformMW.Metadata(nil)(handler).ServeHTTP(rec, req)
	return rec
}

func TestThrottle_SharedCounterAllowed(t *testing.T) {
	checker := &stubChecker{allowed: true}
	throttle := NewThrottle(DefaultThrottleConfig(), WithCounterChecker(checker))

	rec := doRequest(throttle.Handler(okHandler()), "203.0.113.9:1234")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	require.Len(t, checker.keys, 1)
	assert.Equal(t, "ip:203.0.113.9", checker.keys[0])
}

func TestThrottle_SharedCounterDenied(t *testing.T) {
	checker := &stubChecker{allowed: false}
	throttle := NewThrottle(DefaultThrottleConfig(), WithCounterChecker(checker))

	rec := doRequest(throttle.Handler(okHandler()), "203.0.113.9:1234")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body RateLimitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Equal(t, 60, body.RetryAfter)
	assert.False(t, body.Locked)
}

func TestThrottle_LocalBucketFallback(t *testing.T) {
	cfg := DefaultThrottleConfig()
	cfg.LocalRPS = 1
	cfg.LocalBurst = 2
	throttle := NewThrottle(cfg)
	handler := throttle.Handler(okHandler())

	// Burst of 2 passes, the third is throttled.
	assert.Equal(t, http.StatusOK, doRequest(handler, "203.0.113.9:1234").Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, "203.0.113.9:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "203.0.113.9:1234").Code)

	// A different IP has its own bucket.
	assert.Equal(t, http.StatusOK, doRequest(handler, "198.51.100.4:1234").Code)
}

func TestLocalBuckets_CleanupDropsIdleEntries(t *testing.T) {
	buckets := newLocalBuckets(1, 1, time.Nanosecond)
	buckets.Allow("a")
	buckets.Allow("b")

	time.Sleep(time.Millisecond)
	buckets.cleanup()

	buckets.mu.Lock()
	defer buckets.mu.Unlock()
	assert.Empty(t, buckets.entries)
}

func TestWriteLockoutDenied(t *testing.T) {
	lockedUntil := time.Now().Add(15 * time.Minute)
	rec := httptest.NewRecorder()
	WriteLockoutDenied(rec, models.RateLimitDecision{
		Allowed:     false,
		RetryAfter:  900,
		Locked:      true,
		LockedUntil: &lockedUntil,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))

	var body RateLimitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Locked)
	assert.Equal(t, 900, body.RetryAfter)
}
