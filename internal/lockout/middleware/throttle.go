// Package middleware provides the HTTP-facing edge of the defense engine:
// a per-IP request throttle and the 429 writers authentication routes use
// for lockout denials.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bastion/internal/lockout/models"
	platformMW "bastion/internal/platform/middleware"
	"bastion/internal/platform/privacy"
	"bastion/internal/transport/httputil"
)

// CounterChecker is the slice of the lockout service the throttle needs.
type CounterChecker interface {
	CheckSimpleCounter(ctx context.Context, key string, max int64, window time.Duration) bool
}

// ThrottleConfig tunes the per-IP request throttle.
type ThrottleConfig struct {
	// MaxRequests per Window and per client IP.
	MaxRequests int64
	Window      time.Duration

	// LocalRPS and LocalBurst shape the in-process token bucket used when
	// no shared counter tier is configured.
	LocalRPS   float64
	LocalBurst int

	// IdleTTL bounds how long an inactive IP keeps its local bucket.
	IdleTTL time.Duration
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		LocalRPS:    100.0 / 60.0,
		LocalBurst:  20,
		IdleTTL:     15 * time.Minute,
	}
}

// Throttle limits requests per client IP. With a counter-backed checker the
// limit is shared across instances through the cache tier; without one each
// instance enforces its own token bucket.
type Throttle struct {
	checker CounterChecker
	buckets *localBuckets
	config  ThrottleConfig
	logger  *slog.Logger
}

type ThrottleOption func(*Throttle)

// WithCounterChecker wires the shared counter tier. Without it the throttle
// stays process-local.
func WithCounterChecker(checker CounterChecker) ThrottleOption {
	return func(t *Throttle) {
		t.checker = checker
	}
}

func WithThrottleLogger(logger *slog.Logger) ThrottleOption {
	return func(t *Throttle) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewThrottle(cfg ThrottleConfig, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.checker == nil {
		t.buckets = newLocalBuckets(cfg.LocalRPS, cfg.LocalBurst, cfg.IdleTTL)
	}
	return t
}

// StartJanitor prunes idle local buckets until ctx is done. A no-op when the
// throttle runs on the shared counter tier.
func (t *Throttle) StartJanitor(ctx context.Context, interval time.Duration) {
	if t.buckets != nil {
		t.buckets.startJanitor(ctx, interval)
	}
}

// Handler is the chi middleware enforcing the throttle.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := platformMW.GetClientIP(ctx)

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(t.config.MaxRequests, 10))

		if !t.allow(ctx, ip) {
			t.logger.WarnContext(ctx, "request throttled",
				"ip_prefix", privacy.AnonymizeIP(ip),
				"path", r.URL.Path,
			)
			retryAfter := int(t.config.Window.Seconds())
			writeThrottled(w, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ctx context.Context, ip string) bool {
	if t.checker != nil {
		return t.checker.CheckSimpleCounter(ctx, "ip:"+ip, t.config.MaxRequests, t.config.Window)
	}
	return t.buckets.Allow(ip)
}

// RateLimitExceededResponse is the 429 payload for both the throttle and
// lockout denials.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
	Locked     bool   `json:"locked,omitempty"`
}

func writeThrottled(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteJSON(w, http.StatusTooManyRequests, &RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this IP address. Please try again later.",
		RetryAfter: retryAfter,
	})
}

// WriteLockoutDenied renders a denied lockout decision as a 429 response.
// Authentication routes call this when Check comes back not allowed.
func WriteLockoutDenied(w http.ResponseWriter, decision models.RateLimitDecision) {
	w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.AttemptsRemaining))

	message := "Too many attempts. Please wait before trying again."
	if decision.Locked {
		message = "Too many failed attempts. This account is temporarily locked."
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, &RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    message,
		RetryAfter: decision.RetryAfter,
		Locked:     decision.Locked,
	})
}
