// Package service is the public surface of the brute-force defense engine.
// Authentication routes call Check before verifying credentials,
// RecordFailure after a bad attempt, Clear after a successful one, and
// CheckSimpleCounter for generic per-source throttling. Every method absorbs
// tier failures: callers always get a decision, never an infrastructure
// error.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/metrics"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/policy"
	"bastion/internal/platform/privacy"
	"bastion/internal/platform/tracing"
	"bastion/pkg/requesttime"
)

// degradedRetryAfterSeconds is the Retry-After hint returned when every
// store tier is unreachable. The deny reflects infrastructure, not policy,
// so the hint is short: clients should retry soon, not sit out a lockout.
const degradedRetryAfterSeconds = 30

// WindowStore is the tiered attempt store the engine runs on.
type WindowStore interface {
	Load(ctx context.Context, key models.Key) (*models.AttemptWindow, error)
	RecordFailure(ctx context.Context, key models.Key) (*models.AttemptWindow, error)
	ClearAll(ctx context.Context, key models.Key)
}

// Counter is the cache-tier atomic counter behind CheckSimpleCounter.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Service struct {
	store   WindowStore
	counter Counter
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracing.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCounter wires the cache-tier counter. Without it CheckSimpleCounter
// behaves as if the counter tier were down.
func WithCounter(counter Counter) Option {
	return func(s *Service) {
		s.counter = counter
	}
}

func WithTracer(tracer tracing.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

func New(store WindowStore, cfg *config.Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		store:  store,
		config: cfg,
		logger: slog.Default(),
		tracer: tracing.NewNoop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Check evaluates the lockout policy for (namespace, identifier) without
// mutating any state. It never fails: when every tier is unreachable the
// decision is a conservative deny.
func (s *Service) Check(ctx context.Context, namespace, identifier string) models.RateLimitDecision {
	ctx, span := s.tracer.Start(ctx, "lockout.check",
		tracing.String("lockout.namespace", namespace),
	)

	key, err := models.NewKey(namespace, identifier)
	if err != nil {
		s.logger.WarnContext(ctx, "rejecting check with invalid key",
			"namespace", namespace,
			"error", err,
		)
		s.metrics.ObserveCheck(namespace, "invalid")
		span.End(err)
		return s.degradedDeny()
	}

	w, err := s.store.Load(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "all store tiers unavailable, denying check",
			"namespace", namespace,
			"identifier", privacy.AnonymizeIdentifier(identifier),
			"error", err,
		)
		s.metrics.ObserveCheck(namespace, "degraded_deny")
		span.End(err)
		return s.degradedDeny()
	}

	decision := policy.Decide(w, requesttime.Now(ctx), s.config.Limits)
	span.SetAttributes(
		tracing.Bool("lockout.allowed", decision.Allowed),
		tracing.Bool("lockout.locked", decision.Locked),
	)
	if decision.Allowed {
		s.metrics.ObserveCheck(namespace, "allowed")
	} else {
		s.metrics.ObserveCheck(namespace, "denied")
	}
	span.End(nil)
	return decision
}

// RecordFailure folds one failed attempt into the window. Errors are fully
// absorbed: a tier outage must never stop the caller from returning its own
// "invalid credentials" response.
func (s *Service) RecordFailure(ctx context.Context, namespace, identifier string) {
	ctx, span := s.tracer.Start(ctx, "lockout.record_failure",
		tracing.String("lockout.namespace", namespace),
	)

	key, err := models.NewKey(namespace, identifier)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping failure record with invalid key",
			"namespace", namespace,
			"error", err,
		)
		span.End(err)
		return
	}

	w, err := s.store.RecordFailure(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record attempt on any tier",
			"namespace", namespace,
			"identifier", privacy.AnonymizeIdentifier(identifier),
			"error", err,
		)
		span.End(err)
		return
	}

	s.metrics.ObserveFailureRecorded(namespace)
	if w != nil && w.IsLocked(requesttime.Now(ctx)) {
		s.metrics.ObserveLockout(namespace)
		s.logAudit(ctx, "auth_lockout_triggered",
			"namespace", namespace,
			"identifier", privacy.AnonymizeIdentifier(identifier),
			"attempt_count", w.Count,
			"locked_until", w.LockedUntil,
		)
	}
	span.End(nil)
}

// Clear removes all recorded attempts for (namespace, identifier), typically
// after a successful authentication. Tier failures are swallowed inside the
// store; a failed clear never blocks a legitimate login.
func (s *Service) Clear(ctx context.Context, namespace, identifier string) {
	ctx, span := s.tracer.Start(ctx, "lockout.clear",
		tracing.String("lockout.namespace", namespace),
	)
	defer span.End(nil)

	key, err := models.NewKey(namespace, identifier)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping clear with invalid key",
			"namespace", namespace,
			"error", err,
		)
		return
	}

	s.store.ClearAll(ctx, key)
	s.metrics.ObserveClear()
	s.logAudit(ctx, "auth_lockout_cleared",
		"namespace", namespace,
		"identifier", privacy.AnonymizeIdentifier(identifier),
	)
}

// CheckSimpleCounter atomically increments the counter for key with a fixed
// TTL of window and reports whether the post-increment count is within max.
// It shares only the cache tier with the lockout path and has no window or
// lockout semantics. When the counter tier is unavailable the result follows
// CounterFailOpen.
func (s *Service) CheckSimpleCounter(ctx context.Context, key string, max int64, window time.Duration) bool {
	ctx, span := s.tracer.Start(ctx, "lockout.check_simple_counter")

	if s.counter == nil {
		span.End(nil)
		return s.counterFallback(ctx, key, nil)
	}

	count, err := s.counter.Incr(ctx, key, window)
	if err != nil {
		span.End(err)
		return s.counterFallback(ctx, key, err)
	}

	allowed := count <= max
	if !allowed {
		s.metrics.ObserveCounterDenial()
	}
	span.SetAttributes(tracing.Bool("lockout.allowed", allowed))
	span.End(nil)
	return allowed
}

func (s *Service) counterFallback(ctx context.Context, key string, err error) bool {
	s.logger.WarnContext(ctx, "counter tier unavailable",
		"key", key,
		"fail_open", s.config.CounterFailOpen,
		"error", err,
	)
	if !s.config.CounterFailOpen {
		s.metrics.ObserveCounterDenial()
	}
	return s.config.CounterFailOpen
}

func (s *Service) degradedDeny() models.RateLimitDecision {
	return models.RateLimitDecision{
		Allowed:           false,
		AttemptsRemaining: 0,
		RetryAfter:        degradedRetryAfterSeconds,
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	args := append(attrs, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
