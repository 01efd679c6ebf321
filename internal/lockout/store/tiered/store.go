// Package tiered presents one logical window store over the three backing
// tiers: shared cache, process-local map, durable relational store. Reads win
// at the highest reachable tier; writes fan out only when the cache tier is
// down; deletes always touch everything.
package tiered

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/metrics"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/store"
)

const (
	tierCache   = "cache"
	tierLocal   = "local"
	tierDurable = "durable"

	opLoad   = "load"
	opRecord = "record"
	opClear  = "clear"
)

// mirrorTimeout bounds the detached best-effort durable write issued while
// the cache tier is down.
const mirrorTimeout = 2 * time.Second

type Store struct {
	cache   store.Tier
	local   store.Tier
	durable store.Tier
	limits  config.Limits
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New constructs the tiered store. All three tiers are required; a deployment
// without Redis passes a cache tier built on a nil client, which reports
// itself unavailable and is fallen through on every call.
func New(cache, local, durable store.Tier, cfg *config.Config, opts ...Option) (*Store, error) {
	if cache == nil || local == nil || durable == nil {
		return nil, fmt.Errorf("all three store tiers are required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Store{
		cache:   cache,
		local:   local,
		durable: durable,
		limits:  cfg.Limits,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load returns the window for key from the highest-priority reachable tier.
// A healthy cache tier is authoritative, even for a miss. When it is down,
// the local tier answers; a local miss still consults the durable tier so
// state written during the outage survives process restarts. The returned
// error is only ever ErrTierUnavailable, and only when every consulted tier
// failed; callers fail closed on it.
func (s *Store) Load(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	w, err := s.cache.Get(ctx, key)
	if err == nil {
		return w, nil
	}
	s.fellThrough(ctx, opLoad, err)

	w, localErr := s.local.Get(ctx, key)
	if localErr == nil && w != nil {
		return w, nil
	}
	if localErr != nil {
		s.tierFailed(ctx, tierLocal, opLoad, localErr)
	}

	w, durableErr := s.durable.Get(ctx, key)
	if durableErr != nil {
		s.tierFailed(ctx, tierDurable, opLoad, durableErr)
		if localErr != nil {
			return nil, store.ErrTierUnavailable
		}
		// The local tier answered with a genuine miss; no failures known.
		return nil, nil
	}
	if w != nil {
		// Rehydrate the local tier so subsequent checks during the cache
		// outage stay in-process.
		ttl := s.limits.TTL(w.LockedUntil != nil)
		if err := s.local.Put(ctx, key, w, ttl); err != nil {
			s.tierFailed(ctx, tierLocal, opLoad, err)
		}
	}
	return w, nil
}

// RecordFailure folds one failed attempt into the window for key. A healthy
// cache tier is authoritative and the durable tier is deliberately not
// mirrored on that fast path: the cache's own TTL covers the lockout window,
// and the saved round-trip is the point of having a fast tier. When the cache
// is down, the local tier takes the write and a detached best-effort write
// goes to the durable tier so state survives restarts during the outage.
func (s *Store) RecordFailure(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	w, err := s.cache.RecordAttempt(ctx, key)
	if err == nil {
		return w, nil
	}
	s.fellThrough(ctx, opRecord, err)

	w, localErr := s.local.RecordAttempt(ctx, key)
	if localErr != nil {
		s.tierFailed(ctx, tierLocal, opRecord, localErr)
	}

	go s.mirrorToDurable(ctx, key)

	if localErr != nil {
		return nil, store.ErrTierUnavailable
	}
	return w, nil
}

// ClearAll deletes the window from every tier. Individual tier failures are
// logged and swallowed: a failed clear must never block a legitimate
// successful login.
func (s *Store) ClearAll(ctx context.Context, key models.Key) {
	for _, t := range []struct {
		name string
		tier store.Tier
	}{
		{tierCache, s.cache},
		{tierLocal, s.local},
		{tierDurable, s.durable},
	} {
		if err := t.tier.Delete(ctx, key); err != nil {
			s.tierFailed(ctx, t.name, opClear, err)
		}
	}
}

// mirrorToDurable issues the detached durable write that backs the local tier
// while the cache is down. The request context's cancellation is dropped so
// the mirror outlives the request, but its request-scoped clock is kept.
func (s *Store) mirrorToDurable(ctx context.Context, key models.Key) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	if _, err := s.durable.RecordAttempt(ctx, key); err != nil {
		s.tierFailed(ctx, tierDurable, opRecord, err)
	}
}

func (s *Store) fellThrough(ctx context.Context, op string, err error) {
	s.metrics.ObserveTierFallback(op)
	s.metrics.ObserveTierError(tierCache, op)
	s.logger.WarnContext(ctx, "cache tier unavailable, falling through",
		"operation", op,
		"error", err,
	)
}

func (s *Store) tierFailed(ctx context.Context, tier, op string, err error) {
	s.metrics.ObserveTierError(tier, op)
	s.logger.WarnContext(ctx, "store tier call failed",
		"tier", tier,
		"operation", op,
		"error", err,
	)
}
