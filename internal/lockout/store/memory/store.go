// Package memory implements the process-local window store tier: a bounded,
// lock-guarded map. It always responds, but is not shared across instances,
// so counts can undercount while the cache tier is down.
package memory

import (
	"context"
	"sync"
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/policy"
	"bastion/pkg/requesttime"
)

type entry struct {
	window    *models.AttemptWindow
	expiresAt time.Time
}

// Store is the in-process tier. The zero value is not usable; construct with New.
type Store struct {
	cfg config.Config

	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs a process-local store with the given configuration.
func New(cfg *config.Config) *Store {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Store{
		cfg:     *cfg,
		entries: make(map[string]entry),
	}
}

// Get returns the window for key, or (nil, nil) when absent or past its TTL.
// This tier is never unavailable.
func (s *Store) Get(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	now := requesttime.Now(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok || now.After(e.expiresAt) {
		return nil, nil
	}
	return e.window.Clone(), nil
}

// Put stores a copy of the window with the given lifetime.
func (s *Store) Put(ctx context.Context, key models.Key, w *models.AttemptWindow, ttl time.Duration) error {
	now := requesttime.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = entry{window: w.Clone(), expiresAt: now.Add(ttl)}
	s.sweepIfOverCapLocked(now)
	return nil
}

// Delete removes the window for key. Deleting a missing key succeeds.
func (s *Store) Delete(_ context.Context, key models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
	return nil
}

// RecordAttempt folds one failure into the window for key. The write lock is
// held for the whole read-modify-write so concurrent failures within one
// process are never lost.
func (s *Store) RecordAttempt(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	now := requesttime.Now(ctx)
	k := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.AttemptWindow
	if e, ok := s.entries[k]; ok && !now.After(e.expiresAt) {
		current = e.window
	}

	next := policy.ApplyFailure(current, now, s.cfg.Limits)
	ttl := s.cfg.Limits.TTL(next.LockedUntil != nil)
	s.entries[k] = entry{window: next, expiresAt: now.Add(ttl)}

	s.sweepIfOverCapLocked(now)
	return next.Clone(), nil
}

// SweepExpired removes entries whose last attempt is older than cutoff,
// returning how many were dropped. Called by the cleanup worker.
func (s *Store) SweepExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.window.LastAttempt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the current number of stored windows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sweepIfOverCapLocked keeps the map bounded: once the entry cap is exceeded,
// entries idle for longer than the sweep age are dropped. Requires s.mu held
// for writing.
func (s *Store) sweepIfOverCapLocked(now time.Time) {
	if len(s.entries) <= s.cfg.Tiers.MemoryMaxEntries {
		return
	}
	cutoff := now.Add(-s.cfg.Tiers.MemorySweepAge)
	for k, e := range s.entries {
		if e.window.LastAttempt.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}
