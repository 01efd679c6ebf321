package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/policy"
	"bastion/internal/lockout/store"
	"bastion/pkg/requesttime"
)

// stubWindowStore applies the real failure policy against an in-memory map
// at a fixed clock, so full record/check sequences stay deterministic.
type stubWindowStore struct {
	now     time.Time
	limits  config.Limits
	windows map[string]*models.AttemptWindow

	loadErr   error
	recordErr error
	clears    int
}

func newStubWindowStore(now time.Time, limits config.Limits) *stubWindowStore {
	return &stubWindowStore{
		now:     now,
		limits:  limits,
		windows: make(map[string]*models.AttemptWindow),
	}
}

func (s *stubWindowStore) Load(_ context.Context, key models.Key) (*models.AttemptWindow, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.windows[key.String()], nil
}

func (s *stubWindowStore) RecordFailure(_ context.Context, key models.Key) (*models.AttemptWindow, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	w := policy.ApplyFailure(s.windows[key.String()], s.now, s.limits)
	s.windows[key.String()] = w
	return w.Clone(), nil
}

func (s *stubWindowStore) ClearAll(_ context.Context, key models.Key) {
	s.clears++
	delete(s.windows, key.String())
}

type stubCounter struct {
	counts map[string]int64
	err    error
}

func newStubCounter() *stubCounter {
	return &stubCounter{counts: make(map[string]int64)}
}

func (c *stubCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, ws WindowStore, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	opts = append(opts, WithLogger(testLogger()))
	svc, err := New(ws, cfg, opts...)
	require.NoError(t, err)
	return svc
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, config.DefaultConfig())
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxAttempts = 0

	_, err := New(newStubWindowStore(time.Now(), cfg.Limits), cfg)
	assert.Error(t, err)
}

func TestCheck_NoPriorAttemptsAllowsFullBudget(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	svc := newTestService(t, ws, cfg)
	ctx := requesttime.WithTime(context.Background(), now)

	d := svc.Check(ctx, models.NamespaceLogin, "alice@example.com")
	assert.True(t, d.Allowed)
	assert.Equal(t, cfg.Limits.MaxAttempts, d.AttemptsRemaining)
	assert.Zero(t, d.RetryAfter)
	assert.False(t, d.Locked)
}

func TestCheck_InvalidKeyDenies(t *testing.T) {
	now := time.Now().UTC()
	cfg := config.DefaultConfig()
	svc := newTestService(t, newStubWindowStore(now, cfg.Limits), cfg)

	d := svc.Check(context.Background(), "", "alice@example.com")
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)
}

func TestCheck_AllTiersDownDeniesConservatively(t *testing.T) {
	now := time.Now().UTC()
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	ws.loadErr = store.ErrTierUnavailable
	svc := newTestService(t, ws, cfg)

	d := svc.Check(context.Background(), models.NamespaceLogin, "alice@example.com")
	assert.False(t, d.Allowed)
	assert.Zero(t, d.AttemptsRemaining)
	assert.Equal(t, degradedRetryAfterSeconds, d.RetryAfter)
	assert.False(t, d.Locked, "a degraded deny is not a policy lockout")
}

func TestNinthFailureDelaysTenthLocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	svc := newTestService(t, ws, cfg)
	ctx := requesttime.WithTime(context.Background(), now)

	for i := 0; i < 9; i++ {
		svc.RecordFailure(ctx, models.NamespaceLogin, "alice@example.com")
	}

	d := svc.Check(ctx, models.NamespaceLogin, "alice@example.com")
	assert.False(t, d.Allowed, "ninth failure sits in the 30s delay band")
	assert.False(t, d.Locked)
	assert.Equal(t, 30, d.RetryAfter)
	assert.Equal(t, 1, d.AttemptsRemaining)

	svc.RecordFailure(ctx, models.NamespaceLogin, "alice@example.com")

	d = svc.Check(ctx, models.NamespaceLogin, "alice@example.com")
	assert.False(t, d.Allowed)
	assert.True(t, d.Locked)
	require.NotNil(t, d.LockedUntil)
	assert.Equal(t, now.Add(cfg.Limits.LockoutDuration), *d.LockedUntil)
	assert.Equal(t, int(cfg.Limits.LockoutDuration.Seconds()), d.RetryAfter)
}

func TestClear_ResetsTheWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	svc := newTestService(t, ws, cfg)
	ctx := requesttime.WithTime(context.Background(), now)

	for i := 0; i < cfg.Limits.MaxAttempts; i++ {
		svc.RecordFailure(ctx, models.NamespaceLogin, "alice@example.com")
	}
	require.False(t, svc.Check(ctx, models.NamespaceLogin, "alice@example.com").Allowed)

	svc.Clear(ctx, models.NamespaceLogin, "alice@example.com")

	d := svc.Check(ctx, models.NamespaceLogin, "alice@example.com")
	assert.True(t, d.Allowed)
	assert.Equal(t, cfg.Limits.MaxAttempts, d.AttemptsRemaining)
	assert.Equal(t, 1, ws.clears)
}

func TestClear_IsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	svc := newTestService(t, ws, cfg)

	svc.Clear(context.Background(), models.NamespaceLogin, "nobody@example.com")
	svc.Clear(context.Background(), models.NamespaceLogin, "nobody@example.com")
	assert.Equal(t, 2, ws.clears)
}

func TestRecordFailure_SwallowsStoreErrors(t *testing.T) {
	now := time.Now().UTC()
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	ws.recordErr = store.ErrTierUnavailable
	svc := newTestService(t, ws, cfg)

	// Must not panic or surface anything to the caller.
	svc.RecordFailure(context.Background(), models.NamespaceLogin, "alice@example.com")
}

func TestNamespacesAreIsolated(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	ws := newStubWindowStore(now, cfg.Limits)
	svc := newTestService(t, ws, cfg)
	ctx := requesttime.WithTime(context.Background(), now)

	for i := 0; i < cfg.Limits.MaxAttempts; i++ {
		svc.RecordFailure(ctx, models.NamespaceLogin, "alice@example.com")
	}

	require.False(t, svc.Check(ctx, models.NamespaceLogin, "alice@example.com").Allowed)
	assert.True(t, svc.Check(ctx, models.NamespaceMFA, "alice@example.com").Allowed)
	assert.True(t, svc.Check(ctx, models.NamespaceLogin, "bob@example.com").Allowed)
}

func TestCheckSimpleCounter_WithinAndOverMax(t *testing.T) {
	cfg := config.DefaultConfig()
	counter := newStubCounter()
	svc := newTestService(t, newStubWindowStore(time.Now(), cfg.Limits), cfg, WithCounter(counter))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, svc.CheckSimpleCounter(ctx, "ip:192.0.2.1", 3, time.Minute))
	}
	assert.False(t, svc.CheckSimpleCounter(ctx, "ip:192.0.2.1", 3, time.Minute))
	assert.True(t, svc.CheckSimpleCounter(ctx, "ip:192.0.2.2", 3, time.Minute), "keys are independent")
}

func TestCheckSimpleCounter_FailClosedByDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	counter := newStubCounter()
	counter.err = errors.New("connection refused")
	svc := newTestService(t, newStubWindowStore(time.Now(), cfg.Limits), cfg, WithCounter(counter))

	assert.False(t, svc.CheckSimpleCounter(context.Background(), "ip:192.0.2.1", 3, time.Minute))
}

func TestCheckSimpleCounter_ExplicitFailOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CounterFailOpen = true
	counter := newStubCounter()
	counter.err = errors.New("connection refused")
	svc := newTestService(t, newStubWindowStore(time.Now(), cfg.Limits), cfg, WithCounter(counter))

	assert.True(t, svc.CheckSimpleCounter(context.Background(), "ip:192.0.2.1", 3, time.Minute))
}

func TestCheckSimpleCounter_NoCounterConfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	svc := newTestService(t, newStubWindowStore(time.Now(), cfg.Limits), cfg)

	assert.False(t, svc.CheckSimpleCounter(context.Background(), "ip:192.0.2.1", 3, time.Minute))

	cfg2 := config.DefaultConfig()
	cfg2.CounterFailOpen = true
	svc2 := newTestService(t, newStubWindowStore(time.Now(), cfg2.Limits), cfg2)
	assert.True(t, svc2.CheckSimpleCounter(context.Background(), "ip:192.0.2.1", 3, time.Minute))
}
