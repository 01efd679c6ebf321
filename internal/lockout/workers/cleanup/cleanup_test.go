package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastion/internal/lockout/config"
)

type stubSweeper struct {
	mu      sync.Mutex
	removed int
	err     error
	cutoffs []time.Time
}

func (s *stubSweeper) SweepExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.removed, s.err
}

func (s *stubSweeper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cutoffs)
}

type stubPurger struct {
	mu      sync.Mutex
	removed int
	err     error
	cutoffs []time.Time
}

func (p *stubPurger) PurgeExpired(_ context.Context, cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.removed, p.err
}

func (p *stubPurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestRunOnce_ReportsCounts(t *testing.T) {
	sweeper := &stubSweeper{removed: 12}
	purger := &stubPurger{removed: 7}
	w := New(sweeper, purger, config.DefaultConfig())

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, res.MemoryRemoved)
	assert.Equal(t, 7, res.DurableRemoved)
	require.Len(t, sweeper.cutoffs, 1)
	require.Len(t, purger.cutoffs, 1)

	// Memory keeps entries for the sweep age, durable rows only for the
	// window duration, so the durable cutoff is the later of the two.
	assert.True(t, sweeper.cutoffs[0].Before(purger.cutoffs[0]))
}

func TestRunOnce_PropagatesMemoryError(t *testing.T) {
	sweeper := &stubSweeper{err: errors.New("sweep failed")}
	purger := &stubPurger{}
	w := New(sweeper, purger, config.DefaultConfig())

	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, purger.calls(), "purge is skipped after a sweep failure")
}

func TestRunOnce_PropagatesDurableError(t *testing.T) {
	w := New(&stubSweeper{}, &stubPurger{err: errors.New("purge failed")}, config.DefaultConfig())

	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	w := New(&stubSweeper{}, &stubPurger{}, config.DefaultConfig(), WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestStart_RunsOnTicker(t *testing.T) {
	sweeper := &stubSweeper{}
	purger := &stubPurger{}
	w := New(sweeper, purger, config.DefaultConfig(), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		return purger.calls() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
