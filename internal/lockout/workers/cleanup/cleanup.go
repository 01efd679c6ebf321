// Package cleanup runs the background sweeper that keeps the local tier map
// bounded and the durable tier free of expired attempt windows.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/metrics"
)

// Result holds the counts of a single cleanup run.
type Result struct {
	MemoryRemoved  int
	DurableRemoved int
	Duration       time.Duration
}

// MemorySweeper drops local-tier windows whose last attempt predates cutoff.
type MemorySweeper interface {
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// DurablePurger deletes durable-tier rows whose window and lock have elapsed
// by cutoff.
type DurablePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

type Worker struct {
	memory   MemorySweeper
	durable  DurablePurger
	limits   config.Limits
	sweepAge time.Duration
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(memory MemorySweeper, durable DurablePurger, cfg *config.Config, opts ...Option) *Worker {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	w := &Worker{
		memory:   memory,
		durable:  durable,
		limits:   cfg.Limits,
		sweepAge: cfg.Tiers.MemorySweepAge,
		logger:   slog.Default(),
		interval: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs cleanup on a ticker until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			res, err := w.RunOnce(ctx)
			duration := time.Since(start)

			if err != nil {
				w.logger.Error("lockout_cleanup_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				w.metrics.ObserveCleanupRun("error", duration.Seconds())
				continue
			}

			res.Duration = duration
			w.logger.Info("lockout_cleanup_completed",
				"memory_removed", res.MemoryRemoved,
				"durable_removed", res.DurableRemoved,
				"duration_ms", duration.Milliseconds(),
			)
			w.metrics.ObserveCleanupRun("success", duration.Seconds())
			w.metrics.ObserveCleanupRemoved("local", res.MemoryRemoved)
			w.metrics.ObserveCleanupRemoved("durable", res.DurableRemoved)

		case <-ctx.Done():
			w.logger.Info("lockout cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single cleanup run. Logging is handled by Start.
//
// The memory cutoff uses the sweep age so in-flight windows stay resident;
// the durable cutoff uses the window duration, past which a row can no
// longer influence a decision.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()

	memoryRemoved, err := w.memory.SweepExpired(ctx, now.Add(-w.sweepAge))
	if err != nil {
		return nil, err
	}
	durableRemoved, err := w.durable.PurgeExpired(ctx, now.Add(-w.limits.WindowDuration))
	if err != nil {
		return nil, err
	}
	return &Result{MemoryRemoved: memoryRemoved, DurableRemoved: durableRemoved}, nil
}
