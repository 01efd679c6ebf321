// Package postgres implements the durable window store tier: one row per
// (namespace, identifier) with a single-statement conditional upsert, so
// concurrent writers merge atomically inside the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/store"
	"bastion/pkg/requesttime"
)

// Store persists attempt windows in PostgreSQL. This tier has no TTL
// mechanism of its own; expired rows are reaped by the cleanup worker.
type Store struct {
	db  *sql.DB
	cfg config.Config
}

// New constructs a PostgreSQL-backed window store.
func New(db *sql.DB, cfg *config.Config) *Store {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Store{db: db, cfg: *cfg}
}

// Get returns the window for key, or (nil, nil) when no row exists.
func (s *Store) Get(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	query := `
		SELECT attempt_count, window_start_at, last_attempt_at, locked_until
		FROM login_rate_limits
		WHERE namespace = $1 AND identifier = $2
	`
	w, err := scanWindow(s.db.QueryRowContext(ctx, query, key.Namespace, key.Identifier))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get attempt window: %v", store.ErrTierUnavailable, err)
	}
	return w, nil
}

// Put overwrites the row for key with the given window. The TTL is accepted
// for contract compatibility but not enforced here; the cleanup worker purges
// stale rows instead.
func (s *Store) Put(ctx context.Context, key models.Key, w *models.AttemptWindow, _ time.Duration) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	query := `
		INSERT INTO login_rate_limits (namespace, identifier, attempt_count, window_start_at, last_attempt_at, locked_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, identifier) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			window_start_at = EXCLUDED.window_start_at,
			last_attempt_at = EXCLUDED.last_attempt_at,
			locked_until = EXCLUDED.locked_until
	`
	var lockedUntil sql.NullTime
	if w.LockedUntil != nil {
		lockedUntil = sql.NullTime{Time: *w.LockedUntil, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query, key.Namespace, key.Identifier, w.Count, w.WindowStart, w.LastAttempt, lockedUntil); err != nil {
		return fmt.Errorf("%w: put attempt window: %v", store.ErrTierUnavailable, err)
	}
	return nil
}

// Delete removes the row for key. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key models.Key) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	query := `DELETE FROM login_rate_limits WHERE namespace = $1 AND identifier = $2`
	if _, err := s.db.ExecContext(ctx, query, key.Namespace, key.Identifier); err != nil {
		return fmt.Errorf("%w: delete attempt window: %v", store.ErrTierUnavailable, err)
	}
	return nil
}

// RecordAttempt folds one failure into the row for key within a single
// statement: a row whose last attempt predates the window restarts at one,
// anything else increments, and the lock is raised when the incremented count
// crosses the threshold, never moving an active lock earlier.
func (s *Store) RecordAttempt(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	now := requesttime.Now(ctx)
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	query := `
		INSERT INTO login_rate_limits (namespace, identifier, attempt_count, window_start_at, last_attempt_at, locked_until)
		VALUES ($1, $2, 1, $3, $3, NULL)
		ON CONFLICT (namespace, identifier) DO UPDATE SET
			attempt_count = CASE
				WHEN login_rate_limits.last_attempt_at < $3::timestamptz - make_interval(secs => $4)
				THEN 1
				ELSE login_rate_limits.attempt_count + 1
			END,
			window_start_at = CASE
				WHEN login_rate_limits.last_attempt_at < $3::timestamptz - make_interval(secs => $4)
				THEN $3::timestamptz
				ELSE login_rate_limits.window_start_at
			END,
			last_attempt_at = $3,
			locked_until = CASE
				WHEN login_rate_limits.last_attempt_at >= $3::timestamptz - make_interval(secs => $4)
					AND login_rate_limits.attempt_count + 1 >= $5
					AND (login_rate_limits.locked_until IS NULL OR login_rate_limits.locked_until <= $3::timestamptz)
				THEN $3::timestamptz + make_interval(secs => $6)
				ELSE login_rate_limits.locked_until
			END
		RETURNING attempt_count, window_start_at, last_attempt_at, locked_until
	`
	w, err := scanWindow(s.db.QueryRowContext(ctx, query,
		key.Namespace,
		key.Identifier,
		now,
		s.cfg.Limits.WindowDuration.Seconds(),
		s.cfg.Limits.MaxAttempts,
		s.cfg.Limits.LockoutDuration.Seconds(),
	))
	if err != nil {
		return nil, fmt.Errorf("%w: record attempt: %v", store.ErrTierUnavailable, err)
	}
	return w, nil
}

// PurgeExpired deletes rows whose last attempt predates cutoff and whose lock,
// if any, has elapsed by then. The cutoff is provided by the caller to keep
// the window duration out of the store. Returns the number of rows removed.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM login_rate_limits
		WHERE last_attempt_at < $1
		  AND (locked_until IS NULL OR locked_until < $1)
	`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired attempt windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired attempt windows: %w", err)
	}
	return int(n), nil
}

// Health reports whether the durable tier is reachable.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Tiers.CallTimeout)
}

type row interface {
	Scan(dest ...any) error
}

func scanWindow(r row) (*models.AttemptWindow, error) {
	var w models.AttemptWindow
	var lockedUntil sql.NullTime
	if err := r.Scan(&w.Count, &w.WindowStart, &w.LastAttempt, &lockedUntil); err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		w.LockedUntil = &lockedUntil.Time
	}
	return &w, nil
}
