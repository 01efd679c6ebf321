// Package policy computes lockout decisions from attempt windows.
// It is pure: no I/O, no clocks of its own; callers supply now.
package policy

import (
	"time"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/models"
)

// Decide evaluates an attempt window against the lockout policy at now.
//
// A nil window means no failures are known and the attempt is allowed with a
// full budget. An expired window is also treated as empty; the actual reset
// is persisted lazily by the next recorded failure, not here.
func Decide(w *models.AttemptWindow, now time.Time, limits config.Limits) models.RateLimitDecision {
	if w == nil {
		return allowAll(limits)
	}

	if w.IsLocked(now) {
		return models.RateLimitDecision{
			Allowed:     false,
			Locked:      true,
			RetryAfter:  ceilSeconds(w.LockedUntil.Sub(now)),
			LockedUntil: w.LockedUntil,
		}
	}

	if w.Expired(now, limits.WindowDuration) {
		return allowAll(limits)
	}

	remaining := limits.MaxAttempts - w.Count
	if remaining <= 0 {
		// Defensive: the lock should already have been set when the budget
		// was exhausted. Treat as locked for a full lockout from now.
		until := now.Add(limits.LockoutDuration)
		return models.RateLimitDecision{
			Allowed:     false,
			Locked:      true,
			RetryAfter:  ceilSeconds(limits.LockoutDuration),
			LockedUntil: &until,
		}
	}

	// Progressive minimum delay between attempts, keyed by failure count.
	delay := limits.DelayFor(w.Count)
	if elapsed := now.Sub(w.LastAttempt); elapsed < delay {
		return models.RateLimitDecision{
			Allowed:           false,
			AttemptsRemaining: remaining,
			RetryAfter:        ceilSeconds(delay - elapsed),
		}
	}

	return models.RateLimitDecision{
		Allowed:           true,
		AttemptsRemaining: remaining,
	}
}

// ApplyFailure folds one failed attempt into a window, returning the window
// state a tier without a native atomic increment should persist. Windows past
// their duration restart; a lock is raised once the budget is exhausted and
// is never moved earlier.
func ApplyFailure(w *models.AttemptWindow, now time.Time, limits config.Limits) *models.AttemptWindow {
	if w == nil || w.Expired(now, limits.WindowDuration) {
		w = models.NewAttemptWindow(now)
	} else {
		w = w.Clone()
		w.Count++
		w.LastAttempt = now
	}

	if w.Count >= limits.MaxAttempts && !w.IsLocked(now) {
		until := now.Add(limits.LockoutDuration)
		w.LockedUntil = &until
	}
	return w
}

func allowAll(limits config.Limits) models.RateLimitDecision {
	return models.RateLimitDecision{
		Allowed:           true,
		AttemptsRemaining: limits.MaxAttempts,
	}
}

// ceilSeconds rounds a duration up to whole seconds and never goes negative,
// so Retry-After headers are usable as-is.
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
