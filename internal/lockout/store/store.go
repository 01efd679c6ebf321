// Package store defines the narrow contract every window store tier
// implements. Tiers are interchangeable key/value backends; the tiered
// orchestrator decides which one is consulted when.
package store

import (
	"context"
	"errors"
	"time"

	"bastion/internal/lockout/models"
)

// ErrTierUnavailable marks transport, connection, and timeout failures from a
// tier. It is always recoverable by falling through to the next tier and is
// never surfaced to the engine's callers. A tier must never report a false
// "not found" to mean "unreachable": an absent key is (nil, nil), an
// unreachable backend is (nil, ErrTierUnavailable).
var ErrTierUnavailable = errors.New("store tier unavailable")

// Tier is one backing store for attempt windows.
//
// Get returns (nil, nil) when no window exists for the key. Delete is
// idempotent: deleting a missing key succeeds. Put stores the serialized
// window with the given lifetime.
type Tier interface {
	Get(ctx context.Context, key models.Key) (*models.AttemptWindow, error)
	Put(ctx context.Context, key models.Key, w *models.AttemptWindow, ttl time.Duration) error
	Delete(ctx context.Context, key models.Key) error

	// RecordAttempt folds one failure into the window for key using the
	// tier's native atomic primitive, so simultaneous failures from
	// concurrent requests are never lost or double-counted. It returns the
	// window state after the increment.
	RecordAttempt(ctx context.Context, key models.Key) (*models.AttemptWindow, error)
}
