// Package models defines the domain entities of the brute-force defense
// engine: the attempt window persisted across store tiers and the read-only
// decision handed back to callers.
package models

import (
	"time"

	dErrors "bastion/pkg/domain-errors"
)

// AttemptWindow tracks failed attempts for one identifier within the current
// rolling window. It is the unit of storage across all tiers.
type AttemptWindow struct {
	Count       int        `json:"count"`
	WindowStart time.Time  `json:"window_start"`
	LastAttempt time.Time  `json:"last_attempt"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// NewAttemptWindow returns a window holding its first failure at now.
func NewAttemptWindow(now time.Time) *AttemptWindow {
	return &AttemptWindow{
		Count:       1,
		WindowStart: now,
		LastAttempt: now,
	}
}

// IsLocked reports whether a hard lock is active at now.
func (w *AttemptWindow) IsLocked(now time.Time) bool {
	return w.LockedUntil != nil && now.Before(*w.LockedUntil)
}

// Expired reports whether the window has rolled over at now. Expired windows
// are treated as empty on read; the reset is persisted lazily by the next
// recorded failure.
func (w *AttemptWindow) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(w.WindowStart) > window
}

// Clone returns a deep copy, so tiers can hand out windows without sharing
// mutable state with callers.
func (w *AttemptWindow) Clone() *AttemptWindow {
	if w == nil {
		return nil
	}
	out := *w
	if w.LockedUntil != nil {
		t := *w.LockedUntil
		out.LockedUntil = &t
	}
	return &out
}

// RateLimitDecision is the engine's answer to "may this identifier attempt an
// action now?". It is computed, never persisted.
type RateLimitDecision struct {
	Allowed           bool       `json:"allowed"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	RetryAfter        int        `json:"retry_after,omitempty"` // seconds, only set when not allowed
	Locked            bool       `json:"locked"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// Key identifies one attempt window. Namespaces keep identical identifiers
// from colliding across use-cases (login vs MFA vs per-IP throttling).
type Key struct {
	Namespace  string
	Identifier string
}

// Well-known namespaces used by the authentication call sites.
const (
	NamespaceLogin = "login"
	NamespaceMFA   = "mfa"
	NamespaceIP    = "ip"
)

// NewKey validates and builds a window key.
func NewKey(namespace, identifier string) (Key, error) {
	if namespace == "" {
		return Key{}, dErrors.New(dErrors.CodeInvalidInput, "namespace cannot be empty")
	}
	if identifier == "" {
		return Key{}, dErrors.New(dErrors.CodeInvalidInput, "identifier cannot be empty")
	}
	return Key{Namespace: namespace, Identifier: identifier}, nil
}

// String renders the composite storage key.
func (k Key) String() string {
	return k.Namespace + ":" + k.Identifier
}
