// Package config holds the tunable parameters of the brute-force defense
// engine: the lockout policy constants and the per-tier behaviour knobs.
package config

import (
	"time"

	dErrors "bastion/pkg/domain-errors"
)

// DelayStep maps an attempt count ceiling to a minimum inter-attempt delay.
// Steps are evaluated in order; the first step whose UpToCount is >= the
// current attempt count wins.
type DelayStep struct {
	UpToCount int
	Delay     time.Duration
}

// Limits defines the lockout policy constants.
type Limits struct {
	// MaxAttempts is the number of failures within one window that triggers
	// a hard lock.
	MaxAttempts int

	// WindowDuration is the rolling period over which failures are counted.
	WindowDuration time.Duration

	// LockoutDuration is how long a hard lock lasts once triggered.
	// Must be >= WindowDuration so a lock never expires before the window
	// it was raised in.
	LockoutDuration time.Duration

	// DelaySteps is the progressive inter-attempt delay schedule.
	DelaySteps []DelayStep

	// FinalDelay applies to attempt counts beyond the last delay step.
	FinalDelay time.Duration
}

// Tiers defines behaviour knobs for the backing store tiers.
type Tiers struct {
	// CallTimeout bounds every network round-trip to the cache and durable
	// tiers so an unreachable tier falls through quickly instead of
	// stalling the authentication request.
	CallTimeout time.Duration

	// MemoryMaxEntries caps the process-local tier. When exceeded, a sweep
	// removes entries whose last attempt is older than MemorySweepAge.
	MemoryMaxEntries int
	MemorySweepAge   time.Duration
}

// Config is the full engine configuration.
type Config struct {
	Limits Limits
	Tiers  Tiers

	// CounterFailOpen controls the generic counter primitive when the cache
	// tier is unreachable. Lockout checks always fail closed; the counter
	// fails closed too unless this is explicitly enabled.
	CounterFailOpen bool
}

// DefaultConfig returns the production defaults: 10 attempts per 15 minute
// window, 15 minute lock, progressive delays of 0s/5s/30s/60s.
func DefaultConfig() *Config {
	return &Config{
		Limits: Limits{
			MaxAttempts:     10,
			WindowDuration:  15 * time.Minute,
			LockoutDuration: 15 * time.Minute,
			DelaySteps: []DelayStep{
				{UpToCount: 3, Delay: 0},
				{UpToCount: 6, Delay: 5 * time.Second},
				{UpToCount: 9, Delay: 30 * time.Second},
			},
			FinalDelay: 60 * time.Second,
		},
		Tiers: Tiers{
			CallTimeout:      250 * time.Millisecond,
			MemoryMaxEntries: 10000,
			MemorySweepAge:   time.Hour,
		},
		CounterFailOpen: false,
	}
}

// DelayFor returns the minimum delay required before the next attempt given
// the number of failures already recorded in the window.
func (l Limits) DelayFor(count int) time.Duration {
	for _, step := range l.DelaySteps {
		if count <= step.UpToCount {
			return step.Delay
		}
	}
	return l.FinalDelay
}

// TTL returns the storage lifetime for a window. Locked windows outlive the
// lock so the deny decision survives the window itself expiring.
func (l Limits) TTL(locked bool) time.Duration {
	if locked {
		return l.WindowDuration + l.LockoutDuration
	}
	return l.WindowDuration
}

// Validate checks the policy constants for internal consistency.
func (c *Config) Validate() error {
	if c.Limits.MaxAttempts <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "max attempts must be positive")
	}
	if c.Limits.WindowDuration <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "window duration must be positive")
	}
	if c.Limits.LockoutDuration < c.Limits.WindowDuration {
		return dErrors.New(dErrors.CodeConfiguration, "lockout duration must not be shorter than the window")
	}
	prev := 0
	for _, step := range c.Limits.DelaySteps {
		if step.UpToCount <= prev {
			return dErrors.New(dErrors.CodeConfiguration, "delay steps must have strictly increasing count ceilings")
		}
		if step.Delay < 0 {
			return dErrors.New(dErrors.CodeConfiguration, "delay steps must not be negative")
		}
		prev = step.UpToCount
	}
	if c.Tiers.CallTimeout <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "tier call timeout must be positive")
	}
	if c.Tiers.MemoryMaxEntries <= 0 {
		return dErrors.New(dErrors.CodeConfiguration, "memory tier entry cap must be positive")
	}
	return nil
}
