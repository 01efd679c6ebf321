package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bastion/pkg/domain-errors"
)

func TestFromEnv_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bastion")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 10, cfg.Lockout.Limits.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Lockout.Limits.WindowDuration)
	assert.False(t, cfg.Lockout.CounterFailOpen)
	assert.Equal(t, 15*time.Minute, cfg.CleanupInterval)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bastion")
	t.Setenv("BASTION_ADDR", ":9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "5")
	t.Setenv("LOCKOUT_WINDOW", "10m")
	t.Setenv("LOCKOUT_DURATION", "20m")
	t.Setenv("COUNTER_FAIL_OPEN", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 5, cfg.Lockout.Limits.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Lockout.Limits.WindowDuration)
	assert.Equal(t, 20*time.Minute, cfg.Lockout.Limits.LockoutDuration)
	assert.True(t, cfg.Lockout.CounterFailOpen)
	assert.Len(t, cfg.TrustedProxies, 2)
}

func TestFromEnv_RejectsInvalidLockoutTuning(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bastion")
	// Lockout shorter than the window breaks the TTL invariant.
	t.Setenv("LOCKOUT_WINDOW", "30m")
	t.Setenv("LOCKOUT_DURATION", "1m")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestFromEnv_RejectsBadTrustedProxies(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bastion")
	t.Setenv("TRUSTED_PROXIES", "not-a-cidr")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}
