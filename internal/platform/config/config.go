// Package config builds process configuration from the environment so main
// stays lean. The durable store URL is the only hard requirement; everything
// else has a default or is optional.
package config

import (
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	lockoutcfg "bastion/internal/lockout/config"
	dErrors "bastion/pkg/domain-errors"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
}

// Database captures the durable tier connection settings.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis captures the cache tier connection settings. An empty URL is a valid,
// supported configuration: the cache tier is then permanently unavailable and
// every call falls through.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Config struct {
	Server   Server
	Database Database
	Redis    Redis
	Lockout  *lockoutcfg.Config

	CleanupInterval time.Duration
	TrustedProxies  []netip.Prefix
}

// FromEnv reads configuration from environment variables. A missing
// DATABASE_URL is fatal: the durable tier is required.
func FromEnv() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "DATABASE_URL is required")
	}

	cfg := &Config{
		Server: Server{
			Addr:        envOr("BASTION_ADDR", ":8080"),
			Environment: envOr("ENVIRONMENT", "development"),
		},
		Database: Database{
			URL:             databaseURL,
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Lockout:         lockoutFromEnv(),
		CleanupInterval: envDuration("CLEANUP_INTERVAL", 15*time.Minute),
	}

	proxies, err := parsePrefixes(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lockoutFromEnv() *lockoutcfg.Config {
	cfg := lockoutcfg.DefaultConfig()
	cfg.Limits.MaxAttempts = envInt("LOCKOUT_MAX_ATTEMPTS", cfg.Limits.MaxAttempts)
	cfg.Limits.WindowDuration = envDuration("LOCKOUT_WINDOW", cfg.Limits.WindowDuration)
	cfg.Limits.LockoutDuration = envDuration("LOCKOUT_DURATION", cfg.Limits.LockoutDuration)
	cfg.Tiers.CallTimeout = envDuration("TIER_CALL_TIMEOUT", cfg.Tiers.CallTimeout)
	cfg.CounterFailOpen = os.Getenv("COUNTER_FAIL_OPEN") == "true"
	return cfg
}

func parsePrefixes(raw string) ([]netip.Prefix, error) {
	if raw == "" {
		return nil, nil
	}

	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid TRUSTED_PROXIES entry "+part)
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
