// Package redis implements the shared cache tier on Redis. Windows are stored
// as small JSON blobs; attempt increments run as a server-side script so
// concurrent failures for one identifier are merged atomically.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bastion/internal/lockout/config"
	"bastion/internal/lockout/models"
	"bastion/internal/lockout/store"
	"bastion/pkg/requesttime"
)

const keyPrefix = "lockout:"

// recordScript folds one failure into the stored window in a single atomic
// step: restart the window when it has rolled over, increment, raise the lock
// at the threshold (never moving an existing lock earlier), and refresh the
// TTL so a locked window outlives its lock.
var recordScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])
local max = tonumber(ARGV[4])

local w
if raw then
  local ok, decoded = pcall(cjson.decode, raw)
  if ok and type(decoded) == 'table'
      and type(decoded.count) == 'number'
      and type(decoded.window_start) == 'number' then
    w = decoded
  end
end
if not w or (now - w.window_start) > window then
  w = {count = 0, window_start = now}
end

w.count = w.count + 1
w.last_attempt = now
if w.count >= max and (not w.locked_until or w.locked_until <= now) then
  w.locked_until = now + lockout
end

local ttl = window
if w.locked_until then
  ttl = window + lockout
end

local encoded = cjson.encode(w)
redis.call('SET', KEYS[1], encoded, 'EX', ttl)
return encoded
`)

// windowBlob is the wire form of an attempt window: unix seconds, compact
// field names, stable across engine versions.
type windowBlob struct {
	Count       int    `json:"count"`
	WindowStart int64  `json:"window_start"`
	LastAttempt int64  `json:"last_attempt"`
	LockedUntil *int64 `json:"locked_until,omitempty"`
}

// Store is the shared cache tier. A nil client is a valid configuration
// meaning "permanently unavailable": every call reports ErrTierUnavailable
// and the tiered store falls through.
type Store struct {
	client redis.UniversalClient
	cfg    config.Config
	logger *slog.Logger
}

// New constructs a Redis-backed window store. client may be nil when the
// cache tier is not configured.
func New(client redis.UniversalClient, cfg *config.Config, logger *slog.Logger) *Store {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, cfg: *cfg, logger: logger}
}

// Get returns the window for key. A truly absent key is (nil, nil); a
// malformed blob is treated the same after a warning, failing safe toward
// "no prior attempts known".
func (s *Store) Get(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	if s.client == nil {
		return nil, store.ErrTierUnavailable
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, keyPrefix+key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
	}

	var blob windowBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		s.logger.Warn("discarding malformed attempt window blob",
			"key", key.String(),
			"error", err,
		)
		return nil, nil
	}
	return blob.toWindow(), nil
}

// Put stores the window with the given TTL.
func (s *Store) Put(ctx context.Context, key models.Key, w *models.AttemptWindow, ttl time.Duration) error {
	if s.client == nil {
		return store.ErrTierUnavailable
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	raw, err := json.Marshal(toBlob(w))
	if err != nil {
		return fmt.Errorf("marshal attempt window: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key.String(), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
	}
	return nil
}

// Delete removes the window for key. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key models.Key) error {
	if s.client == nil {
		return store.ErrTierUnavailable
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keyPrefix+key.String()).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
	}
	return nil
}

// RecordAttempt runs the atomic increment script and returns the resulting
// window.
func (s *Store) RecordAttempt(ctx context.Context, key models.Key) (*models.AttemptWindow, error) {
	if s.client == nil {
		return nil, store.ErrTierUnavailable
	}
	now := requesttime.Now(ctx)
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	res, err := recordScript.Run(ctx, s.client,
		[]string{keyPrefix + key.String()},
		now.Unix(),
		int64(s.cfg.Limits.WindowDuration/time.Second),
		int64(s.cfg.Limits.LockoutDuration/time.Second),
		s.cfg.Limits.MaxAttempts,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
	}

	var blob windowBlob
	if err := json.Unmarshal([]byte(res), &blob); err != nil {
		return nil, fmt.Errorf("decode recorded window: %w", err)
	}
	return blob.toWindow(), nil
}

// Health reports whether the cache tier is reachable.
func (s *Store) Health(ctx context.Context) error {
	if s.client == nil {
		return store.ErrTierUnavailable
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// callContext bounds one round-trip so an unreachable Redis is detected and
// fallen through quickly instead of stalling the authentication request.
func (s *Store) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Tiers.CallTimeout)
}

func toBlob(w *models.AttemptWindow) windowBlob {
	blob := windowBlob{
		Count:       w.Count,
		WindowStart: w.WindowStart.Unix(),
		LastAttempt: w.LastAttempt.Unix(),
	}
	if w.LockedUntil != nil {
		ts := w.LockedUntil.Unix()
		blob.LockedUntil = &ts
	}
	return blob
}

func (b windowBlob) toWindow() *models.AttemptWindow {
	w := &models.AttemptWindow{
		Count:       b.Count,
		WindowStart: time.Unix(b.WindowStart, 0).UTC(),
		LastAttempt: time.Unix(b.LastAttempt, 0).UTC(),
	}
	if b.LockedUntil != nil {
		t := time.Unix(*b.LockedUntil, 0).UTC()
		w.LockedUntil = &t
	}
	return w
}
