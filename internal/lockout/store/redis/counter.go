package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bastion/internal/lockout/store"
)

const counterPrefix = "counter:"

// Counter is the stateless throttling primitive: a fixed-window counter with
// no lockout semantics, shared only with the cache tier. Used for generic
// per-source throttling (per-IP request bursts).
type Counter struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewCounter constructs a counter on the given client. client may be nil when
// the cache tier is not configured; every call then reports ErrTierUnavailable.
func NewCounter(client redis.UniversalClient, timeout time.Duration) *Counter {
	return &Counter{client: client, timeout: timeout}
}

// Incr atomically increments the counter for key and returns the
// post-increment count. The first hit in a window sets the TTL, giving
// fixed-window semantics.
func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c.client == nil {
		return 0, store.ErrTierUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	count, err := c.client.Incr(ctx, counterPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, counterPrefix+key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", store.ErrTierUnavailable, err)
		}
	}
	return count, nil
}
