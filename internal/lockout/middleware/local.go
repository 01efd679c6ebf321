package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localBuckets is a per-key token-bucket store used when no shared counter
// tier is configured. Limiters for idle keys are dropped periodically so the
// map stays bounded.
type localBuckets struct {
	mu      sync.Mutex
	entries map[string]*bucketEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalBuckets(rps float64, burst int, idleTTL time.Duration) *localBuckets {
	return &localBuckets{
		entries: make(map[string]*bucketEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

// Allow reports whether key has a token available right now.
func (b *localBuckets) Allow(key string) bool {
	now := time.Now()

	b.mu.Lock()
	ent, ok := b.entries[key]
	if !ok {
		ent = &bucketEntry{lim: rate.NewLimiter(b.rps, b.burst)}
		b.entries[key] = ent
	}
	ent.lastSeen = now
	b.mu.Unlock()

	return ent.lim.Allow()
}

func (b *localBuckets) cleanup() {
	cutoff := time.Now().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()
	for k, ent := range b.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(b.entries, k)
		}
	}
}

// startJanitor drops idle limiters every interval until ctx is done.
func (b *localBuckets) startJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.cleanup()
			}
		}
	}()
}
