// Package cache remembers which source records were processed recently so a
// scan pass does not refetch details for places it has just written.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kosarica/place-service/internal/metrics"
)

// Recent tracks recently processed keys
type Recent interface {
	// Seen reports whether key was marked within the TTL.
	Seen(ctx context.Context, key string) bool
	// Mark records key for the TTL.
	Mark(ctx context.Context, key string)
	Close() error
}

// Key builds a cache key for a source record
func Key(source, sourceID string) string {
	return "place:seen:" + source + ":" + sourceID
}

// Nop never reports a key as seen
type Nop struct{}

func (Nop) Seen(context.Context, string) bool { return false }
func (Nop) Mark(context.Context, string)      {}
func (Nop) Close() error                      { return nil }

// Memory is an in-process Recent with lazy expiry
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewMemory creates an in-process cache
func NewMemory(ttl time.Duration, m *metrics.Recorder) *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
	}
}

func (c *Memory) Seen(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.entries[key]
	if ok && !c.now().Before(exp) {
		delete(c.entries, key)
		ok = false
	}
	c.metrics.RecordCacheLookup(ok)
	return ok
}

func (c *Memory) Mark(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = now.Add(c.ttl)

	// sweep opportunistically so the map doesn't grow without bound
	if len(c.entries)%1024 == 0 {
		for k, exp := range c.entries {
			if !now.Before(exp) {
				delete(c.entries, k)
			}
		}
	}
}

func (c *Memory) Close() error { return nil }
