package a2a

import (
	"context"
	"sync"
	"time"
)

// MemoryReplayCache is a process-local ReplayCache with per-entry TTL.
// Suitable for tests and single-instance deployments; production services
// use the redis-backed cache.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
}

func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{entries: make(map[string]time.Time)}
}

// Seen marks id consumed and reports whether it was already present.
func (c *MemoryReplayCache) Seen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep of expired entries.
	for k, exp := range c.entries {
		if now.After(exp) {
			delete(c.entries, k)
		}
	}

	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return true, nil
	}
	c.entries[id] = now.Add(ttl)
	return false, nil
}
