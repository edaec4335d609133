// Package cachemem holds the in-process decision cache backing the
// trust gate's idempotent authorize path.
package cachemem

import (
	"context"
	"sync"
	"time"

	"chimera/internal/domain"
)

type Cache struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     domain.AuthorizationDecision
	expiresAt time.Time
	hasExpiry bool
}

func New() *Cache {
	return NewWithClock(time.Now)
}

func NewWithClock(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.AuthorizationDecision, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.clock().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value domain.AuthorizationDecision, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.clock().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}
