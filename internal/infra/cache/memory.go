package cache

import (
	"context"
	"sync"
	"time"

	"schoolpay/internal/domain"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemorySessions is a map-backed session cache for single-process runs where
// no Redis is configured. Expired keys are dropped on read.
type MemorySessions struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

// NewMemorySessions creates the cache.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{data: make(map[string]memoryEntry)}
}

// Set stores a value with a TTL.
func (c *MemorySessions) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = entry
	return nil
}

// Get returns the value or domain.ErrSessionNotFound.
func (c *MemorySessions) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, domain.ErrSessionNotFound
	}
	return entry.value, nil
}

// Delete removes the key.
func (c *MemorySessions) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var _ domain.SessionCache = (*MemorySessions)(nil)
