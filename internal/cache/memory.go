package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"nbapred/pipeline/internal/metrics"
)

// MemoryCache is an in-process TTL cache. One-shot CLI runs use it by
// default; head-to-head lookups repeat within a run whenever a team
// plays in more than one collected game.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.cache.Get(key); found {
		metrics.RecordCacheHit()
		return val.([]byte), true
	}
	metrics.RecordCacheMiss()
	return nil, false
}

// Set stores a value in the cache with the given TTL
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Close is a no-op for the in-process cache.
func (c *MemoryCache) Close() error {
	return nil
}
