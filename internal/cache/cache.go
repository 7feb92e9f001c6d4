package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the lookup interface shared by the Redis and in-process
// backends. Historical data behind a fixed as-of date never changes,
// so consumers cache it with long TTLs and treat every miss as a
// normal fetch, never an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds a namespaced cache key from path segments.
func Key(parts ...string) string {
	return "nbapred:" + strings.Join(parts, ":")
}

// Noop is a no-op cache for runs with caching disabled.
type Noop struct{}

// NewNoop returns a cache that never hits.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Get(ctx context.Context, key string) ([]byte, bool) {
	return nil, false
}

func (n *Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *Noop) Delete(ctx context.Context, key string) error {
	return nil
}

func (n *Noop) Close() error {
	return nil
}
