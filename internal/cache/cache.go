package cache

import (
	"context"
	"time"
)

// Cache is the rate-limit/cache collaborator boundary. Implementations are
// interchangeable at startup; callers must treat failures as fail-open and
// proceed without the cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// NoTTL is returned by TTL for keys that exist without an expiry.
const NoTTL = time.Duration(-1)
