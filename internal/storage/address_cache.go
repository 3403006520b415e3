package storage

import (
	"context"
	"time"
)

const addressCachePrefix = "addr:friendly:"

// AddressCache stores raw -> user-friendly address conversions. The conversion is
// pure, so entries never go stale; the TTL only bounds memory.
type AddressCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewAddressCache creates a new address cache
func NewAddressCache(cache *RedisCache, ttl time.Duration) *AddressCache {
	return &AddressCache{cache: cache, ttl: ttl}
}

// Get returns the cached friendly form of raw, if any
func (c *AddressCache) Get(ctx context.Context, raw string) (string, bool, error) {
	return c.cache.Lookup(ctx, addressCachePrefix+raw)
}

// Put caches the friendly form of raw
func (c *AddressCache) Put(ctx context.Context, raw, friendly string) error {
	return c.cache.Store(ctx, addressCachePrefix+raw, friendly, c.ttl)
}
