package adapter

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/tonft-app/backend/internal/logging"
)

// AddressStore is the cache behind CachedCanonicalizer
type AddressStore interface {
	Get(ctx context.Context, raw string) (string, bool, error)
	Put(ctx context.Context, raw, friendly string) error
}

// CachedCanonicalizer memoizes address conversions. Conversion is a pure function of
// the raw address, so a cached entry is always valid. Cache errors degrade to a
// direct gateway call.
type CachedCanonicalizer struct {
	next  AddressCanonicalizer
	store AddressStore
	group singleflight.Group
}

// NewCachedCanonicalizer creates a new cached canonicalizer
func NewCachedCanonicalizer(next AddressCanonicalizer, store AddressStore) *CachedCanonicalizer {
	return &CachedCanonicalizer{next: next, store: store}
}

// ToFriendly returns the cached conversion of raw or asks the gateway
func (c *CachedCanonicalizer) ToFriendly(ctx context.Context, raw string) (string, error) {
	logger := logging.FromContext(ctx).WithField("address", raw)

	friendly, ok, err := c.store.Get(ctx, raw)
	if err != nil {
		logger.WithError(err).Warn("Address cache read failed")
	} else if ok {
		return friendly, nil
	}

	v, err, _ := c.group.Do(raw, func() (interface{}, error) {
		return c.next.ToFriendly(ctx, raw)
	})
	if err != nil {
		return "", err
	}
	friendly = v.(string)

	if err := c.store.Put(ctx, raw, friendly); err != nil {
		logger.WithError(err).Warn("Address cache write failed")
	}
	return friendly, nil
}
