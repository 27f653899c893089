package identity

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedResolver remembers successful resolutions of the wrapped resolver
// for ttl. Failures are not cached.
type CachedResolver struct {
	resolver Resolver
	cache    *cache.Cache
}

func NewCachedResolver(resolver Resolver, ttl, cleanupInterval time.Duration) *CachedResolver {
	return &CachedResolver{
		resolver: resolver,
		cache:    cache.New(ttl, cleanupInterval),
	}
}

func (c *CachedResolver) Resolve(ctx context.Context, publicKey string) (string, error) {
	if accountID, found := c.cache.Get(publicKey); found {
		return accountID.(string), nil
	}

	accountID, err := c.resolver.Resolve(ctx, publicKey)
	if err != nil {
		return "", err
	}

	c.cache.SetDefault(publicKey, accountID)

	return accountID, nil
}

// Forget drops a cached resolution, e.g. after the mapping changed.
func (c *CachedResolver) Forget(publicKey string) {
	c.cache.Delete(publicKey)
}
