package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is the in-process Cache. Entries live in go-cache and misses
// are collapsed with singleflight.
type MemoryCacher struct {
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewMemoryCacher creates a MemoryCacher whose entries expire after ttl and
// are purged every cleanupInterval. A ttl of zero or less keeps entries until
// Clear.
func NewMemoryCacher(ttl, cleanupInterval time.Duration) *MemoryCacher {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	return &MemoryCacher{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// GetOrFetch implements Cache.
func (c *MemoryCacher) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// a concurrent caller may have filled it while we waited
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, fetched, c.ttl)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}

	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T for key %q", v, key)
	}

	return b, nil
}

// ItemCount implements Cache. The count may include expired entries not yet
// purged.
func (c *MemoryCacher) ItemCount(ctx context.Context) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

// Clear implements Cache.
func (c *MemoryCacher) Clear(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	c.cache.Flush()
	return nil
}

func (c *MemoryCacher) lookup(key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	b, ok := v.([]byte)
	return b, ok
}
