// Package cacher memoises transformed payloads. Two backends exist: an
// in-process one built on go-cache and a shared one built on Redis.
package cacher

import (
	"context"
	"fmt"
	"time"
)

// FetchFunc computes the value for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache stores byte values by key with a fixed TTL chosen at construction.
// Implementations collapse concurrent misses on the same key into a single
// call to the FetchFunc.
type Cache interface {
	// GetOrFetch returns the cached value for key, or calls fetch, stores its
	// result and returns it.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - fetch: Called on a miss; its error is returned unchanged and nothing is stored
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the backend or fetch fails
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error)

	// ItemCount returns the number of entries currently held.
	ItemCount(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// Backend names accepted by New.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options configures New.
type Options struct {
	Backend   string
	TTL       time.Duration
	RedisAddr string
	KeyPrefix string
}

// New builds the Cache selected by opts.Backend. It returns a nil Cache and a
// nil error for BackendNone, and a close function that releases backend
// resources (a no-op for the memory backend).
//
// Parameters:
//   - opts: Backend name, entry TTL and Redis settings
//
// Returns:
//   - The cache, or nil when caching is disabled
//   - A function releasing the backend; never nil
//   - An error for an unknown backend
func New(opts Options) (Cache, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		return NewMemoryCacher(opts.TTL, 2*opts.TTL), noop, nil
	case BackendRedis:
		c := NewRedisCacher(NewRedisClient(opts.RedisAddr), opts.KeyPrefix, opts.TTL)
		return c, c.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
