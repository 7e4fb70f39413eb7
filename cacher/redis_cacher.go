package cacher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const scanBatch = 256

// RedisCacher is a Cache shared between server instances through Redis.
// Every key is stored under prefix so ItemCount and Clear only touch this
// cache's entries.
type RedisCacher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisClient returns a client for addr with short timeouts; a cache that
// answers slower than the exchange it serves is not worth waiting for.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   1,
	})
}

// NewRedisCacher wraps client. Entries expire after ttl; zero or less means
// they never expire.
//
// Example:
//
//	client := NewRedisClient("localhost:6379")
//	c := NewRedisCacher(client, "upperecho:", 10*time.Minute)
func NewRedisCacher(client *redis.Client, prefix string, ttl time.Duration) *RedisCacher {
	if ttl < 0 {
		ttl = 0
	}

	return &RedisCacher{client: client, prefix: prefix, ttl: ttl}
}

// GetOrFetch implements Cache. Misses are collapsed per process; across
// processes two servers may both compute the same value, which is harmless
// because the value is a pure function of the key.
func (c *RedisCacher) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	full := c.prefix + key

	v, err := c.client.Get(ctx, full).Bytes()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	res, err, _ := c.group.Do(full, func() (any, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.client.Set(ctx, full, fetched, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis set: %w", err)
		}

		return fetched, nil
	})
	if err != nil {
		return nil, err
	}

	return res.([]byte), nil
}

// ItemCount implements Cache by scanning the prefix.
func (c *RedisCacher) ItemCount(ctx context.Context) (int, error) {
	n := 0
	err := c.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})

	return n, err
}

// Clear implements Cache by deleting every key under the prefix.
func (c *RedisCacher) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}

		return nil
	})
}

// Close closes the underlying client.
func (c *RedisCacher) Close() error {
	return c.client.Close()
}

func (c *RedisCacher) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		if err := checkContext(ctx); err != nil {
			return err
		}

		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}
