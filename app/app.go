// Package app composes the configured logger, response cache and echo server.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/upperecho/cacher"
	"github.com/cyberinferno/upperecho/config"
	"github.com/cyberinferno/upperecho/echoserver"
	"github.com/cyberinferno/upperecho/logger"
)

// ServiceName tags every log entry and names the log files.
const ServiceName = "upperecho"

const cacheOpTimeout = 2 * time.Second

// NewLogger builds the logger described by cfg: stdout only, or stdout plus
// daily files when LogDir is set.
func NewLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.LogDir == "" {
		return logger.New(zerolog.SyncWriter(os.Stdout), ServiceName, level), nil
	}

	return logger.NewWithFile(ServiceName, cfg.LogDir, level)
}

// Build returns an unstarted server for cfg together with a function that
// releases the response cache. With CacheFlush set, cached responses are
// dropped first; a cache that cannot be reached is only logged, since the
// server falls back to transforming directly.
func Build(cfg config.Config, log logger.Logger) (*echoserver.Server, func() error, error) {
	cache, closeCache, err := cacher.New(cfg.CacheOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("build response cache: %w", err)
	}

	if cache != nil {
		log.Info("response cache enabled", logger.Field{Key: "backend", Value: cfg.Cache}, logger.Field{Key: "ttl", Value: cfg.CacheTTL.String()})

		if cfg.CacheFlush {
			flushCache(cache, log)
		}
	}

	srv := &echoserver.Server{
		Logger:          log,
		Name:            ServiceName,
		Addr:            cfg.ListenAddr(),
		BufferSize:      cfg.BufferSize,
		ExchangeTimeout: cfg.ExchangeTimeout,
		Transformer:     echoserver.NewCachedTransformer(echoserver.UppercaseTransformer, cache, log),
	}

	return srv, closeCache, nil
}

// Run serves until ctx is cancelled and returns nil then. It returns an
// error if the cache cannot be built or the address cannot be bound.
func Run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	srv, closeCache, err := Build(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cache, ok := srv.Transformer.(*echoserver.CachedTransformer); ok {
			logCacheSize(cache.Cache, log)
		}
		if err := closeCache(); err != nil {
			log.Warn("close response cache", logger.Field{Key: "error", Value: err})
		}
	}()

	return srv.Run(ctx)
}

func flushCache(c cacher.Cache, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := c.Clear(ctx); err != nil {
		log.Warn("flush response cache", logger.Field{Key: "error", Value: err})
		return
	}

	log.Info("response cache flushed")
}

func logCacheSize(c cacher.Cache, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	n, err := c.ItemCount(ctx)
	if err != nil {
		log.Warn("count response cache entries", logger.Field{Key: "error", Value: err})
		return
	}

	log.Info("response cache closing", logger.Field{Key: "entries", Value: n})
}
