package echoserver

import (
	"context"

	"github.com/cyberinferno/upperecho/cacher"
	"github.com/cyberinferno/upperecho/logger"
)

// CachedTransformer memoises another Transformer, keyed by the raw payload.
// Only pure transformers should be wrapped.
type CachedTransformer struct {
	Next   Transformer
	Cache  cacher.Cache
	Logger logger.Logger
}

// NewCachedTransformer wraps next with c. A nil c returns next unchanged.
func NewCachedTransformer(next Transformer, c cacher.Cache, log logger.Logger) Transformer {
	if c == nil {
		return next
	}
	if log == nil {
		log = logger.Nop()
	}

	return &CachedTransformer{Next: next, Cache: c, Logger: log}
}

// Transform implements Transformer. Empty payloads skip the cache. When the
// cache fails the payload is transformed directly and the failure is logged,
// so a cache outage costs only the memoisation.
func (t *CachedTransformer) Transform(ctx context.Context, p []byte) ([]byte, error) {
	if len(p) == 0 {
		return t.Next.Transform(ctx, p)
	}

	key := string(p)
	var fetchErr error
	out, err := t.Cache.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		in := make([]byte, len(p))
		copy(in, p)

		res, err := t.Next.Transform(ctx, in)
		fetchErr = err
		return res, err
	})
	if err == nil {
		return append(p[:0], out...), nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	t.Logger.Warn("response cache unavailable", logger.Field{Key: "error", Value: err})
	return t.Next.Transform(ctx, p)
}
