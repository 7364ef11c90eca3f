package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache de-duplicates concurrent loads of the same key and keeps successful
// results for a TTL. Failed loads are never stored.
type Cache struct {
	store       Store
	group       singleflight.Group
	logger      *zap.Logger
	loadTimeout time.Duration
}

// New creates a Cache over store. loadTimeout bounds a single upstream load
// independently of the callers waiting on it.
func New(store Store, logger *zap.Logger, loadTimeout time.Duration) *Cache {
	return &Cache{
		store:       store,
		logger:      logger.Named("cache"),
		loadTimeout: loadTimeout,
	}
}

// Fetch returns the cached value for key, or runs load once for all
// concurrent callers asking for the same key and caches the result for ttl.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := lookup[T](ctx, c, key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The flight outlives any single caller.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		// A flight that just finished may already have filled the store.
		if v, ok := lookup[T](loadCtx, c, key); ok {
			return v, nil
		}

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}

		b, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
			return v, nil
		}
		if err := c.store.Set(loadCtx, key, b, ttl); err != nil {
			c.logger.Warn("Failed to store cache entry", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache entry %s has unexpected type %T", key, res.Val)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	b, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed, loading from source", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}
