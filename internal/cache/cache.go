// Package cache provides the key-value cache used for snapshots, diff
// baselines and error-suppression markers. A remote Redis backend is
// optional; every call degrades to an in-process store on remote failure,
// so cache errors surface to callers as misses, never as request failures.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is a single cache backend. Implementations report absence with the
// bool return; errors are backend faults, not misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache fronts an optional remote store with an in-process fallback. The
// remote/local decision is made once at construction via a capability check;
// per-call remote errors fall back silently for that call.
type Cache struct {
	remote Store // nil when no remote backend is configured
	local  Store
}

// New creates a cache. remote may be nil, in which case only the in-process
// store is used.
func New(remote Store, local Store) *Cache {
	if local == nil {
		local = NewMemory()
	}
	return &Cache{remote: remote, local: local}
}

// Get returns the cached value for key, or absent. Backend errors are
// treated as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.remote != nil {
		val, ok, err := c.remote.Get(ctx, key)
		if err == nil {
			if ok {
				return val, true
			}
			// Remote authoritative miss still checks the local safety net:
			// a value written during a remote outage may only exist locally.
		} else {
			log.Debug().Err(err).Str("key", key).Msg("remote cache get failed, using fallback")
		}
	}

	val, ok, err := c.local.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	return val, true
}

// Set stores value under key with the given TTL. The in-process store is
// always written through as a safety net.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, value, ttl); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("remote cache set failed, using fallback")
		}
	}
	if err := c.local.Set(ctx, key, value, ttl); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("local cache set failed")
	}
}

// Delete removes key from both backends.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("remote cache delete failed")
		}
	}
	if err := c.local.Delete(ctx, key); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("local cache delete failed")
	}
}

// Wrap returns the cached value for key, or calls producer, caches its
// result with the given TTL and returns it. Producer errors are returned
// as-is; cache faults never are.
func (c *Cache) Wrap(ctx context.Context, key string, ttl time.Duration, producer func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok := c.Get(ctx, key); ok {
		return val, nil
	}

	val, err := producer(ctx)
	if err != nil {
		return nil, err
	}

	c.Set(ctx, key, val, ttl)
	return val, nil
}
