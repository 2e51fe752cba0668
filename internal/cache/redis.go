package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"gamesync/internal/config"
)

// Redis is the remote cache store backed by go-redis. Every call carries a
// short client-side timeout so a slow backend degrades instead of blocking.
type Redis struct {
	client      redis.Cmdable
	callTimeout time.Duration
}

// NewRedis connects to the configured Redis server and verifies it is
// reachable. Callers treat a nil return (with error) as "no remote backend".
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Redis{client: client, callTimeout: cfg.CallTimeout}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests with redismock.
func NewRedisWithClient(client redis.Cmdable, callTimeout time.Duration) *Redis {
	return &Redis{client: client, callTimeout: callTimeout}
}

// Get returns the value for key, or absent on redis.Nil.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	callCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(callCtx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	callCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Set(callCtx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	callCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Del(callCtx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

func (r *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.callTimeout)
}
