package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dispatchd:dedup:"

// RedisWindow is an Admitter backed by Redis. Unlike the in-memory Window it
// survives coordinator restarts, giving dedup across redeliveries after a
// crash. SET NX with a TTL makes concurrent admits race-free.
type RedisWindow struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisWindow connects to Redis and returns a durable Admitter.
func NewRedisWindow(ctx context.Context, addr string, retention time.Duration) (*RedisWindow, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisWindow{rdb: rdb, retention: retention}, nil
}

// Admit sets the fingerprint key if absent. The first caller wins; everyone
// else within the retention window is rejected.
func (w *RedisWindow) Admit(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := w.rdb.SetNX(ctx, keyPrefix+fingerprint, 1, w.retention).Result()
	if err != nil {
		return false, fmt.Errorf("dedup admit: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (w *RedisWindow) Close() error {
	return w.rdb.Close()
}
