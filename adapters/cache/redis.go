package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Skryldev/imageloader/errors"
)

// RedisClient is the subset of the go-redis client used here.
type RedisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis is a shared Store backed by Redis. Entries expire after ttl.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. A zero ttl keeps entries for an hour.
func NewRedis(client RedisClient, prefix string, ttl time.Duration) *Redis {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to addr and checks the connection with a PING.
func DialRedis(ctx context.Context, addr, prefix string, ttl time.Duration) (*Redis, func() error, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, apperrors.New(apperrors.CategoryStorage, "cache.redis.dial",
			fmt.Errorf("%w: %s: %v", apperrors.ErrStorageUnavailable, addr, err))
	}
	return NewRedis(client, prefix, ttl), client.Close, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Transient("cache.redis.get", err)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return apperrors.Transient("cache.redis.set", err)
	}
	return nil
}

// Delete removes key from the cache.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return apperrors.Transient("cache.redis.del", err)
	}
	return nil
}
