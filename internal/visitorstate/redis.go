package visitorstate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores one visitor's keys in redis under prefix+visitorID.
type RedisBackend struct {
	client *redis.Client
	ns     string
}

// NewRedisClient parses a redis URL (redis://host:6379/0).
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func NewRedisBackend(client *redis.Client, prefix, visitorID string) *RedisBackend {
	return &RedisBackend{client: client, ns: prefix + visitorID + ":"}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.ns+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.ns+key, val, ttl).Err()
}
