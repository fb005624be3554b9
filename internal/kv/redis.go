package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs Store with Redis. List appends use a pipeline so the
// append and trim travel together.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *RedisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisStore) ListAppendTrim(ctx context.Context, key, value string, bound int) error {
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, value)
	if bound > 0 {
		pipe.LTrim(ctx, key, int64(-bound), -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) ListLastN(ctx context.Context, key string, n int) ([]string, error) {
	return r.client.LRange(ctx, key, int64(-n), -1).Result()
}

func (r *RedisStore) ListLen(ctx context.Context, key string) (int, error) {
	n, err := r.client.LLen(ctx, key).Result()
	return int(n), err
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
