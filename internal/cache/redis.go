package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "shophub:"

type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(connectionString string) (*RedisProvider, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisProvider{client: client}, nil
}

func (r *RedisProvider) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (r *RedisProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisProvider) Claim(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *RedisProvider) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (r *RedisProvider) Close() error {
	return r.client.Close()
}
