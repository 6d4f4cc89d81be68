package redis

import (
	"context"

	"owl-vitals/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client alias so callers need not import go-redis directly
type Client = redis.Client

// NewRedisClient creates a Redis client from config.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks connectivity.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
