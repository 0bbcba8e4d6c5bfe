package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{Client: client}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

// SetOnline records a user's liveness flag. The durable status lives in the
// user table; this copy is what cheap presence lookups read.
func (c *RedisCache) SetOnline(ctx context.Context, userID string, online bool) error {
	if !online {
		return c.Client.Del(ctx, presenceKey(userID)).Err()
	}
	return c.Client.Set(ctx, presenceKey(userID), "1", 0).Err()
}

func (c *RedisCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	val, err := c.Client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	online, _ := strconv.ParseBool(val)
	return online, nil
}

func presenceKey(userID string) string {
	return "presence:" + userID
}
