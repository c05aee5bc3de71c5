package cache

import (
	"context"
	"fmt"
	"time"

	"PaceShift/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 创建 Redis 客户端并测试连接
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// CheckRedis 测试Redis的读写、自增和过期能力，台账依赖这些原语
func CheckRedis(ctx context.Context, client *redis.Client) error {
	const key = "paceshift:healthcheck"

	if err := client.Set(ctx, key, "ok", time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}

	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}

	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}

	n, err := client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment Redis key: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected counter value from Redis: got %d", n)
	}
	if err := client.Expire(ctx, key, time.Second).Err(); err != nil {
		return fmt.Errorf("failed to expire Redis key: %w", err)
	}

	return client.Del(ctx, key).Err()
}
