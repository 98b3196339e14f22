package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupConfig describes the Redis connection for webhook deduplication.
type RedisDedupConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisDedup tracks delivered webhook events in Redis so multi-node
// deployments share one view of what has already settled.
type RedisDedup struct {
	client *redis.Client
	prefix string
}

// NewRedisDedup connects to Redis and verifies the connection.
func NewRedisDedup(cfg RedisDedupConfig) (*RedisDedup, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hostpanel:webhooks:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisDedup{client: client, prefix: prefix}, nil
}

// FirstDelivery implements DedupStore with SET NX EX: the first writer wins,
// later deliveries of the same key see the existing entry.
func (d *RedisDedup) FirstDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	first, err := d.client.SetNX(ctx, d.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedup: %w", err)
	}
	return first, nil
}

// Close releases the Redis connection.
func (d *RedisDedup) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
