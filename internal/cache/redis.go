package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wallet-sync/internal/config"
)

const (
	redisEntryPrefix = "wq:entry:"
	redisTagPrefix   = "wq:tag:"
)

// RedisBackend stores entries in Redis with one set per tag indexing the
// entry keys that carry it
type RedisBackend struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisBackend wraps a connected client
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get returns the stored value for key
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}
	return data, true, nil
}

// Set stores value under key and adds key to each tag set
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, tags []string, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisEntryPrefix+key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, redisTagPrefix+tag, key)
		if ttl > 0 {
			// tag sets outlive their entries so a late invalidation still finds them
			pipe.Expire(ctx, redisTagPrefix+tag, 2*ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// InvalidateTags removes every entry carrying any of tags
func (r *RedisBackend) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		keys, err := r.client.SMembers(ctx, redisTagPrefix+tag).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read tag %s: %w", tag, err)
		}
		del := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			del = append(del, redisEntryPrefix+k)
		}
		del = append(del, redisTagPrefix+tag)
		n, err := r.client.Del(ctx, del...).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to invalidate tag %s: %w", tag, err)
		}
		if n > 0 {
			// the tag set itself is counted by Del when it existed
			removed += int(n) - 1
		}
	}
	return removed, nil
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
