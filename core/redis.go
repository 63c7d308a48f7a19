package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ara/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// maxCacheValueSize bounds encoded values stored in Redis
const maxCacheValueSize = 1024 * 1024

// RedisCache stores shared state (rate limit counters, revoked tokens) in Redis.
// Values are msgpack encoded.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return NewRedisCacheFromClient(client, logger)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, logger *zap.SugaredLogger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a value with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to encode cache value for key %s: %w", key, err)
	}

	if len(data) > maxCacheValueSize {
		metrics.CacheErrors.WithLabelValues("redis", "size_limit").Inc()
		return fmt.Errorf("cache value size %d bytes exceeds maximum allowed size %d bytes", len(data), maxCacheValueSize)
	}

	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return err
	}
	return nil
}

// Get decodes the value stored at key into dest. It returns false when the key is absent.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return false, err
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return false, fmt.Errorf("failed to decode cache value for key %s: %w", key, err)
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return true, nil
}

// Delete removes a key
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// Exists checks if a key exists
func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := rc.client.Exists(ctx, key).Result()
	return count > 0, err
}

// IncrWindow increments the counter at key and starts its expiry window on first use.
func (rc *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := rc.client.Incr(ctx, key).Result()
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "incr").Inc()
		return 0, err
	}
	if count == 1 {
		if err := rc.client.Expire(ctx, key, window).Err(); err != nil {
			metrics.CacheErrors.WithLabelValues("redis", "expire").Inc()
			return count, err
		}
	}
	return count, nil
}

// Cache key prefixes
const (
	CacheKeyRateLimitPrefix    = "ratelimit:"
	CacheKeyRevokedTokenPrefix = "revoked:"
)

// RateLimitCacheKey builds the counter key for a limiter tier and caller.
func RateLimitCacheKey(tier, key string) string {
	return CacheKeyRateLimitPrefix + tier + ":" + key
}

// RevokedTokenCacheKey builds the key under which a revoked token id is stored.
func RevokedTokenCacheKey(jti string) string {
	return CacheKeyRevokedTokenPrefix + jti
}
