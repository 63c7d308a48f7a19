package api

import (
	"context"
	"time"

	"ara/core"
	"ara/metrics"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// defaultRevocationCapacity bounds the in-memory blacklist. Entries expire with the token
// they revoke, so the bound is only reached under a burst of scope changes.
const defaultRevocationCapacity = 100_000

// TokenRevoker tracks revoked token IDs until the tokens expire
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryTokenRevoker keeps revoked token IDs in process memory.
// Every entry lives for the maximum token lifetime.
type MemoryTokenRevoker struct {
	revoked *expirable.LRU[string, struct{}]
}

// NewMemoryTokenRevoker creates an in-memory revoker holding up to capacity token IDs for ttl
func NewMemoryTokenRevoker(capacity int, ttl time.Duration) *MemoryTokenRevoker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryTokenRevoker{revoked: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (m *MemoryTokenRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	if time.Until(expiresAt) <= 0 {
		return nil
	}
	m.revoked.Add(jti, struct{}{})
	metrics.TokensRevoked.Inc()
	return nil
}

func (m *MemoryTokenRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	return m.revoked.Contains(jti), nil
}

// RedisTokenRevoker shares revoked token IDs between API instances
type RedisTokenRevoker struct {
	redis  *core.RedisCache
	logger *zap.SugaredLogger
}

func NewRedisTokenRevoker(redis *core.RedisCache, logger *zap.SugaredLogger) *RedisTokenRevoker {
	return &RedisTokenRevoker{redis: redis, logger: logger}
}

// Revoke stores the token ID until the token would have expired
func (r *RedisTokenRevoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.Set(ctx, core.RevokedTokenCacheKey(jti), true, ttl); err != nil {
		return err
	}
	metrics.TokensRevoked.Inc()
	return nil
}

// IsRevoked fails closed: a Redis error is returned and the request is rejected
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := r.redis.Exists(ctx, core.RevokedTokenCacheKey(jti))
	if err != nil {
		r.logger.Warnw("Revocation lookup failed", "jti", jti, "error", err)
		return false, err
	}
	return exists, nil
}
