package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"ara/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMiniredisCache(t *testing.T) (*core.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	cache := core.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}), zap.NewNop().Sugar())
	t.Cleanup(func() { _ = cache.Close() })
	return cache, server
}

func TestRateLimiter_MemoryTokenBucket(t *testing.T) {
	rl := NewRateLimiter(RateLimitTierAPI, &RateLimiterConfig{Limit: 60, Window: time.Minute, Burst: 3}, nil, zap.NewNop().Sugar())
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ctx, "local:alice"), "request %d is within the burst", i+1)
	}
	assert.False(t, rl.Allow(ctx, "local:alice"), "burst exhausted")
	assert.True(t, rl.Allow(ctx, "local:bob"), "keys are limited independently")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimitTierLogin, &RateLimiterConfig{Limit: 1, Window: time.Minute, Burst: 1}, nil, zap.NewNop().Sugar())
	defer rl.Close()
	ctx := context.Background()

	require.True(t, rl.Allow(ctx, "192.0.2.1"))
	require.False(t, rl.Allow(ctx, "192.0.2.1"))

	rl.evictIdle(time.Now().Add(limiterIdleTTL + time.Minute))
	rl.mu.Lock()
	assert.Empty(t, rl.limiters)
	rl.mu.Unlock()

	assert.True(t, rl.Allow(ctx, "192.0.2.1"), "an evicted key starts with a full bucket")
}

func TestRateLimiter_RedisFixedWindow(t *testing.T) {
	cache, server := newMiniredisCache(t)
	rl := NewRateLimiter(RateLimitTierAPI, &RateLimiterConfig{Limit: 2, Window: time.Minute, Burst: 2}, cache, zap.NewNop().Sugar())
	defer rl.Close()
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "local:alice"))
	assert.True(t, rl.Allow(ctx, "local:alice"))
	assert.False(t, rl.Allow(ctx, "local:alice"))

	// The counter is shared: a second limiter on the same Redis sees it
	other := NewRateLimiter(RateLimitTierAPI, &RateLimiterConfig{Limit: 2, Window: time.Minute, Burst: 2}, cache, zap.NewNop().Sugar())
	defer other.Close()
	assert.False(t, other.Allow(ctx, "local:alice"))

	server.FastForward(time.Minute + time.Second)
	assert.True(t, rl.Allow(ctx, "local:alice"), "a new window starts after expiry")
}

func TestRateLimiter_RedisFailoverToMemory(t *testing.T) {
	cache, server := newMiniredisCache(t)
	rl := NewRateLimiter(RateLimitTierAPI, &RateLimiterConfig{Limit: 60, Window: time.Minute, Burst: 1}, cache, zap.NewNop().Sugar())
	defer rl.Close()
	ctx := context.Background()

	server.Close()

	assert.True(t, rl.Allow(ctx, "local:alice"), "memory bucket serves while Redis is down")
	assert.False(t, rl.Allow(ctx, "local:alice"))
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(RateLimitTierAPI, &RateLimiterConfig{Limit: 1, Window: time.Hour, Burst: 10}, nil, zap.NewNop().Sugar())
	defer rl.Close()
	ctx := context.Background()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(ctx, "shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestLoginRateLimitMiddleware(t *testing.T) {
	cfg := testConfig(t, "alice")
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.LoginPerMinute = 2
	cfg.RateLimit.RequestsPerMinute = 1000
	cfg.RateLimit.Burst = 1000
	ts := newTestServer(t, cfg, nil)

	for i := 0; i < 2; i++ {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Login: "alice", Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Login: "alice", Password: testPassword})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().Unix())
	assert.JSONEq(t, `{"error":"rate limit exceeded","tier":"login"}`, rr.Body.String())
}

func TestAPIRateLimitMiddleware_PerUser(t *testing.T) {
	cache, _ := newMiniredisCache(t)
	cfg := testConfig(t, "alice", "bob")
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.LoginPerMinute = 100
	cfg.RateLimit.RequestsPerMinute = 3
	cfg.RateLimit.Burst = 3
	ts := newTestServer(t, cfg, cache)

	alice := ts.login(t, "alice")
	bob := ts.login(t, "bob")

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/user/me", alice, nil).Code)
	}
	rr := ts.do(t, http.MethodGet, "/api/v1/user/me", alice, nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), `"tier":"api"`)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/user/me", bob, nil).Code)
}

func TestRateLimitDisabled(t *testing.T) {
	ts := newTestServer(t, testConfig(t, "alice"), nil)
	require.Nil(t, ts.api.rateLimiter)

	for i := 0; i < 20; i++ {
		rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Login: "alice", Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
}
