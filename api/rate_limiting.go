package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ara/authz"
	"ara/core"
	"ara/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiterTier represents the different rate limiting tiers
type RateLimiterTier string

const (
	RateLimitTierLogin RateLimiterTier = "login" // per client IP
	RateLimitTierAPI   RateLimiterTier = "api"   // per authenticated user
)

// limiterIdleTTL is how long an unused in-memory limiter is kept
const limiterIdleTTL = 30 * time.Minute

// RateLimiterConfig holds configuration for a rate limiting tier
type RateLimiterConfig struct {
	Limit  int           // Maximum requests
	Window time.Duration // Time window
	Burst  int           // Burst allowance
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits one tier. With Redis the counters are fixed windows shared between
// instances, otherwise each key gets a token bucket in memory.
type RateLimiter struct {
	config    *RateLimiterConfig
	tier      RateLimiterTier
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	redis     *core.RedisCache
	logger    *zap.SugaredLogger
	stopCh    chan struct{}
	cleanupWg sync.WaitGroup
}

// NewRateLimiter creates a new rate limiter for a specific tier
func NewRateLimiter(tier RateLimiterTier, config *RateLimiterConfig, redis *core.RedisCache, logger *zap.SugaredLogger) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		tier:     tier,
		limiters: make(map[string]*limiterEntry),
		redis:    redis,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	rl.cleanupWg.Add(1)
	go rl.cleanup()

	return rl
}

// Allow checks if a request from the given key is allowed
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.redis != nil {
		return rl.allowRedis(ctx, key)
	}
	return rl.allowMemory(key)
}

func (rl *RateLimiter) allowMemory(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(
				rate.Limit(float64(rl.config.Limit)/rl.config.Window.Seconds()),
				rl.config.Burst,
			),
		}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// allowRedis falls back to memory when Redis is unreachable
func (rl *RateLimiter) allowRedis(ctx context.Context, key string) bool {
	count, err := rl.redis.IncrWindow(ctx, core.RateLimitCacheKey(string(rl.tier), key), rl.config.Window)
	if err != nil {
		rl.logger.Warnf("Redis rate limit check failed, falling back to memory: %v", err)
		return rl.allowMemory(key)
	}
	return count <= int64(rl.config.Limit)
}

// cleanup periodically removes idle in-memory limiters
func (rl *RateLimiter) cleanup() {
	defer rl.cleanupWg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
}

// Close stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Close() {
	close(rl.stopCh)
	rl.cleanupWg.Wait()
}

// MultiTierRateLimiter manages the login and API tiers
type MultiTierRateLimiter struct {
	loginLimiter *RateLimiter
	apiLimiter   *RateLimiter
	loginConfig  *RateLimiterConfig
	apiConfig    *RateLimiterConfig
}

// NewMultiTierRateLimiter creates a new multi-tier rate limiter
func NewMultiTierRateLimiter(loginConfig, apiConfig *RateLimiterConfig, redis *core.RedisCache, logger *zap.SugaredLogger) *MultiTierRateLimiter {
	return &MultiTierRateLimiter{
		loginLimiter: NewRateLimiter(RateLimitTierLogin, loginConfig, redis, logger),
		apiLimiter:   NewRateLimiter(RateLimitTierAPI, apiConfig, redis, logger),
		loginConfig:  loginConfig,
		apiConfig:    apiConfig,
	}
}

// AllowLogin checks if a login attempt from ip is allowed
func (mtrl *MultiTierRateLimiter) AllowLogin(ctx context.Context, ip string) bool {
	return mtrl.loginLimiter.Allow(ctx, ip)
}

// AllowAPI checks if an API request from user is allowed
func (mtrl *MultiTierRateLimiter) AllowAPI(ctx context.Context, user string) bool {
	return mtrl.apiLimiter.Allow(ctx, user)
}

func (mtrl *MultiTierRateLimiter) configFor(tier RateLimiterTier) *RateLimiterConfig {
	if tier == RateLimitTierLogin {
		return mtrl.loginConfig
	}
	return mtrl.apiConfig
}

// Close stops all rate limiter cleanup goroutines
func (mtrl *MultiTierRateLimiter) Close() {
	mtrl.loginLimiter.Close()
	mtrl.apiLimiter.Close()
}

// loginRateLimitMiddleware limits login attempts per client IP
func (a *API) loginRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
		if !a.rateLimiter.AllowLogin(r.Context(), ip) {
			a.logger.Warnw("Login rate limit exceeded", "ip", ip)
			a.writeRateLimitResponse(w, RateLimitTierLogin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiRateLimitMiddleware limits authenticated requests per user. It runs after
// jwtAuthMiddleware so the principal is known.
func (a *API) apiRateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
		if principal, ok := authz.PrincipalFrom(r.Context()); ok {
			key = principal.ProviderName + ":" + principal.Login
		}
		if !a.rateLimiter.AllowAPI(r.Context(), key) {
			a.writeRateLimitResponse(w, RateLimitTierAPI)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeRateLimitResponse writes a 429 Too Many Requests response with rate limit headers
func (a *API) writeRateLimitResponse(w http.ResponseWriter, tier RateLimiterTier) {
	metrics.RateLimitExceeded.WithLabelValues(string(tier)).Inc()

	cfg := a.rateLimiter.configFor(tier)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(cfg.Window).Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"rate limit exceeded","tier":%q}`, tier)
}
