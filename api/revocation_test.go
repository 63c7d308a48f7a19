package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"ara/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryTokenRevoker(t *testing.T) {
	revoker := NewMemoryTokenRevoker(10, time.Hour)
	ctx := context.Background()

	revoked, err := revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revoker.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Tokens that already expired need no entry
	require.NoError(t, revoker.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, _ = revoker.IsRevoked(ctx, "jti-2")
	assert.False(t, revoked)
}

func TestMemoryTokenRevoker_Capacity(t *testing.T) {
	revoker := NewMemoryTokenRevoker(2, time.Hour)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	require.NoError(t, revoker.Revoke(ctx, "a", expires))
	require.NoError(t, revoker.Revoke(ctx, "b", expires))
	require.NoError(t, revoker.Revoke(ctx, "c", expires))

	oldest, _ := revoker.IsRevoked(ctx, "a")
	newest, _ := revoker.IsRevoked(ctx, "c")
	assert.False(t, oldest, "the least recently used entry is evicted")
	assert.True(t, newest)
}

func TestRedisTokenRevoker(t *testing.T) {
	cache, server := newMiniredisCache(t)
	revoker := NewRedisTokenRevoker(cache, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, revoker.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	assert.True(t, server.Exists(core.RevokedTokenCacheKey("jti-1")))

	revoked, err := revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// The entry disappears with the token
	server.FastForward(2 * time.Minute)
	revoked, err = revoker.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisTokenRevoker_FailsClosed(t *testing.T) {
	cache, server := newMiniredisCache(t)
	revoker := NewRedisTokenRevoker(cache, zap.NewNop().Sugar())
	server.Close()

	_, err := revoker.IsRevoked(context.Background(), "jti-1")
	assert.Error(t, err)
}

func TestScopeChange_RevocationSharedThroughRedis(t *testing.T) {
	cache, _ := newMiniredisCache(t)
	cfg := testConfig(t, "alice")

	// Two API instances behind the same Redis
	first := newTestServer(t, cfg, cache)
	second := &testServer{api: NewAPI(first.api.services, cfg, cache, zap.NewNop().Sugar())}
	t.Cleanup(func() { _ = second.api.Stop(context.Background()) })

	first.project(t, "alpha")
	oldToken := first.login(t, "alice")
	require.Equal(t, http.StatusOK, second.do(t, http.MethodGet, "/api/v1/user/me", oldToken, nil).Code)

	rr := first.do(t, http.MethodPut, "/api/v1/user/me/scopes/alpha", oldToken, ScopeRequest{Role: "ADMIN"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	newToken := decode[SessionResponse](t, rr).Token

	assert.Equal(t, http.StatusUnauthorized, second.do(t, http.MethodGet, "/api/v1/user/me", oldToken, nil).Code)
	assert.Equal(t, http.StatusOK, second.do(t, http.MethodGet, "/api/v1/projects/alpha", newToken, nil).Code)
}
