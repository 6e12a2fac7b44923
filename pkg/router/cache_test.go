package router

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/models"
)

func newRedisCacheForTest(t *testing.T) (DecisionCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	return NewRedisCache(server.Addr()), server
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := newRedisCacheForTest(t)
	ctx := context.Background()

	decision := &models.RoutingDecision{
		AgentID:         "sec-agent",
		Confidence:      0.72,
		Intent:          models.IntentSecurity,
		MatchedKeywords: []string{"audit", "security"},
		CostScore:       0.4,
		Rationale:       "intent=security keyword=0.80 semantic=0.00 cost=0.40",
		DecidedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, cache.Set(ctx, "key-1", decision, time.Minute))

	got, hit, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, decision.AgentID, got.AgentID)
	assert.Equal(t, decision.Confidence, got.Confidence)
	assert.Equal(t, decision.MatchedKeywords, got.MatchedKeywords)
	assert.Equal(t, decision.Rationale, got.Rationale)

	_, hit, err = cache.Get(ctx, "unknown-key")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheTTL(t *testing.T) {
	cache, server := newRedisCacheForTest(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key-1", &models.RoutingDecision{AgentID: "a"}, time.Second))
	server.FastForward(2 * time.Second)

	_, hit, err := cache.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheClearAndLen(t *testing.T) {
	cache, server := newRedisCacheForTest(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key-1", &models.RoutingDecision{AgentID: "a"}, time.Minute))
	require.NoError(t, cache.Set(ctx, "key-2", &models.RoutingDecision{AgentID: "b"}, time.Minute))
	// A foreign key outside the router prefix must survive Clear.
	server.Set("other:key", "value")

	size, err := cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	require.NoError(t, cache.Clear(ctx))

	size, err = cache.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.True(t, server.Exists("other:key"))
}

func TestRouterFallsThroughOnCacheFailure(t *testing.T) {
	cache, server := newRedisCacheForTest(t)
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	r := New(cfg, testRegistry(), cache, nil, nil)

	server.Close()

	// Cache reads and writes fail; Select still answers.
	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.False(t, decision.Cached)
}
