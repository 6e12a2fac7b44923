package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/health"
	"github.com/steward-ai/steward/pkg/models"
)

func testRegistry() *config.AgentRegistry {
	return config.NewAgentRegistry(map[string]*config.AgentConfig{
		"sec-agent": {
			Provider: config.ProviderTypeAnthropic, Model: "claude-sonnet-4-20250514",
			CostPerInputToken: 3, CostPerOutputToken: 15,
			Skills:           []string{"security", "audit", "pentest"},
			IntentAffinities: map[models.Intent]float64{models.IntentSecurity: 0.9},
		},
		"dev-agent": {
			Provider: config.ProviderTypeDeepSeek, Model: "deepseek-chat",
			CostPerInputToken: 0.27, CostPerOutputToken: 1.1,
			Skills:           []string{"code", "refactor", "debug"},
			IntentAffinities: map[models.Intent]float64{models.IntentDevelopment: 0.8},
		},
		"db-agent": {
			Provider: config.ProviderTypeDeepSeek, Model: "deepseek-chat",
			CostPerInputToken: 0.27, CostPerOutputToken: 1.1,
			Skills:           []string{"sql", "schema", "postgres"},
			IntentAffinities: map[models.Intent]float64{models.IntentDatabase: 0.9},
		},
		"cheap-agent": {
			Provider: config.ProviderTypeOllama, Model: "llama3",
			Skills: []string{"general"},
		},
	})
}

func testRouter() *Router {
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	return New(cfg, testRegistry(), nil, nil, nil)
}

func TestInferIntent(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantIntent models.Intent
	}{
		{"security keywords", "audit the authentication flow for vulnerabilities", models.IntentSecurity},
		{"development keywords", "refactor this function and fix the bug", models.IntentDevelopment},
		{"database keywords", "optimize the sql query against the users table", models.IntentDatabase},
		{"planning keywords", "draft a roadmap with milestones for the sprint", models.IntentPlanning},
		{"no keywords", "what is the weather like today", models.IntentGeneral},
		{"tie resolves to security", "audit the schema migration", models.IntentSecurity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, _ := inferIntent(tokenize(tt.query))
			assert.Equal(t, tt.wantIntent, intent)
		})
	}
}

func TestSelectHint(t *testing.T) {
	r := testRouter()
	decision := r.Select(context.Background(), "anything at all", nil, "db-agent")
	assert.Equal(t, "db-agent", decision.AgentID)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.False(t, decision.Cached)
	assert.Contains(t, decision.Rationale, "pinned")
}

func TestSelectUnknownHintFallsThroughToScoring(t *testing.T) {
	r := testRouter()
	decision := r.Select(context.Background(), "audit security vulnerabilities in the auth token handling", nil, "no-such-agent")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.NotEqual(t, 1.0, decision.Confidence)
}

func TestSelectByKeywords(t *testing.T) {
	r := testRouter()

	decision := r.Select(context.Background(), "audit security vulnerabilities in the auth token handling", nil, "")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.Equal(t, models.IntentSecurity, decision.Intent)
	assert.Contains(t, decision.MatchedKeywords, "security")
	assert.Contains(t, decision.Rationale, "intent=security")
	assert.Greater(t, decision.Confidence, 0.1)

	decision = r.Select(context.Background(), "write a sql migration for the postgres schema and add an index", nil, "")
	assert.Equal(t, "db-agent", decision.AgentID)
	assert.Equal(t, models.IntentDatabase, decision.Intent)
}

func TestSelectDefaultAgentFallback(t *testing.T) {
	r := testRouter()
	decision := r.Select(context.Background(), "zzz qqq xxx yyy www vvv uuu ttt", nil, "")
	assert.Equal(t, "cheap-agent", decision.AgentID)
	assert.Contains(t, decision.Rationale, "default agent")
}

func TestSelectNeverFailsOnEmptyQuery(t *testing.T) {
	r := testRouter()
	decision := r.Select(context.Background(), "", nil, "")
	assert.Equal(t, "cheap-agent", decision.AgentID)
}

func TestCacheHitReturnsIdenticalDecision(t *testing.T) {
	r := testRouter()
	query := "audit security vulnerabilities in the deployment"

	first := r.Select(context.Background(), query, nil, "")
	require.False(t, first.Cached)

	second := r.Select(context.Background(), query, nil, "")
	assert.True(t, second.Cached)
	assert.Equal(t, first.AgentID, second.AgentID)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Intent, second.Intent)
	assert.Equal(t, first.MatchedKeywords, second.MatchedKeywords)
	assert.Equal(t, first.Rationale, second.Rationale)

	stats := r.Stats(context.Background())
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}

func TestCacheKeyNormalizesWhitespaceAndCase(t *testing.T) {
	r := testRouter()
	r.Select(context.Background(), "Audit   Security\tVulnerabilities", nil, "")
	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.True(t, decision.Cached)
}

func TestCacheExpiry(t *testing.T) {
	cache := &memoryCache{entries: make(map[string]memoryCacheEntry), now: time.Now}
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	cfg.CacheTTL = time.Millisecond
	r := New(cfg, testRegistry(), cache, nil, nil)

	r.Select(context.Background(), "audit security vulnerabilities", nil, "")

	// Push the cache clock past the TTL.
	cache.mu.Lock()
	cache.now = func() time.Time { return time.Now().Add(time.Second) }
	cache.mu.Unlock()

	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.False(t, decision.Cached)
}

func TestClearCache(t *testing.T) {
	r := testRouter()
	r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	require.NoError(t, r.ClearCache(context.Background()))

	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.False(t, decision.Cached)

	size, err := r.cache.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestSimpleQueryPrefersCheapAgent(t *testing.T) {
	// One vocabulary keyword: the simple-query profile weights cost at
	// 0.30, which favors the free local agent when keyword evidence is
	// thin and spread across agents.
	registry := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"pricey": {
			Provider: config.ProviderTypeAnthropic, Model: "claude-sonnet-4-20250514",
			CostPerInputToken: 3, CostPerOutputToken: 15,
			IntentAffinities: map[models.Intent]float64{models.IntentDevelopment: 0.3},
		},
		"free": {
			Provider: config.ProviderTypeOllama, Model: "llama3",
			IntentAffinities: map[models.Intent]float64{models.IntentDevelopment: 0.3},
		},
	})
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "pricey"
	r := New(cfg, registry, nil, nil, nil)

	decision := r.Select(context.Background(), "please fix this code for me", nil, "")
	assert.Equal(t, "free", decision.AgentID)
	assert.Equal(t, 1.0, decision.CostScore)
}

func TestSelectReroutesAroundUnreachableAgent(t *testing.T) {
	// Two agents score on sql queries; when the specialist goes
	// unreachable the runner-up must win the rescored pass.
	registry := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"specialist": {
			Provider: config.ProviderTypeAnthropic, Model: "claude-sonnet-4-20250514",
			CostPerInputToken: 3, CostPerOutputToken: 15,
			Skills:           []string{"sql", "schema", "postgres"},
			IntentAffinities: map[models.Intent]float64{models.IntentDatabase: 0.9},
		},
		"generalist": {
			Provider: config.ProviderTypeDeepSeek, Model: "deepseek-chat",
			CostPerInputToken: 0.27, CostPerOutputToken: 1.1,
			Skills:           []string{"sql", "code"},
			IntentAffinities: map[models.Intent]float64{models.IntentDatabase: 0.4},
		},
		"last-resort": {
			Provider: config.ProviderTypeOllama, Model: "llama3",
			Skills: []string{"general"},
		},
	})
	tracker := health.NewTracker()
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "last-resort"
	r := New(cfg, registry, nil, nil, tracker)

	query := "write a sql migration for the postgres schema"
	first := r.Select(context.Background(), query, nil, "")
	require.Equal(t, "specialist", first.AgentID)

	for i := 0; i < 5; i++ {
		tracker.TrackFailure("specialist", fault.KindNetwork)
	}
	require.Equal(t, health.StatusUnreachable, tracker.StatusOf("specialist"))

	// The cached decision names the unreachable specialist and is
	// bypassed; the runner-up wins.
	decision := r.Select(context.Background(), query, nil, "")
	assert.False(t, decision.Cached)
	assert.Equal(t, "generalist", decision.AgentID)

	// With every scoring agent down, the default agent takes over.
	for i := 0; i < 5; i++ {
		tracker.TrackFailure("generalist", fault.KindNetwork)
		tracker.TrackFailure("last-resort", fault.KindNetwork)
	}
	decision = r.Select(context.Background(), query, nil, "")
	assert.Equal(t, "last-resort", decision.AgentID)
	assert.Contains(t, decision.Rationale, "no dispatchable agent")

	// Explicit pins are the caller's call and skip the filter.
	pinned := r.Select(context.Background(), query, nil, "specialist")
	assert.Equal(t, "specialist", pinned.AgentID)
}

type fakeEmbedder struct {
	err   error
	calls int
}

// Embed maps security-flavored texts onto one axis and everything else
// onto an orthogonal one.
func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "security") || strings.Contains(text, "breach") {
			vecs[i] = []float32{1, 0}
		} else {
			vecs[i] = []float32{0, 1}
		}
	}
	return vecs, nil
}

func TestEnableSemantic(t *testing.T) {
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	embedder := &fakeEmbedder{}
	r := New(cfg, testRegistry(), nil, embedder, nil)

	require.True(t, r.EnableSemantic(context.Background()))
	assert.True(t, r.Stats(context.Background()).SemanticEnabled)

	// One-way and idempotent: no second embedding pass.
	require.True(t, r.EnableSemantic(context.Background()))
	assert.Equal(t, 1, embedder.calls)

	// "breach" is not in any skill list; only the semantic axis links it
	// to the security agent.
	decision := r.Select(context.Background(), "investigate the breach", nil, "")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.Equal(t, 1.0, decision.SemanticScore)
}

func TestEnableSemanticFailure(t *testing.T) {
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	r := New(cfg, testRegistry(), nil, &fakeEmbedder{err: errors.New("embedder down")}, nil)

	assert.False(t, r.EnableSemantic(context.Background()))
	assert.False(t, r.Stats(context.Background()).SemanticEnabled)

	// Router still routes.
	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.Zero(t, decision.SemanticScore)
}

func TestEnableSemanticWithoutEmbedder(t *testing.T) {
	r := testRouter()
	assert.False(t, r.EnableSemantic(context.Background()))
}

type flakyEmbedder struct {
	fakeEmbedder
	failAfter int
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls >= f.failAfter {
		f.calls++
		return nil, errors.New("embedder unavailable")
	}
	return f.fakeEmbedder.Embed(ctx, texts)
}

func TestEmbedderFailureMidFlightScoresZero(t *testing.T) {
	cfg := config.DefaultRouterConfig()
	cfg.DefaultAgent = "cheap-agent"
	embedder := &flakyEmbedder{failAfter: 1}
	r := New(cfg, testRegistry(), nil, embedder, nil)

	require.True(t, r.EnableSemantic(context.Background()))

	// The per-query embed now fails; keyword routing still works.
	decision := r.Select(context.Background(), "audit security vulnerabilities", nil, "")
	assert.Equal(t, "sec-agent", decision.AgentID)
	assert.Zero(t, decision.SemanticScore)
}

func TestStats(t *testing.T) {
	r := testRouter()
	r.Select(context.Background(), "audit security vulnerabilities now", nil, "")
	r.Select(context.Background(), "write a sql migration for the postgres schema", nil, "")
	r.Select(context.Background(), "audit security vulnerabilities now", nil, "")

	stats := r.Stats(context.Background())
	assert.Equal(t, int64(2), stats.RoutedByAgent["sec-agent"])
	assert.Equal(t, int64(1), stats.RoutedByAgent["db-agent"])
	assert.Equal(t, 2, stats.CacheSize)
	assert.Greater(t, stats.EstimatedCostUSD, 0.0)
}

func TestSessionContextInformsIntent(t *testing.T) {
	r := testRouter()
	history := []models.ConversationMessage{
		{Role: models.RoleUser, Content: "we are hardening the security posture"},
		{Role: models.RoleAssistant, Content: "understood"},
	}
	decision := r.Select(context.Background(), "audit and continue with the next item", history, "")
	assert.Equal(t, models.IntentSecurity, decision.Intent)
}
