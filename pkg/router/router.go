package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/models"
)

// Score weights. The semantic weight redistributes to keywords when the
// semantic scorer is disabled; simple queries (two or fewer intent
// keyword matches) shift weight toward cost.
const (
	weightKeyword  = 0.60
	weightSemantic = 0.25
	weightCost     = 0.15

	weightKeywordNoSemantic = 0.85
	weightCostNoSemantic    = 0.15

	simpleQueryKeywordMax = 2

	weightKeywordSimple  = 0.50
	weightSemanticSimple = 0.20
	weightCostSimple     = 0.30

	weightKeywordSimpleNoSemantic = 0.70
	weightCostSimpleNoSemantic    = 0.30
)

// nominal token count used for the per-agent estimated-cost summary in
// Stats; routing happens before real token counts exist.
const statsNominalTokens = 1000

// HealthView reports which agents can still take work. A nil view
// treats every agent as dispatchable.
type HealthView interface {
	FilterHealthy(agentIDs []string) []string
}

// Router selects exactly one agent for a query. Select never fails: a
// broken cache falls through to computation, a broken embedder scores
// semantics as zero, and a below-threshold best score falls back to the
// configured default agent.
type Router struct {
	cfg      *config.RouterConfig
	agents   *config.AgentRegistry
	cache    DecisionCache
	embedder Embedder
	health   HealthView

	semanticOn atomic.Bool
	phrases    map[string][][]float32
	phrasesMu  sync.RWMutex

	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	routedByAgent map[string]int64
	statsMu       sync.Mutex

	now func() time.Time
}

// New creates a router over the given agent registry. A nil cache gets
// the in-process backend; a nil embedder leaves semantic scoring
// permanently unavailable; a nil health view scores every agent.
func New(cfg *config.RouterConfig, agents *config.AgentRegistry, cache DecisionCache, embedder Embedder, healthView HealthView) *Router {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Router{
		cfg:           cfg,
		agents:        agents,
		cache:         cache,
		embedder:      embedder,
		health:        healthView,
		routedByAgent: make(map[string]int64),
		now:           time.Now,
	}
}

// Select routes a query to one agent. A known hint short-circuits
// scoring with confidence 1.0; hinted decisions bypass both the cache
// and health filtering (the dispatcher's fallback chain still applies).
func (r *Router) Select(ctx context.Context, query string, sessionContext []models.ConversationMessage, hint string) models.RoutingDecision {
	if hint != "" && r.agents.Has(hint) {
		tokens := tokenize(query)
		intent, _ := inferIntent(tokens)
		decision := models.RoutingDecision{
			AgentID:    hint,
			Confidence: 1.0,
			Intent:     intent,
			Rationale:  fmt.Sprintf("caller pinned agent %q", hint),
			DecidedAt:  r.now(),
		}
		r.recordRouted(hint)
		return decision
	}

	key := r.cacheKey(query)
	if cached, hit, err := r.cache.Get(ctx, key); err != nil {
		slog.Debug("Decision cache read failed, computing", "error", err)
	} else if hit && r.dispatchable(cached.AgentID) {
		// A cached decision naming an agent that has since gone
		// undispatchable is skipped and rescored.
		r.cacheHits.Add(1)
		r.recordRouted(cached.AgentID)
		result := *cached
		result.Cached = true
		return result
	}
	r.cacheMisses.Add(1)

	decision := r.compute(ctx, query, sessionContext)
	if err := r.cache.Set(ctx, key, &decision, r.cfg.CacheTTL); err != nil {
		slog.Debug("Decision cache write failed", "error", err)
	}
	r.recordRouted(decision.AgentID)
	return decision
}

type agentScore struct {
	id              string
	total           float64
	keywordScore    float64
	semanticScore   float64
	costScore       float64
	costPerToken    float64
	matchedKeywords []string
}

func (r *Router) compute(ctx context.Context, query string, sessionContext []models.ConversationMessage) models.RoutingDecision {
	tokens := tokenize(query)
	intentTokens := tokens
	for _, msg := range recentUserMessages(sessionContext, 2) {
		intentTokens = append(intentTokens, tokenize(msg)...)
	}
	intent, intentMatches := inferIntent(intentTokens)
	simple := len(intentMatches) <= simpleQueryKeywordMax

	agents := r.healthyCandidates()
	if len(agents) == 0 {
		return models.RoutingDecision{
			AgentID:   r.cfg.DefaultAgent,
			Intent:    intent,
			Rationale: "no dispatchable agent available, using default agent",
			DecidedAt: r.now(),
		}
	}
	minCost, maxCost := costRange(agents)

	var queryVec []float32
	semanticActive := false
	if r.semanticOn.Load() {
		vecs, err := r.embedder.Embed(ctx, []string{normalizeQuery(query)})
		if err != nil || len(vecs) != 1 {
			slog.Warn("Embedder failed, scoring without semantics", "error", err)
		} else {
			queryVec = vecs[0]
			semanticActive = true
		}
	}

	scores := make([]agentScore, 0, len(agents))
	for id, agent := range agents {
		score := agentScore{id: id, costPerToken: agent.CostPerToken()}
		score.keywordScore, score.matchedKeywords = keywordScore(tokens, agent, intent, intentMatches)
		score.costScore = costScore(score.costPerToken, minCost, maxCost)
		if semanticActive {
			score.semanticScore = r.semanticScore(id, queryVec)
		}
		score.total = combine(score, semanticActive, simple)
		scores = append(scores, score)
	}

	// Highest total wins; ties go to the cheaper agent, then the
	// lexicographically lower id.
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].total != scores[j].total {
			return scores[i].total > scores[j].total
		}
		if scores[i].costPerToken != scores[j].costPerToken {
			return scores[i].costPerToken < scores[j].costPerToken
		}
		return scores[i].id < scores[j].id
	})

	// The cheapest agent always carries a nonzero cost score, so the
	// threshold alone cannot catch queries nothing matched; zero keyword
	// and semantic evidence falls back regardless of the cost term.
	best := scores[0]
	if best.total < r.cfg.MinScore || (best.keywordScore == 0 && best.semanticScore == 0) {
		return r.fallbackDecision(scores, intent, best.total)
	}

	return models.RoutingDecision{
		AgentID:         best.id,
		Confidence:      best.total,
		Intent:          intent,
		MatchedKeywords: best.matchedKeywords,
		CostScore:       best.costScore,
		SemanticScore:   best.semanticScore,
		Rationale: fmt.Sprintf("intent=%s keyword=%.2f semantic=%.2f cost=%.2f",
			intent, best.keywordScore, best.semanticScore, best.costScore),
		DecidedAt: r.now(),
	}
}

// healthyCandidates returns the scoring candidates with undispatchable
// agents excluded. An empty map means nothing can take work right now.
func (r *Router) healthyCandidates() map[string]*config.AgentConfig {
	agents := r.agents.GetAll()
	if r.health == nil {
		return agents
	}
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	healthy := r.health.FilterHealthy(ids)
	if len(healthy) == len(ids) {
		return agents
	}
	candidates := make(map[string]*config.AgentConfig, len(healthy))
	for _, id := range healthy {
		candidates[id] = agents[id]
	}
	return candidates
}

func (r *Router) dispatchable(agentID string) bool {
	if r.health == nil {
		return true
	}
	return len(r.health.FilterHealthy([]string{agentID})) == 1
}

func (r *Router) fallbackDecision(scores []agentScore, intent models.Intent, bestScore float64) models.RoutingDecision {
	decision := models.RoutingDecision{
		AgentID:    r.cfg.DefaultAgent,
		Confidence: bestScore,
		Intent:     intent,
		Rationale: fmt.Sprintf("no agent scored above %.2f (best %.2f), using default agent",
			r.cfg.MinScore, bestScore),
		DecidedAt: r.now(),
	}
	for _, score := range scores {
		if score.id == r.cfg.DefaultAgent {
			decision.CostScore = score.costScore
			decision.SemanticScore = score.semanticScore
			break
		}
	}
	return decision
}

// keywordScore is the fraction of query tokens matching the agent's
// skill tags, plus the intent-vocabulary matches weighted by the agent's
// affinity for the inferred intent, clamped to [0,1].
func keywordScore(tokens []string, agent *config.AgentConfig, intent models.Intent, intentMatches []string) (float64, []string) {
	if len(tokens) == 0 {
		return 0, nil
	}

	skills := make(map[string]struct{}, len(agent.Skills))
	for _, skill := range agent.Skills {
		skills[strings.ToLower(skill)] = struct{}{}
	}

	var matched []string
	seen := make(map[string]struct{})
	for _, token := range tokens {
		if _, ok := skills[token]; !ok {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		matched = append(matched, token)
	}

	affinity := agent.IntentAffinities[intent]
	score := (float64(len(matched)) + affinity*float64(len(intentMatches))) / float64(len(tokens))
	if score > 1 {
		score = 1
	}

	for _, token := range intentMatches {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		matched = append(matched, token)
	}
	return score, matched
}

// costRange returns the minimum and maximum per-token cost across the
// candidate agents. The caller guarantees the map is nonempty.
func costRange(agents map[string]*config.AgentConfig) (minCost, maxCost float64) {
	first := true
	for _, agent := range agents {
		cost := agent.CostPerToken()
		if first {
			minCost, maxCost = cost, cost
			first = false
			continue
		}
		if cost < minCost {
			minCost = cost
		}
		if cost > maxCost {
			maxCost = cost
		}
	}
	return minCost, maxCost
}

func costScore(costPerToken, minCost, maxCost float64) float64 {
	if maxCost <= minCost {
		return 1.0
	}
	return 1.0 - (costPerToken-minCost)/(maxCost-minCost)
}

func combine(score agentScore, semanticActive, simple bool) float64 {
	switch {
	case semanticActive && simple:
		return weightKeywordSimple*score.keywordScore +
			weightSemanticSimple*score.semanticScore +
			weightCostSimple*score.costScore
	case semanticActive:
		return weightKeyword*score.keywordScore +
			weightSemantic*score.semanticScore +
			weightCost*score.costScore
	case simple:
		return weightKeywordSimpleNoSemantic*score.keywordScore +
			weightCostSimpleNoSemantic*score.costScore
	default:
		return weightKeywordNoSemantic*score.keywordScore +
			weightCostNoSemantic*score.costScore
	}
}

func (r *Router) semanticScore(agentID string, queryVec []float32) float64 {
	r.phrasesMu.RLock()
	defer r.phrasesMu.RUnlock()

	best := 0.0
	for _, phraseVec := range r.phrases[agentID] {
		if sim := cosine(queryVec, phraseVec); sim > best {
			best = sim
		}
	}
	return best
}

// EnableSemantic precomputes per-agent phrase embeddings and switches
// semantic scoring on. The transition is one-way; repeat calls after a
// successful activation return true immediately. Any embedder failure
// leaves semantics off and returns false.
func (r *Router) EnableSemantic(ctx context.Context) bool {
	if r.semanticOn.Load() {
		return true
	}
	if r.embedder == nil {
		slog.Warn("Semantic routing requested but no embedder is configured")
		return false
	}

	type phraseRef struct {
		agentID string
		index   int
	}
	var texts []string
	var refs []phraseRef
	counts := make(map[string]int)
	for id, agent := range r.agents.GetAll() {
		for _, phrase := range agentPhrases(agent) {
			refs = append(refs, phraseRef{agentID: id, index: counts[id]})
			counts[id]++
			texts = append(texts, phrase)
		}
	}
	if len(texts) == 0 {
		slog.Warn("No agent phrases to embed, semantic routing unavailable")
		return false
	}

	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("Failed to precompute agent embeddings", "error", err)
		return false
	}

	phrases := make(map[string][][]float32, len(counts))
	for id, count := range counts {
		phrases[id] = make([][]float32, count)
	}
	for i, ref := range refs {
		phrases[ref.agentID][ref.index] = vecs[i]
	}

	r.phrasesMu.Lock()
	r.phrases = phrases
	r.phrasesMu.Unlock()
	r.semanticOn.Store(true)
	slog.Info("Semantic routing enabled", "agents", len(phrases), "phrases", len(texts))
	return true
}

// agentPhrases builds the representative texts embedded per agent: one
// per skill tag plus one per nonzero intent affinity.
func agentPhrases(agent *config.AgentConfig) []string {
	phrases := make([]string, 0, len(agent.Skills)+len(agent.IntentAffinities))
	for _, skill := range agent.Skills {
		phrases = append(phrases, fmt.Sprintf("help with %s", skill))
	}
	intents := make([]string, 0, len(agent.IntentAffinities))
	for intent, affinity := range agent.IntentAffinities {
		if affinity > 0 {
			intents = append(intents, string(intent))
		}
	}
	sort.Strings(intents)
	for _, intent := range intents {
		phrases = append(phrases, fmt.Sprintf("questions about %s work", intent))
	}
	return phrases
}

// ClearCache drops every cached decision.
func (r *Router) ClearCache(ctx context.Context) error {
	return r.cache.Clear(ctx)
}

// Stats returns a snapshot of the router's counters. The estimated cost
// assumes a nominal token count per routed request.
func (r *Router) Stats(ctx context.Context) models.RouterStats {
	size, err := r.cache.Len(ctx)
	if err != nil {
		slog.Debug("Decision cache size read failed", "error", err)
	}

	r.statsMu.Lock()
	routed := make(map[string]int64, len(r.routedByAgent))
	for id, count := range r.routedByAgent {
		routed[id] = count
	}
	r.statsMu.Unlock()

	estimated := 0.0
	for id, count := range routed {
		if agent, err := r.agents.Get(id); err == nil {
			estimated += float64(count) * agent.CostPerToken() * statsNominalTokens / 1_000_000
		}
	}

	return models.RouterStats{
		CacheSize:        size,
		CacheHits:        r.cacheHits.Load(),
		CacheMisses:      r.cacheMisses.Load(),
		RoutedByAgent:    routed,
		SemanticEnabled:  r.semanticOn.Load(),
		EstimatedCostUSD: estimated,
	}
}

func (r *Router) recordRouted(agentID string) {
	r.statsMu.Lock()
	r.routedByAgent[agentID]++
	r.statsMu.Unlock()
}

// cacheKey hashes the normalized query together with the agent-set
// version so a config change invalidates every stale decision.
func (r *Router) cacheKey(query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query) + "\n" + r.agents.SetVersion()))
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func recentUserMessages(messages []models.ConversationMessage, n int) []string {
	var result []string
	for i := len(messages) - 1; i >= 0 && len(result) < n; i-- {
		if messages[i].Role == models.RoleUser {
			result = append(result, messages[i].Content)
		}
	}
	return result
}
