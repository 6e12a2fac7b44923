package models

import "time"

// Intent is the coarse classification of a query used by the router.
// Derived per call, never persisted.
type Intent string

const (
	IntentSecurity    Intent = "security"
	IntentDevelopment Intent = "development"
	IntentDatabase    Intent = "database"
	IntentPlanning    Intent = "planning"
	IntentGeneral     Intent = "general"
)

// IsValid checks if the intent is one of the known set.
func (i Intent) IsValid() bool {
	switch i {
	case IntentSecurity, IntentDevelopment, IntentDatabase, IntentPlanning, IntentGeneral:
		return true
	default:
		return false
	}
}

// RoutingDecision is the router's output: exactly one selected agent plus
// the factors that decided. A decision served from cache is byte-identical
// to the original in all non-timestamp fields, with Cached set.
type RoutingDecision struct {
	AgentID         string    `json:"agent_id"`
	Confidence      float64   `json:"confidence"`
	Intent          Intent    `json:"intent"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	CostScore       float64   `json:"cost_score"`     // higher = cheaper
	SemanticScore   float64   `json:"semantic_score"` // 0 when semantic analysis is unavailable
	Cached          bool      `json:"cached"`
	Rationale       string    `json:"rationale"`
	DecidedAt       time.Time `json:"decided_at"`
}

// RouterStats is a snapshot of the router's counters.
type RouterStats struct {
	CacheSize        int              `json:"cache_size"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	RoutedByAgent    map[string]int64 `json:"routed_by_agent"`
	SemanticEnabled  bool             `json:"semantic_enabled"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
}
