package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/steward-ai/steward/pkg/fault"
)

// Status is the derived health classification of an agent.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
)

// IsValid checks if the status is one of the known set.
func (s Status) IsValid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusUnhealthy, StatusUnreachable:
		return true
	default:
		return false
	}
}

// Dispatchable reports whether the dispatcher should still send work to
// an agent in this state. Unhealthy and unreachable agents are skipped
// unless the caller forces them.
func (s Status) Dispatchable() bool {
	return s == StatusHealthy || s == StatusDegraded
}

// AgentHealth is a point-in-time snapshot of one agent's runtime metrics.
type AgentHealth struct {
	AgentID             string             `json:"agent_id"`
	TotalRequests       int64              `json:"total_requests"`
	TotalFailures       int64              `json:"total_failures"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	FailuresByKind      map[fault.Kind]int `json:"failures_by_kind,omitempty"`
	LastSuccess         time.Time          `json:"last_success,omitzero"`
	LastFailure         time.Time          `json:"last_failure,omitzero"`
	SuccessRate         float64            `json:"success_rate"`
	Status              Status             `json:"status"`
}

type agentRecord struct {
	totalRequests       int64
	totalFailures       int64
	consecutiveFailures int
	failuresByKind      map[fault.Kind]int
	lastSuccess         time.Time
	lastFailure         time.Time
}

func (r *agentRecord) successRate() float64 {
	if r.totalRequests == 0 {
		return 1.0
	}
	return 1.0 - float64(r.totalFailures)/float64(r.totalRequests)
}

// status derives the classification from the raw counters. Checks run
// from worst to best so overlapping conditions resolve to the most
// severe state.
func (r *agentRecord) status() Status {
	rate := r.successRate()
	switch {
	case r.consecutiveFailures >= 5:
		return StatusUnreachable
	case r.consecutiveFailures >= 3 || rate < 0.5:
		return StatusUnhealthy
	case r.consecutiveFailures >= 1 || rate < 0.9:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Tracker maintains per-agent success/failure counters and derives
// health status on read. Agents are created lazily on first track call;
// an agent never seen is healthy.
type Tracker struct {
	agents map[string]*agentRecord
	mu     sync.Mutex
	now    func() time.Time
}

// NewTracker creates an empty health tracker.
func NewTracker() *Tracker {
	return &Tracker{
		agents: make(map[string]*agentRecord),
		now:    time.Now,
	}
}

// TrackSuccess records a successful call. Consecutive failures reset to
// zero; nothing else resets them.
func (t *Tracker) TrackSuccess(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.record(agentID)
	record.totalRequests++
	record.consecutiveFailures = 0
	record.lastSuccess = t.now()
}

// TrackFailure records a failed call with its fault kind.
func (t *Tracker) TrackFailure(agentID string, kind fault.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record := t.record(agentID)
	record.totalRequests++
	record.totalFailures++
	record.consecutiveFailures++
	record.failuresByKind[kind]++
	record.lastFailure = t.now()

	status := record.status()
	if !status.Dispatchable() {
		slog.Warn("Agent health degraded below dispatchable",
			"agent", agentID,
			"status", status,
			"consecutive_failures", record.consecutiveFailures,
			"success_rate", record.successRate())
	}
}

// StatusOf returns the derived status for an agent. Unknown agents are
// healthy.
func (t *Tracker) StatusOf(agentID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.agents[agentID]
	if !exists {
		return StatusHealthy
	}
	return record.status()
}

// FilterHealthy returns the subset of agentIDs that are still
// dispatchable, preserving input order.
func (t *Tracker) FilterHealthy(agentIDs []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		record, exists := t.agents[id]
		if !exists || record.status().Dispatchable() {
			result = append(result, id)
		}
	}
	return result
}

// Snapshot returns the current metrics for one agent.
func (t *Tracker) Snapshot(agentID string) AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, exists := t.agents[agentID]
	if !exists {
		return AgentHealth{AgentID: agentID, SuccessRate: 1.0, Status: StatusHealthy}
	}
	return record.snapshot(agentID)
}

// Summary returns metrics for every agent the tracker has seen, keyed by
// agent ID.
func (t *Tracker) Summary() map[string]AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make(map[string]AgentHealth, len(t.agents))
	for id, record := range t.agents {
		result[id] = record.snapshot(id)
	}
	return result
}

func (r *agentRecord) snapshot(agentID string) AgentHealth {
	byKind := make(map[fault.Kind]int, len(r.failuresByKind))
	for kind, count := range r.failuresByKind {
		byKind[kind] = count
	}
	return AgentHealth{
		AgentID:             agentID,
		TotalRequests:       r.totalRequests,
		TotalFailures:       r.totalFailures,
		ConsecutiveFailures: r.consecutiveFailures,
		FailuresByKind:      byKind,
		LastSuccess:         r.lastSuccess,
		LastFailure:         r.lastFailure,
		SuccessRate:         r.successRate(),
		Status:              r.status(),
	}
}

// record returns the entry for agentID, creating it if needed. Caller
// must hold t.mu.
func (t *Tracker) record(agentID string) *agentRecord {
	record, exists := t.agents[agentID]
	if !exists {
		record = &agentRecord{failuresByKind: make(map[fault.Kind]int)}
		t.agents[agentID] = record
	}
	return record
}
