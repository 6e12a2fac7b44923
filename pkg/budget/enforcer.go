package budget

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

// Verdict is the outcome of a budget preflight.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictWarning  Verdict = "warning"
	VerdictRejected Verdict = "rejected"
)

// Decision is the answer to a CheckBudget call. Remaining values are
// computed against the hard limits before the estimated spend is applied.
type Decision struct {
	Verdict             Verdict `json:"verdict"`
	Reason              string  `json:"reason,omitempty"`
	EstimatedCostUSD    float64 `json:"estimated_cost_usd"`
	RemainingDailyUSD   float64 `json:"remaining_daily_usd"`
	RemainingMonthlyUSD float64 `json:"remaining_monthly_usd"`
}

// Approved reports whether the caller may proceed with the dispatch.
func (d *Decision) Approved() bool {
	return d.Verdict != VerdictRejected
}

// Notifier receives asynchronous warning-threshold notifications.
// NotifyWarning must not block for long; it is invoked on its own
// goroutine per event.
type Notifier interface {
	NotifyWarning(project, tier string, spentUSD, limitUSD float64)
}

type projectCounters struct {
	daily   map[string]float64 // keyed by UTC YYYY-MM-DD
	monthly map[string]float64 // keyed by UTC YYYY-MM
}

// Enforcer maintains per-project rolling spend counters against the
// configured tiers and appends every recorded cost to the ledger. The
// counters are rebuilt from ledger replay at startup, making the ledger
// the durable source of truth.
type Enforcer struct {
	cfg      *config.BudgetConfig
	agents   *config.AgentRegistry
	ledger   *Ledger
	notifier Notifier

	projects map[string]*projectCounters
	mu       sync.Mutex
	now      func() time.Time
}

// NewEnforcer opens the ledger, replays it to rebuild current-period
// counters, and returns a ready enforcer. notifier may be nil.
func NewEnforcer(cfg *config.BudgetConfig, agents *config.AgentRegistry, notifier Notifier) (*Enforcer, error) {
	ledger, err := OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}

	e := &Enforcer{
		cfg:      cfg,
		agents:   agents,
		ledger:   ledger,
		notifier: notifier,
		projects: make(map[string]*projectCounters),
		now:      time.Now,
	}

	events, err := Replay(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	for i := range events {
		e.addSpend(events[i].Project, events[i].Timestamp, events[i].CostUSD)
	}
	slog.Info("Budget enforcer initialized",
		"ledger", cfg.LedgerPath,
		"replayed_events", len(events),
		"projects", len(e.projects))
	return e, nil
}

// Close releases the ledger file handle.
func (e *Enforcer) Close() error {
	return e.ledger.Close()
}

// EstimateTokens produces a pre-call token estimate for a prompt when
// actual counts are unknown: the word count, split evenly between input
// and output.
func EstimateTokens(prompt string) (estInput, estOutput int) {
	words := len(strings.Fields(prompt))
	return words, words
}

// CheckBudget runs the synchronous preflight for a prospective call.
// Rejection happens when the estimate would push any tier past its hard
// limit; crossing a warning threshold approves the call but fires the
// notifier asynchronously.
func (e *Enforcer) CheckBudget(project, agentID, model string, estInputTokens, estOutputTokens int) (*Decision, error) {
	agent, err := e.agents.Get(agentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "cannot check budget for unknown agent %q", agentID)
	}
	estCost := models.Cost(estInputTokens, estOutputTokens, agent.CostPerInputToken, agent.CostPerOutputToken)
	perTask, daily, monthly := e.cfg.TiersFor(project)

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now().UTC()
	daySpent, monthSpent := e.currentSpend(project, ts)

	decision := &Decision{
		Verdict:             VerdictApproved,
		EstimatedCostUSD:    estCost,
		RemainingDailyUSD:   daily.LimitUSD - daySpent,
		RemainingMonthlyUSD: monthly.LimitUSD - monthSpent,
	}

	switch {
	case estCost > perTask.LimitUSD:
		decision.Verdict = VerdictRejected
		decision.Reason = rejection("per-task", estCost, perTask.LimitUSD)
	case daySpent+estCost > daily.LimitUSD:
		decision.Verdict = VerdictRejected
		decision.Reason = rejection("daily", daySpent+estCost, daily.LimitUSD)
	case monthSpent+estCost > monthly.LimitUSD:
		decision.Verdict = VerdictRejected
		decision.Reason = rejection("monthly", monthSpent+estCost, monthly.LimitUSD)
	}
	if decision.Verdict == VerdictRejected {
		slog.Warn("Budget preflight rejected",
			"project", project,
			"agent", agentID,
			"estimated_cost_usd", estCost,
			"reason", decision.Reason)
		return decision, nil
	}

	if estCost > perTask.WarnUSD {
		e.warn(project, "per-task", estCost, perTask.LimitUSD, decision)
	}
	if daySpent+estCost > daily.WarnUSD {
		e.warn(project, "daily", daySpent+estCost, daily.LimitUSD, decision)
	}
	if monthSpent+estCost > monthly.WarnUSD {
		e.warn(project, "monthly", monthSpent+estCost, monthly.LimitUSD, decision)
	}
	return decision, nil
}

// RecordCost computes the true cost from actual token counts, appends it
// to the ledger, and bumps the project counters. Returns the USD cost.
func (e *Enforcer) RecordCost(project, agentID, model string, inputTokens, outputTokens int, operation models.Operation, metadata map[string]any) (float64, error) {
	agent, err := e.agents.Get(agentID)
	if err != nil {
		return 0, fault.Wrap(fault.KindValidation, err, "cannot record cost for unknown agent %q", agentID)
	}
	cost := models.Cost(inputTokens, outputTokens, agent.CostPerInputToken, agent.CostPerOutputToken)

	event := &models.CostEvent{
		Project:      project,
		AgentID:      agentID,
		Model:        model,
		TokensInput:  inputTokens,
		TokensOutput: outputTokens,
		CostUSD:      cost,
		Operation:    operation,
		Metadata:     metadata,
	}
	if err := e.ledger.Append(event); err != nil {
		return 0, fault.Wrap(fault.KindInternal, err, "failed to record cost event")
	}

	e.mu.Lock()
	e.addSpend(project, event.Timestamp, cost)
	e.mu.Unlock()
	return cost, nil
}

// currentSpend reads the counters for the period containing ts. Caller
// must hold e.mu.
func (e *Enforcer) currentSpend(project string, ts time.Time) (day, month float64) {
	counters, exists := e.projects[project]
	if !exists {
		return 0, 0
	}
	return counters.daily[dayKey(ts)], counters.monthly[monthKey(ts)]
}

// addSpend bumps the counters for the period containing ts. Old period
// keys are retained for audit. Caller must hold e.mu.
func (e *Enforcer) addSpend(project string, ts time.Time, cost float64) {
	counters, exists := e.projects[project]
	if !exists {
		counters = &projectCounters{
			daily:   make(map[string]float64),
			monthly: make(map[string]float64),
		}
		e.projects[project] = counters
	}
	counters.daily[dayKey(ts)] += cost
	counters.monthly[monthKey(ts)] += cost
}

func (e *Enforcer) warn(project, tier string, spent, limit float64, decision *Decision) {
	if decision.Verdict == VerdictApproved {
		decision.Verdict = VerdictWarning
		decision.Reason = tier + " spend approaching limit"
	}
	if e.notifier != nil {
		go e.notifier.NotifyWarning(project, tier, spent, limit)
	}
}

func rejection(tier string, wouldSpend, limit float64) string {
	return tier + " budget exceeded: would spend " + formatUSD(wouldSpend) + " of " + formatUSD(limit)
}

func dayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func monthKey(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}
