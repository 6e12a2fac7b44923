package budget

import (
	"fmt"
	"time"
)

// SummaryFilter narrows a Summary query. Zero values match everything.
type SummaryFilter struct {
	Project string
	AgentID string
	Model   string
	Since   time.Time
	Until   time.Time
}

// Summary is the rolling-totals view over the cost ledger.
type Summary struct {
	TotalUSD   float64            `json:"total_usd"`
	Events     int                `json:"events"`
	ByProject  map[string]float64 `json:"by_project"`
	ByAgent    map[string]float64 `json:"by_agent"`
	ByModel    map[string]float64 `json:"by_model"`
	ByDay      map[string]float64 `json:"by_day"`
	FirstEvent time.Time          `json:"first_event,omitzero"`
	LastEvent  time.Time          `json:"last_event,omitzero"`
}

// Summary replays the ledger and aggregates matching events. Reading the
// file rather than in-memory counters keeps the answer consistent with
// what an auditor would compute from the ledger alone.
func (e *Enforcer) Summary(filter SummaryFilter) (*Summary, error) {
	events, err := Replay(e.ledger.Path())
	if err != nil {
		return nil, err
	}

	result := &Summary{
		ByProject: make(map[string]float64),
		ByAgent:   make(map[string]float64),
		ByModel:   make(map[string]float64),
		ByDay:     make(map[string]float64),
	}
	for i := range events {
		event := &events[i]
		if filter.Project != "" && event.Project != filter.Project {
			continue
		}
		if filter.AgentID != "" && event.AgentID != filter.AgentID {
			continue
		}
		if filter.Model != "" && event.Model != filter.Model {
			continue
		}
		if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && event.Timestamp.After(filter.Until) {
			continue
		}

		result.TotalUSD += event.CostUSD
		result.Events++
		result.ByProject[event.Project] += event.CostUSD
		result.ByAgent[event.AgentID] += event.CostUSD
		result.ByModel[event.Model] += event.CostUSD
		result.ByDay[dayKey(event.Timestamp)] += event.CostUSD
		if result.FirstEvent.IsZero() {
			result.FirstEvent = event.Timestamp
		}
		result.LastEvent = event.Timestamp
	}
	return result, nil
}

func formatUSD(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}
