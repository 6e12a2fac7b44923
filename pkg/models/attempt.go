package models

import (
	"fmt"
	"time"
)

// AttemptOutcome is either "success" or one of the fault kinds.
type AttemptOutcome string

// OutcomeSuccess marks an attempt that returned a textual response.
const OutcomeSuccess AttemptOutcome = "success"

// OutcomeSkipped marks an agent skipped pre-call by the health filter.
const OutcomeSkipped AttemptOutcome = "skipped_unhealthy"

// CallAttempt records a single provider invocation made by the dispatcher.
type CallAttempt struct {
	AgentID      string         `json:"agent_id"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"` // zero if the attempt failed
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Outcome      AttemptOutcome `json:"outcome"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
}

// Summary renders a one-line human summary for the response attempts list.
func (a CallAttempt) Summary() string {
	if a.Outcome == OutcomeSuccess {
		return fmt.Sprintf("%s (%s/%s): success, %d in / %d out tokens, %s",
			a.AgentID, a.Provider, a.Model, a.InputTokens, a.OutputTokens, a.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s (%s/%s): %s after %s: %s",
		a.AgentID, a.Provider, a.Model, a.Outcome, a.Duration.Round(time.Millisecond), a.ErrorDetail)
}
