package models

import "time"

// Operation tags a cost event with what the tokens were spent on.
type Operation string

const (
	OperationChat         Operation = "chat"
	OperationDelegation   Operation = "delegation"
	OperationWorkflowStep Operation = "workflow_step"
	OperationSynthesis    Operation = "synthesis"
)

// CostEvent is one append-only ledger record. Events are never mutated;
// the persisted NDJSON keys are stable and readers must tolerate unknown
// keys.
type CostEvent struct {
	Project      string         `json:"project"`
	AgentID      string         `json:"agent"`
	Model        string         `json:"model"`
	TokensInput  int            `json:"tokens_input"`
	TokensOutput int            `json:"tokens_output"`
	CostUSD      float64        `json:"cost"`
	Timestamp    time.Time      `json:"timestamp"` // ISO-8601 UTC, strictly monotonic per process
	Operation    Operation      `json:"operation,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Cost computes USD cost for token counts against per-million-token rates.
func Cost(inputTokens, outputTokens int, inputRate, outputRate float64) float64 {
	return (float64(inputTokens)*inputRate + float64(outputTokens)*outputRate) / 1_000_000
}
