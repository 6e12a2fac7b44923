package models

// MaxContentBytes is the upper bound on request content size.
const MaxContentBytes = 64 * 1024

// DefaultProject is used when a request carries no project tag.
const DefaultProject = "default"

// ChatRequest is the structured value handed to the core by the transport.
type ChatRequest struct {
	Content         string `json:"content"`
	AgentID         string `json:"agent_id,omitempty"`
	SessionKey      string `json:"session_key,omitempty"`
	ProjectID       string `json:"project_id,omitempty"`
	IncludeAttempts bool   `json:"include_attempts,omitempty"`
}

// ChatResponse is the structured value the core returns on success.
type ChatResponse struct {
	Response string           `json:"response"`
	Agent    string           `json:"agent"`
	Tokens   int              `json:"tokens"`
	CostUSD  float64          `json:"cost_usd"` // rendered at 6 decimal places
	Routing  *RoutingDecision `json:"routing,omitempty"`
	Attempts []string         `json:"attempts,omitempty"` // one line per CallAttempt
}
