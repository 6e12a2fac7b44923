package services

import (
	"context"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
	"github.com/steward-ai/steward/pkg/orchestrate"
)

// PlanRequest asks for a decomposed request to be executed as a task DAG
// and synthesized into one answer.
type PlanRequest struct {
	Request    string         `json:"request"`
	ProjectID  string         `json:"project_id,omitempty"`
	SessionKey string         `json:"session_key,omitempty"`
	Tasks      []*models.Task `json:"tasks"`
}

// PlanResponse carries the synthesized answer plus the terminal state of
// every task and any recorded conflict overrides.
type PlanResponse struct {
	Response    string                         `json:"response"`
	Agent       string                         `json:"agent"`
	CostUSD     float64                        `json:"cost_usd"`
	Tasks       []*models.Task                 `json:"tasks"`
	Overrides   []orchestrate.ConflictOverride `json:"overrides,omitempty"`
	FailedTasks []string                       `json:"failed_tasks,omitempty"`
}

// ExecutePlan validates and runs a task DAG through the orchestrator.
func (s *ChatService) ExecutePlan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	if req.Request == "" {
		return nil, fault.New(fault.KindValidation, "request is required")
	}
	if len(req.Request) > models.MaxContentBytes {
		return nil, fault.New(fault.KindValidation, "request exceeds %d bytes", models.MaxContentBytes)
	}
	plan, err := orchestrate.NewPlan(req.Tasks)
	if err != nil {
		return nil, err
	}

	outcome, err := s.orchestrator.Execute(ctx, plan, &orchestrate.Coordination{
		Request:        req.Request,
		Project:        req.ProjectID,
		SessionContext: s.history(req.SessionKey),
	})
	if err != nil {
		return nil, err
	}

	s.persistExchange(req.SessionKey, req.Request, outcome.Response)

	return &PlanResponse{
		Response:    outcome.Response,
		Agent:       outcome.SynthesisAgent,
		CostUSD:     roundUSD(outcome.CostUSD),
		Tasks:       outcome.Tasks,
		Overrides:   outcome.Overrides,
		FailedTasks: outcome.FailedTasks,
	}, nil
}
