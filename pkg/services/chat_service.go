// Package services composes the routing, dispatch, budget, session, and
// orchestration layers into the operations the transport exposes.
package services

import (
	"context"
	"log/slog"
	"math"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/dispatch"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
	"github.com/steward-ai/steward/pkg/orchestrate"
	"github.com/steward-ai/steward/pkg/router"
	"github.com/steward-ai/steward/pkg/session"
)

// ChatService runs the request pipeline: validate, load session context,
// route, budget preflight, dispatch (or orchestrate), persist the
// exchange, assemble the response.
type ChatService struct {
	agents       *config.AgentRegistry
	router       *router.Router
	dispatcher   *dispatch.Dispatcher
	orchestrator *orchestrate.Orchestrator
	enforcer     *budget.Enforcer
	sessions     *session.Manager
}

// NewChatService creates the service. sessions may be nil when session
// persistence is disabled; session keys are then ignored.
func NewChatService(
	agents *config.AgentRegistry,
	selectRouter *router.Router,
	dispatcher *dispatch.Dispatcher,
	orchestrator *orchestrate.Orchestrator,
	enforcer *budget.Enforcer,
	sessions *session.Manager,
) *ChatService {
	return &ChatService{
		agents:       agents,
		router:       selectRouter,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		enforcer:     enforcer,
		sessions:     sessions,
	}
}

// Chat handles a single conversational request end to end.
func (s *ChatService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	project := req.ProjectID
	if project == "" {
		project = models.DefaultProject
	}

	history := s.history(req.SessionKey)

	decision := s.router.Select(ctx, req.Content, history, req.AgentID)

	estIn, estOut := budget.EstimateTokens(req.Content)
	verdict, err := s.enforcer.CheckBudget(project, decision.AgentID, "", estIn, estOut)
	if err != nil {
		return nil, err
	}
	if !verdict.Approved() {
		return nil, fault.New(fault.KindBudgetExceeded, "%s", verdict.Reason)
	}

	result, err := s.dispatcher.Dispatch(ctx, decision.AgentID, req.Content, history, &dispatch.Options{
		Project:   project,
		Operation: models.OperationChat,
	})
	if err != nil {
		// Attempt trail rides along so the transport can surface it.
		resp := &models.ChatResponse{
			Agent:    decision.AgentID,
			Routing:  &decision,
			Attempts: attemptSummaries(result.Attempts),
		}
		return resp, err
	}

	s.persistExchange(req.SessionKey, req.Content, result.Text)

	resp := &models.ChatResponse{
		Response: result.Text,
		Agent:    result.AgentID,
		Tokens:   result.OutputTokens,
		CostUSD:  roundUSD(result.CostUSD),
		Routing:  &decision,
	}
	if req.IncludeAttempts {
		resp.Attempts = attemptSummaries(result.Attempts)
	}
	return resp, nil
}

// validate applies the transport contract before any work happens.
func (s *ChatService) validate(req *models.ChatRequest) error {
	if req.Content == "" {
		return fault.New(fault.KindValidation, "content is required")
	}
	if len(req.Content) > models.MaxContentBytes {
		return fault.New(fault.KindValidation, "content exceeds %d bytes", models.MaxContentBytes)
	}
	if req.AgentID != "" && !s.agents.Has(req.AgentID) {
		return fault.New(fault.KindValidation, "unknown agent %q", req.AgentID)
	}
	return nil
}

// history loads the session context window; a broken session store
// degrades to an empty history rather than failing the request.
func (s *ChatService) history(sessionKey string) []models.ConversationMessage {
	if s.sessions == nil || sessionKey == "" {
		return nil
	}
	history, err := s.sessions.Context(sessionKey)
	if err != nil {
		slog.Warn("Failed to load session context", "session_key", sessionKey, "error", err)
		return nil
	}
	return history
}

func (s *ChatService) persistExchange(sessionKey, content, response string) {
	if s.sessions == nil || sessionKey == "" {
		return
	}
	err := s.sessions.Append(sessionKey,
		models.ConversationMessage{Role: models.RoleUser, Content: content},
		models.ConversationMessage{Role: models.RoleAssistant, Content: response},
	)
	if err != nil {
		slog.Error("Failed to persist session exchange", "session_key", sessionKey, "error", err)
	}
}

func attemptSummaries(attempts []models.CallAttempt) []string {
	if len(attempts) == 0 {
		return nil
	}
	lines := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		lines = append(lines, attempt.Summary())
	}
	return lines
}

// roundUSD pins response costs to 6 decimal places.
func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
