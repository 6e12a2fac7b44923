package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/health"
	"github.com/steward-ai/steward/pkg/llm"
	"github.com/steward-ai/steward/pkg/models"
)

// Retry backoff shape: 1s base doubling to an 8s cap with ±10% jitter,
// giving the sequence immediate, 1s, 2s, 4s for three retries.
const (
	backoffInitialInterval    = 1 * time.Second
	backoffMultiplier         = 2.0
	backoffMaxInterval        = 8 * time.Second
	backoffRandomizationCoeff = 0.1
)

// toolLoopMax bounds tool-use round trips within a single logical call.
const toolLoopMax = 8

// Options tunes a single Dispatch call. Zero values take the configured
// defaults.
type Options struct {
	// TimeoutSeconds is the per-attempt upper bound.
	TimeoutSeconds int

	// MaxRetriesPerModel bounds retries before advancing the chain.
	MaxRetriesPerModel int

	// FallbackChain overrides the agent's configured fallbacks.
	FallbackChain []string

	// ForceProvider pins the call to the primary agent: no fallback
	// chain and no health-based skipping.
	ForceProvider bool

	// AbortOn lists error kinds that must not be retried even when the
	// taxonomy marks them retryable.
	AbortOn []fault.Kind

	// Project and Operation tag the recorded cost event.
	Project   string
	Operation models.Operation
	Metadata  map[string]any
}

func (o *Options) abortsOn(kind fault.Kind) bool {
	for _, k := range o.AbortOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Result is a completed dispatch: the final text plus token counts and
// the full attempt trail. On failure the trail is still populated.
type Result struct {
	Text         string
	AgentID      string // logical agent that produced the response
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Attempts     []models.CallAttempt
}

// Dispatcher executes agent selections as provider calls with retry,
// timeout, fallback chains, tool loops, health tracking, and synchronous
// cost recording.
type Dispatcher struct {
	cfg       *config.DispatchConfig
	agents    *config.AgentRegistry
	providers *llm.Registry
	tracker   *health.Tracker
	enforcer  *budget.Enforcer
	tools     *ToolRegistry

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// New creates a dispatcher. tools may be nil when no agent carries a
// tool manifest.
func New(cfg *config.DispatchConfig, agents *config.AgentRegistry, providers *llm.Registry, tracker *health.Tracker, enforcer *budget.Enforcer, tools *ToolRegistry) *Dispatcher {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Dispatcher{
		cfg:        cfg,
		agents:     agents,
		providers:  providers,
		tracker:    tracker,
		enforcer:   enforcer,
		tools:      tools,
		now:        time.Now,
		newBackOff: newRetryBackOff,
	}
}

func newRetryBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = backoffInitialInterval
	policy.Multiplier = backoffMultiplier
	policy.MaxInterval = backoffMaxInterval
	policy.RandomizationFactor = backoffRandomizationCoeff
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// Dispatch calls the agent's provider, walking retries and the fallback
// chain until a textual response or full exhaustion. The returned Result
// is non-nil even on error so callers can surface the attempt trail.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID, prompt string, history []models.ConversationMessage, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	timeout := time.Duration(d.cfg.TimeoutSeconds) * time.Second
	if opts.TimeoutSeconds > 0 {
		timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	maxRetries := d.cfg.MaxRetriesPerModel
	if opts.MaxRetriesPerModel > 0 {
		maxRetries = opts.MaxRetriesPerModel
	}
	project := opts.Project
	if project == "" {
		project = models.DefaultProject
	}
	operation := opts.Operation
	if operation == "" {
		operation = models.OperationChat
	}

	chain, err := d.buildChain(agentID, opts)
	if err != nil {
		return &Result{}, err
	}

	result := &Result{}
	var lastErr error
	for position, chainAgentID := range chain {
		agent, err := d.agents.Get(chainAgentID)
		if err != nil {
			// A dangling fallback entry is a config drift problem, not a
			// reason to fail the whole dispatch.
			slog.Warn("Skipping unknown fallback agent", "agent", chainAgentID)
			continue
		}

		if !opts.ForceProvider && d.tracker.StatusOf(chainAgentID) == health.StatusUnreachable {
			// The primary gets a forced try when nothing else in the
			// chain is usable.
			if !(position == 0 && d.wholeChainUnreachable(chain)) {
				result.Attempts = append(result.Attempts, models.CallAttempt{
					AgentID:   chainAgentID,
					Provider:  string(agent.Provider),
					Model:     agent.Model,
					StartedAt: d.now(),
					Outcome:   models.OutcomeSkipped,
				})
				continue
			}
		}

		entryIn, entryOut := result.InputTokens, result.OutputTokens
		text, err := d.tryAgent(ctx, chainAgentID, agent, prompt, history, timeout, maxRetries, opts, result)
		if err == nil {
			result.Text = text
			result.AgentID = chainAgentID
			cost, costErr := d.enforcer.RecordCost(project, chainAgentID, result.Model,
				result.InputTokens, result.OutputTokens, operation, opts.Metadata)
			if costErr != nil {
				slog.Error("Failed to record cost event", "agent", chainAgentID, "error", costErr)
			}
			result.CostUSD = cost
			return result, nil
		}
		lastErr = err
		// Partial tokens from a failed chain entry bill against that
		// entry's own agent and model, not whoever answers later; the
		// result totals carry only the answering entry's tokens.
		if deltaIn, deltaOut := result.InputTokens-entryIn, result.OutputTokens-entryOut; deltaIn > 0 || deltaOut > 0 {
			if _, costErr := d.enforcer.RecordCost(project, chainAgentID, result.Model,
				deltaIn, deltaOut, operation, opts.Metadata); costErr != nil {
				slog.Error("Failed to record partial cost event", "agent", chainAgentID, "error", costErr)
			}
			result.InputTokens, result.OutputTokens = entryIn, entryOut
			result.Model = ""
		}
		if fault.Is(err, fault.KindCancelled) {
			break
		}
	}

	if lastErr == nil {
		lastErr = fault.New(fault.KindValidation, "no usable agent in chain for %q", agentID)
	}
	return result, fault.Wrap(fault.KindOf(lastErr), lastErr,
		"dispatch exhausted %d attempt(s) for agent %q", len(result.Attempts), agentID)
}

func (d *Dispatcher) buildChain(agentID string, opts *Options) ([]string, error) {
	agent, err := d.agents.Get(agentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "unknown agent %q", agentID)
	}
	if opts.ForceProvider {
		return []string{agentID}, nil
	}
	fallbacks := agent.Fallbacks
	if opts.FallbackChain != nil {
		fallbacks = opts.FallbackChain
	}
	chain := append([]string{agentID}, fallbacks...)
	return chain, nil
}

func (d *Dispatcher) wholeChainUnreachable(chain []string) bool {
	for _, id := range chain {
		if d.tracker.StatusOf(id) != health.StatusUnreachable {
			return false
		}
	}
	return true
}

// tryAgent runs the retry loop for one chain entry. Attempt records and
// token counts accumulate on result as a side effect.
func (d *Dispatcher) tryAgent(ctx context.Context, agentID string, agent *config.AgentConfig, prompt string, history []models.ConversationMessage, timeout time.Duration, maxRetries int, opts *Options, result *Result) (string, error) {
	policy := d.newBackOff()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.NextBackOff()
			slog.Debug("Retrying provider call",
				"agent", agentID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fault.Wrap(fault.KindCancelled, ctx.Err(), "dispatch cancelled while backing off")
			}
		}

		text, err := d.attemptOnce(ctx, agentID, agent, prompt, history, timeout, result)
		if err == nil {
			d.tracker.TrackSuccess(agentID)
			return text, nil
		}
		lastErr = err

		kind := fault.KindOf(err)
		if kind == fault.KindCancelled {
			return "", err
		}
		d.tracker.TrackFailure(agentID, kind)
		if !kind.Retryable() || opts.abortsOn(kind) {
			slog.Warn("Non-retryable provider failure",
				"agent", agentID, "kind", kind, "error", err)
			return "", err
		}
	}
	return "", lastErr
}

// attemptOnce runs one full logical call, including the tool loop, under
// per-call timeouts. Token counts from every loop iteration accumulate
// into the recorded attempt.
func (d *Dispatcher) attemptOnce(ctx context.Context, agentID string, agent *config.AgentConfig, prompt string, history []models.ConversationMessage, timeout time.Duration, result *Result) (string, error) {
	provider, model, toolDefs, err := d.resolveProvider(agent)
	if err != nil {
		return "", err
	}

	attempt := models.CallAttempt{
		AgentID:   agentID,
		Provider:  provider.Name(),
		Model:     model,
		StartedAt: d.now(),
	}

	messages := buildMessages(agent, history, prompt)
	totalIn, totalOut := 0, 0
	var completion *llm.Completion

	for loop := 0; loop < toolLoopMax; loop++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		completion, err = provider.Generate(callCtx, &llm.GenerateInput{
			Model:    model,
			Messages: messages,
			Tools:    toolDefs,
		})
		cancel()
		if err != nil {
			// A deadline we set ourselves is a timeout of this attempt,
			// not a caller cancellation.
			if fault.Is(err, fault.KindCancelled) && ctx.Err() == nil {
				err = fault.Wrap(fault.KindTimeout, err, "provider call exceeded %s", timeout)
			}
			attempt.Duration = d.now().Sub(attempt.StartedAt)
			attempt.Outcome = models.AttemptOutcome(fault.KindOf(err))
			attempt.ErrorDetail = err.Error()
			attempt.InputTokens = totalIn
			attempt.OutputTokens = totalOut
			result.Attempts = append(result.Attempts, attempt)
			// Partial failures with billable tokens still hit the ledger.
			if totalIn > 0 || totalOut > 0 {
				result.Model = model
				result.InputTokens += totalIn
				result.OutputTokens += totalOut
			}
			return "", err
		}

		totalIn += completion.TokensInput
		totalOut += completion.TokensOutput
		if len(completion.ToolCalls) == 0 {
			break
		}

		assistant := models.ConversationMessage{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}
		messages = append(messages, assistant)
		for _, call := range completion.ToolCalls {
			output := d.tools.Invoke(ctx, call.Name, call.Arguments)
			messages = append(messages, models.ConversationMessage{
				Role:       models.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	attempt.Duration = d.now().Sub(attempt.StartedAt)
	attempt.Outcome = models.OutcomeSuccess
	attempt.InputTokens = totalIn
	attempt.OutputTokens = totalOut
	result.Attempts = append(result.Attempts, attempt)
	result.Model = model
	result.InputTokens += totalIn
	result.OutputTokens += totalOut
	return completion.Content, nil
}

// resolveProvider picks the provider and model for a call. Tool-carrying
// agents on a provider without native tool support reroute to the
// configured tool-execution fallback's provider and model; the logical
// agent identity is unchanged for health and cost accounting.
func (d *Dispatcher) resolveProvider(agent *config.AgentConfig) (llm.Provider, string, []models.ToolDefinition, error) {
	provider, err := d.providers.Get(string(agent.Provider))
	if err != nil {
		return nil, "", nil, err
	}
	model := agent.Model

	if len(agent.Tools) == 0 {
		return provider, model, nil, nil
	}
	toolDefs := d.tools.Definitions(agent.Tools)
	if len(toolDefs) == 0 || provider.SupportsTools() {
		return provider, model, toolDefs, nil
	}

	if d.cfg.ToolExecutionFallback == "" {
		return nil, "", nil, fault.New(fault.KindValidation,
			"provider %q lacks tool support and no tool_execution_fallback is configured", provider.Name())
	}
	fallbackAgent, err := d.agents.Get(d.cfg.ToolExecutionFallback)
	if err != nil {
		return nil, "", nil, fault.Wrap(fault.KindValidation, err,
			"tool_execution_fallback %q is not a known agent", d.cfg.ToolExecutionFallback)
	}
	fallbackProvider, err := d.providers.Get(string(fallbackAgent.Provider))
	if err != nil {
		return nil, "", nil, err
	}
	slog.Debug("Rerouting tool call to fallback provider",
		"from", provider.Name(), "to", fallbackProvider.Name(), "model", fallbackAgent.Model)
	return fallbackProvider, fallbackAgent.Model, toolDefs, nil
}

func buildMessages(agent *config.AgentConfig, history []models.ConversationMessage, prompt string) []models.ConversationMessage {
	messages := make([]models.ConversationMessage, 0, len(history)+2)
	if agent.SystemPrompt != "" {
		messages = append(messages, models.ConversationMessage{
			Role:    models.RoleSystem,
			Content: agent.SystemPrompt,
		})
	}
	messages = append(messages, history...)
	return append(messages, models.ConversationMessage{
		Role:    models.RoleUser,
		Content: prompt,
	})
}
