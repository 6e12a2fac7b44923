package orchestrate

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/dispatch"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/health"
	"github.com/steward-ai/steward/pkg/llm"
	"github.com/steward-ai/steward/pkg/models"
	"github.com/steward-ai/steward/pkg/router"
)

// fakeProvider answers every agent in the harness; respond inspects the
// prompt to decide behavior. Concurrency is tracked so pool bounds are
// observable.
type fakeProvider struct {
	mu            sync.Mutex
	calls         map[string]int // last user message → call count
	inFlight      int
	maxConcurrent int
	respond       func(ctx context.Context, prompt string, call int) (*llm.Completion, error)
}

func (f *fakeProvider) Name() string        { return "fake" }
func (f *fakeProvider) SupportsTools() bool { return false }

func (f *fakeProvider) Generate(ctx context.Context, input *llm.GenerateInput) (*llm.Completion, error) {
	prompt := ""
	for _, m := range input.Messages {
		if m.Role == models.RoleUser {
			prompt = m.Content
		}
	}
	f.mu.Lock()
	call := f.calls[prompt]
	f.calls[prompt]++
	f.inFlight++
	if f.inFlight > f.maxConcurrent {
		f.maxConcurrent = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return f.respond(ctx, prompt, call)
}

func (f *fakeProvider) callCount(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prompt]
}

func answer(text string) (*llm.Completion, error) {
	return &llm.Completion{Content: text, TokensInput: 20, TokensOutput: 10, StopReason: "stop"}, nil
}

type orchestratorHarness struct {
	orchestrator *Orchestrator
	provider     *fakeProvider
	tracker      *health.Tracker
	ledgerPath   string
	cfg          *config.OrchestratorConfig
}

func newOrchestratorHarness(t *testing.T) *orchestratorHarness {
	t.Helper()

	provider := &fakeProvider{
		calls: make(map[string]int),
		respond: func(_ context.Context, _ string, _ int) (*llm.Completion, error) {
			return answer("done")
		},
	}
	registry, err := llm.NewRegistry(nil)
	require.NoError(t, err)
	registry.Register(provider)

	agents := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"coder":       {Provider: "fake", Model: "code-model", CostPerInputToken: 3, CostPerOutputToken: 15},
		"auditor":     {Provider: "fake", Model: "audit-model", CostPerInputToken: 3, CostPerOutputToken: 15},
		"dba":         {Provider: "fake", Model: "db-model", CostPerInputToken: 1, CostPerOutputToken: 2},
		"coordinator": {Provider: "fake", Model: "coord-model", CostPerInputToken: 3, CostPerOutputToken: 15},
	})

	budgetCfg := config.DefaultBudgetConfig()
	budgetCfg.LedgerPath = filepath.Join(t.TempDir(), "costs.jsonl")
	enforcer, err := budget.NewEnforcer(budgetCfg, agents, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = enforcer.Close() })

	tracker := health.NewTracker()
	routerCfg := config.DefaultRouterConfig()
	routerCfg.DefaultAgent = "coordinator"
	selectRouter := router.New(routerCfg, agents, nil, nil, tracker)

	// No dispatcher-level retries: failures surface to the orchestrator
	// so its own requeue path is what the tests observe.
	dispatcher := dispatch.New(&config.DispatchConfig{TimeoutSeconds: 5}, agents, registry, tracker, enforcer, nil)

	cfg := &config.OrchestratorConfig{
		CoordinatorAgent: "coordinator",
		Pools: map[models.PoolName]*config.PoolConfig{
			models.PoolCodegen:  {Concurrency: 3, TaskTimeout: 2 * time.Second, MaxRetries: 2, PreferredAgent: "coder"},
			models.PoolSecurity: {Concurrency: 2, TaskTimeout: 2 * time.Second, MaxRetries: 2, PreferredAgent: "auditor"},
			models.PoolDatabase: {Concurrency: 2, TaskTimeout: 2 * time.Second, MaxRetries: 2, PreferredAgent: "dba"},
		},
	}
	return &orchestratorHarness{
		orchestrator: New(cfg, selectRouter, dispatcher, enforcer),
		provider:     provider,
		tracker:      tracker,
		ledgerPath:   budgetCfg.LedgerPath,
		cfg:          cfg,
	}
}

func TestExecuteSingleTask(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		if strings.Contains(prompt, "Synthesize") {
			return answer("here is your frontend")
		}
		return answer(`{"code": "func main() {}"}`)
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "build frontend"},
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator.Execute(context.Background(), plan, &Coordination{
		Request: "build me a frontend",
		Project: "default",
	})
	require.NoError(t, err)
	assert.Equal(t, "here is your frontend", outcome.Response)
	assert.Equal(t, "coordinator", outcome.SynthesisAgent)
	assert.Greater(t, outcome.CostUSD, 0.0)
	assert.Empty(t, outcome.FailedTasks)
	assert.Empty(t, outcome.Overrides)

	task := plan.Get("t1")
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, map[string]any{"code": "func main() {}"}, task.Result)
	assert.False(t, task.StartedAt.IsZero())
	assert.False(t, task.CompletedAt.IsZero())

	// One workflow_step cost event plus one synthesis event.
	events, err := budget.Replay(h.ledgerPath)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.OperationWorkflowStep, events[0].Operation)
	assert.Equal(t, "coder", events[0].AgentID)
	assert.Equal(t, models.OperationSynthesis, events[1].Operation)
	assert.Equal(t, "coordinator", events[1].AgentID)
}

func TestExecuteHonorsDependencyOrder(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		if !strings.Contains(prompt, "Synthesize") {
			time.Sleep(20 * time.Millisecond)
		}
		return answer("ok")
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "schema", Pool: models.PoolDatabase, Prompt: "design schema"},
		{ID: "api", Pool: models.PoolCodegen, Prompt: "build api", BlockedBy: []string{"schema"}},
		{ID: "audit", Pool: models.PoolSecurity, Prompt: "audit api", BlockedBy: []string{"api"}},
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "ship it"})
	require.NoError(t, err)

	schema, api, audit := plan.Get("schema"), plan.Get("api"), plan.Get("audit")
	assert.Equal(t, models.TaskStatusCompleted, audit.Status)
	assert.False(t, api.StartedAt.Before(schema.CompletedAt))
	assert.False(t, audit.StartedAt.Before(api.CompletedAt))
}

func TestExecutePartialFailurePropagates(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		switch {
		case strings.Contains(prompt, "build backend"):
			return nil, fault.New(fault.KindAuthentication, "key revoked")
		case strings.Contains(prompt, "Synthesize"):
			return answer("partial delivery")
		default:
			return answer("ok")
		}
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "build frontend"},
		{ID: "t2", Pool: models.PoolCodegen, Prompt: "build backend"},
		{ID: "t3", Pool: models.PoolDatabase, Prompt: "design schema"},
		{ID: "t4", Pool: models.PoolSecurity, Prompt: "audit", BlockedBy: []string{"t2"}},
	})
	require.NoError(t, err)

	outcome, err := h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "ship the app"})
	require.NoError(t, err, "partial failure must not raise")

	assert.Equal(t, models.TaskStatusCompleted, plan.Get("t1").Status)
	assert.Equal(t, models.TaskStatusFailed, plan.Get("t2").Status)
	assert.Equal(t, models.TaskStatusCompleted, plan.Get("t3").Status)

	t4 := plan.Get("t4")
	assert.Equal(t, models.TaskStatusFailed, t4.Status)
	assert.Equal(t, "upstream_failed: t2", t4.ErrorDetail)
	assert.Zero(t, h.provider.callCount("audit"), "upstream-failed task must never run")

	assert.Equal(t, []string{"t2", "t4"}, outcome.FailedTasks)
	assert.Contains(t, outcome.Response, "partial delivery")
	assert.Contains(t, outcome.Response, "Could not complete: t2, t4.")
}

func TestExecuteRequeuesRetryableFailure(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.provider.respond = func(_ context.Context, prompt string, call int) (*llm.Completion, error) {
		if strings.Contains(prompt, "flaky work") && call == 0 {
			return nil, fault.New(fault.KindRateLimit, "slow down")
		}
		return answer(`{"code": "ok"}`)
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "flaky work"},
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "r"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, plan.Get("t1").Status)
	assert.Equal(t, 2, h.provider.callCount("flaky work"))
}

func TestExecuteTaskTimeout(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.cfg.Pools[models.PoolCodegen].MaxRetries = 0
	h.provider.respond = func(ctx context.Context, prompt string, _ int) (*llm.Completion, error) {
		if strings.Contains(prompt, "Synthesize") {
			return answer("summary")
		}
		<-ctx.Done()
		return nil, fault.Wrap(fault.KindTimeout, ctx.Err(), "provider interrupted")
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "slow work", TimeoutSeconds: 1},
	})
	require.NoError(t, err)

	start := time.Now()
	outcome, err := h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "r"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	assert.Equal(t, models.TaskStatusTimeout, plan.Get("t1").Status)
	assert.Equal(t, []string{"t1"}, outcome.FailedTasks)
	assert.Contains(t, outcome.Response, "Could not complete: t1.")
}

func TestExecuteCancellation(t *testing.T) {
	h := newOrchestratorHarness(t)
	started := make(chan struct{}, 1)
	h.provider.respond = func(ctx context.Context, _ string, _ int) (*llm.Completion, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "long work"},
		{ID: "t2", Pool: models.PoolSecurity, Prompt: "later work", BlockedBy: []string{"t1"}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = h.orchestrator.Execute(ctx, plan, &Coordination{Request: "r"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindCancelled))

	assert.Equal(t, models.TaskStatusFailed, plan.Get("t1").Status)
	t2 := plan.Get("t2")
	assert.Equal(t, models.TaskStatusFailed, t2.Status)
	assert.Equal(t, "cancelled", t2.ErrorDetail)
	assert.Zero(t, h.provider.callCount("later work"))
}

func TestExecuteBoundsPoolConcurrency(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.cfg.Pools[models.PoolCodegen].Concurrency = 2
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		if !strings.Contains(prompt, "Synthesize") {
			time.Sleep(50 * time.Millisecond)
		}
		return answer(`{"code": "ok"}`)
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "chunk one"},
		{ID: "t2", Pool: models.PoolCodegen, Prompt: "chunk two"},
		{ID: "t3", Pool: models.PoolCodegen, Prompt: "chunk three"},
		{ID: "t4", Pool: models.PoolCodegen, Prompt: "chunk four"},
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "r"})
	require.NoError(t, err)
	assert.LessOrEqual(t, h.provider.maxConcurrent, 2)
	for _, tk := range plan.Tasks() {
		assert.Equal(t, models.TaskStatusCompleted, tk.Status)
	}
}

func TestExecutePriorityOrdersReadyTasks(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.cfg.Pools[models.PoolCodegen].Concurrency = 1

	var mu sync.Mutex
	var order []string
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		if !strings.Contains(prompt, "Synthesize") {
			mu.Lock()
			order = append(order, prompt)
			mu.Unlock()
		}
		return answer(`{"code": "ok"}`)
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "low", Pool: models.PoolCodegen, Prompt: "low priority", Priority: 5},
		{ID: "high", Pool: models.PoolCodegen, Prompt: "high priority", Priority: 1},
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Execute(context.Background(), plan, &Coordination{Request: "r"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high priority", order[0])
}

func TestExecuteSynthesisBudgetGate(t *testing.T) {
	h := newOrchestratorHarness(t)
	h.provider.respond = func(_ context.Context, prompt string, _ int) (*llm.Completion, error) {
		return answer(`{"code": "ok"}`)
	}

	plan, err := NewPlan([]*models.Task{
		{ID: "t1", Pool: models.PoolCodegen, Prompt: "small task"},
	})
	require.NoError(t, err)

	// A synthesis request longer than the per-task budget allows:
	// coordinator rates are $3/$15 per Mtok, the default per-task limit is
	// $10, and the word-count estimate doubles the request size.
	coord := &Coordination{Request: strings.Repeat("word ", 600_000)}
	_, err = h.orchestrator.Execute(context.Background(), plan, coord)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindBudgetExceeded))
}
