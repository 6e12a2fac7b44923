package orchestrate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/dispatch"
	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
	"github.com/steward-ai/steward/pkg/router"
)

// Coordination carries the originating request context into an
// execution: the request text for synthesis, the project for cost
// attribution, and optional session history.
type Coordination struct {
	Request        string
	Project        string
	SessionContext []models.ConversationMessage
}

// Outcome is the result of executing a plan: the synthesized response,
// the final state of every task, and the conflict overrides the
// aggregator recorded.
type Outcome struct {
	Response       string
	Tasks          []*models.Task
	Overrides      []ConflictOverride
	FailedTasks    []string
	SynthesisAgent string
	CostUSD        float64 // synthesis call cost; task costs are ledgered per task
}

// Orchestrator executes plans across bounded per-pool worker sets,
// aggregates results, and synthesizes a final answer through the router
// and dispatcher.
type Orchestrator struct {
	cfg        *config.OrchestratorConfig
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	enforcer   *budget.Enforcer

	now func() time.Time
}

// New creates an orchestrator.
func New(cfg *config.OrchestratorConfig, r *router.Router, d *dispatch.Dispatcher, e *budget.Enforcer) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		router:     r,
		dispatcher: d,
		enforcer:   e,
		now:        time.Now,
	}
}

type taskEvent struct {
	id     string
	result map[string]any
	err    error
}

// execState guards task mutations and retry accounting for one
// execution.
type execState struct {
	plan       *Plan
	attempts   map[string]int
	enqueued   map[string]bool
	dependents map[string][]string
	remaining  int
	mu         sync.Mutex
}

// Execute runs the plan to a fixed point (every task terminal), then
// aggregates and synthesizes. Partial task failure is reported in the
// response, never raised; Execute errors only on caller cancellation or
// synthesis exhaustion.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, coord *Coordination) (*Outcome, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if coord.Project == "" {
		coord.Project = models.DefaultProject
	}

	state := &execState{
		plan:       plan,
		attempts:   make(map[string]int),
		enqueued:   make(map[string]bool),
		dependents: make(map[string][]string),
		remaining:  plan.Len(),
	}
	for _, task := range plan.Tasks() {
		for _, dep := range task.BlockedBy {
			state.dependents[dep] = append(state.dependents[dep], task.ID)
		}
	}

	// Buffered generously: every task can re-enter its queue on retry.
	queueCap := plan.Len() * 8
	events := make(chan taskEvent, queueCap)
	queues := make(map[models.PoolName]chan string)
	workers, workerCtx := errgroup.WithContext(execCtx)
	for _, pool := range []models.PoolName{models.PoolCodegen, models.PoolSecurity, models.PoolDatabase} {
		queue := make(chan string, queueCap)
		queues[pool] = queue
		poolCfg := o.cfg.Pool(pool)
		for i := 0; i < poolCfg.Concurrency; i++ {
			workers.Go(func() error {
				o.worker(workerCtx, pool, queue, events, state, coord)
				return nil
			})
		}
	}

	o.enqueueReady(state, queues)

	cancelled := false
	for state.remaining > 0 {
		select {
		case event := <-events:
			o.handleEvent(event, state, queues, cancelled)
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				o.failUnstarted(state, "cancelled")
			}
		}
	}

	// Every task is terminal; stop the worker set before aggregating so
	// no goroutine touches task state concurrently.
	cancel()
	_ = workers.Wait()

	outcome := &Outcome{Tasks: plan.Tasks()}
	if cancelled || ctx.Err() != nil {
		return outcome, fault.Wrap(fault.KindCancelled, ctx.Err(), "orchestration cancelled")
	}

	aggregate := aggregateResults(plan)
	outcome.Overrides = aggregate.Overrides
	outcome.FailedTasks = aggregate.Failed

	response, agentID, cost, err := o.synthesize(ctx, aggregate, coord)
	if err != nil {
		return outcome, err
	}
	outcome.Response = response
	outcome.SynthesisAgent = agentID
	outcome.CostUSD = cost
	return outcome, nil
}

// enqueueReady queues every pending task whose dependencies are all
// completed, in priority order (lower first). Caller must not hold
// state.mu.
func (o *Orchestrator) enqueueReady(state *execState, queues map[models.PoolName]chan string) {
	state.mu.Lock()
	var ready []*models.Task
	for _, task := range state.plan.Tasks() {
		if task.Status != models.TaskStatusPending || state.enqueued[task.ID] {
			continue
		}
		if state.depsCompleted(task) {
			ready = append(ready, task)
			state.enqueued[task.ID] = true
		}
	}
	state.mu.Unlock()

	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority < ready[j].Priority })
	for _, task := range ready {
		queues[task.Pool] <- task.ID
	}
}

// depsCompleted reports whether every blocked_by entry is completed.
// Caller must hold state.mu.
func (s *execState) depsCompleted(task *models.Task) bool {
	for _, dep := range task.BlockedBy {
		if s.plan.Get(dep).Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) handleEvent(event taskEvent, state *execState, queues map[models.PoolName]chan string, cancelled bool) {
	state.mu.Lock()
	task := state.plan.Get(event.id)

	if event.err == nil {
		task.Status = models.TaskStatusCompleted
		task.Result = event.result
		task.CompletedAt = o.now()
		state.remaining--
		state.mu.Unlock()
		if !cancelled {
			o.enqueueReady(state, queues)
		}
		return
	}

	kind := fault.KindOf(event.err)
	maxRetries := o.maxRetriesFor(task)
	if !cancelled && kind.Retryable() && state.attempts[event.id] <= maxRetries {
		// Requeue with priority unchanged.
		task.Status = models.TaskStatusPending
		state.enqueued[event.id] = false
		attempt := state.attempts[event.id]
		state.mu.Unlock()
		slog.Debug("Requeueing failed task", "task", event.id, "attempt", attempt, "kind", kind)
		o.enqueueReady(state, queues)
		return
	}

	if kind == fault.KindTimeout {
		task.Status = models.TaskStatusTimeout
	} else {
		task.Status = models.TaskStatusFailed
	}
	task.ErrorDetail = event.err.Error()
	task.CompletedAt = o.now()
	state.remaining--
	failed := o.failDependentsLocked(state, event.id)
	state.mu.Unlock()

	slog.Warn("Task terminally failed",
		"task", event.id, "kind", kind, "cascaded_failures", failed)
	if !cancelled {
		o.enqueueReady(state, queues)
	}
}

// failDependentsLocked marks every transitive dependent of id as failed
// with reason upstream_failed; they are never executed. Caller holds
// state.mu. Returns the number of tasks failed.
func (o *Orchestrator) failDependentsLocked(state *execState, id string) int {
	failed := 0
	frontier := []string{id}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, depID := range state.dependents[current] {
			dependent := state.plan.Get(depID)
			if dependent.Status.Terminal() || dependent.Status == models.TaskStatusRunning {
				continue
			}
			dependent.Status = models.TaskStatusFailed
			dependent.ErrorDetail = "upstream_failed: " + current
			dependent.CompletedAt = o.now()
			state.remaining--
			failed++
			frontier = append(frontier, depID)
		}
	}
	return failed
}

// failUnstarted marks every pending task as failed with the given
// reason. Running tasks keep going until their cancellation surfaces as
// an event.
func (o *Orchestrator) failUnstarted(state *execState, reason string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, task := range state.plan.Tasks() {
		if task.Status == models.TaskStatusPending {
			task.Status = models.TaskStatusFailed
			task.ErrorDetail = reason
			task.CompletedAt = o.now()
			state.remaining--
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, pool models.PoolName, queue chan string, events chan taskEvent, state *execState, coord *Coordination) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-queue:
			o.runTask(ctx, id, pool, events, state, coord)
		}
	}
}

func (o *Orchestrator) runTask(ctx context.Context, id string, pool models.PoolName, events chan taskEvent, state *execState, coord *Coordination) {
	state.mu.Lock()
	task := state.plan.Get(id)
	if task.Status != models.TaskStatusPending {
		// Cancellation or upstream failure beat the worker to it.
		state.mu.Unlock()
		return
	}
	task.Status = models.TaskStatusRunning
	task.StartedAt = o.now()
	state.attempts[id]++
	timeout := o.timeoutFor(task)
	preferredAgent := o.cfg.Pool(pool).PreferredAgent
	prompt := task.Prompt
	state.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision := o.router.Select(taskCtx, prompt, coord.SessionContext, preferredAgent)
	result, err := o.dispatcher.Dispatch(taskCtx, decision.AgentID, prompt, nil, &dispatch.Options{
		Project:   coord.Project,
		Operation: models.OperationWorkflowStep,
		Metadata:  map[string]any{"task_id": id, "pool": string(pool)},
	})
	if err != nil {
		// Our own deadline is the task timing out, not a caller abort.
		if fault.Is(err, fault.KindCancelled) && ctx.Err() == nil && taskCtx.Err() != nil {
			err = fault.Wrap(fault.KindTimeout, err, "task %q exceeded %s", id, timeout)
		}
		events <- taskEvent{id: id, err: err}
		return
	}
	events <- taskEvent{id: id, result: parseTaskResult(task.Pool, result.Text)}
}

func (o *Orchestrator) maxRetriesFor(task *models.Task) int {
	if task.MaxRetries > 0 {
		return task.MaxRetries
	}
	return o.cfg.Pool(task.Pool).MaxRetries
}

func (o *Orchestrator) timeoutFor(task *models.Task) time.Duration {
	if task.TimeoutSeconds > 0 {
		return time.Duration(task.TimeoutSeconds) * time.Second
	}
	return o.cfg.Pool(task.Pool).TaskTimeout
}

// parseTaskResult interprets an agent's text as the task's structured
// result. JSON objects pass through; anything else is wrapped under the
// pool's natural field so prose answers stay shape-valid.
func parseTaskResult(pool models.PoolName, text string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	switch pool {
	case models.PoolCodegen:
		return map[string]any{"code": text}
	case models.PoolSecurity:
		return map[string]any{"findings": []any{map[string]any{"detail": text}}}
	case models.PoolDatabase:
		return map[string]any{"schema": text}
	default:
		return map[string]any{"output": text}
	}
}
