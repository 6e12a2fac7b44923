package orchestrate

import (
	"time"

	"github.com/google/uuid"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

// Plan is a validated set of tasks plus their dependency graph. The
// graph is guaranteed acyclic at construction.
type Plan struct {
	tasks map[string]*models.Task
	order []string // deterministic iteration order (input order)
}

// NewPlan validates tasks and their blocked_by edges. Unknown pools,
// duplicate or empty IDs, self-references, dangling dependencies, and
// cycles are all construction-time validation faults. Tasks without an
// ID get a generated one.
func NewPlan(tasks []*models.Task) (*Plan, error) {
	if len(tasks) == 0 {
		return nil, fault.New(fault.KindValidation, "execution plan has no tasks")
	}

	plan := &Plan{
		tasks: make(map[string]*models.Task, len(tasks)),
		order: make([]string, 0, len(tasks)),
	}
	now := time.Now()
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		if _, dup := plan.tasks[task.ID]; dup {
			return nil, fault.New(fault.KindValidation, "duplicate task id %q", task.ID)
		}
		if !task.Pool.IsValid() {
			return nil, fault.New(fault.KindValidation, "task %q targets unknown pool %q", task.ID, task.Pool)
		}
		if task.Prompt == "" {
			return nil, fault.New(fault.KindValidation, "task %q has no prompt", task.ID)
		}
		task.Status = models.TaskStatusPending
		task.CreatedAt = now
		plan.tasks[task.ID] = task
		plan.order = append(plan.order, task.ID)
	}

	for _, task := range plan.tasks {
		for _, dep := range task.BlockedBy {
			if dep == task.ID {
				return nil, fault.New(fault.KindValidation, "task %q blocks on itself", task.ID)
			}
			if _, known := plan.tasks[dep]; !known {
				return nil, fault.New(fault.KindValidation, "task %q blocks on unknown task %q", task.ID, dep)
			}
		}
	}

	if err := plan.checkAcyclic(); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkAcyclic runs Kahn's algorithm over the blocked_by edges.
func (p *Plan) checkAcyclic() error {
	indegree := make(map[string]int, len(p.tasks))
	dependents := make(map[string][]string, len(p.tasks))
	for id, task := range p.tasks {
		indegree[id] = len(task.BlockedBy)
		for _, dep := range task.BlockedBy {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var frontier []string
	for _, id := range p.order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	visited := 0
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		visited++
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				frontier = append(frontier, dependent)
			}
		}
	}
	if visited != len(p.tasks) {
		return fault.New(fault.KindValidation, "execution plan contains a dependency cycle")
	}
	return nil
}

// Tasks returns the plan's tasks in input order.
func (p *Plan) Tasks() []*models.Task {
	result := make([]*models.Task, 0, len(p.order))
	for _, id := range p.order {
		result = append(result, p.tasks[id])
	}
	return result
}

// Get returns the task with the given id, or nil.
func (p *Plan) Get(id string) *models.Task {
	return p.tasks[id]
}

// Len returns the number of tasks in the plan.
func (p *Plan) Len() int {
	return len(p.tasks)
}
