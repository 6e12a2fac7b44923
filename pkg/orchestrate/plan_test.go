package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-ai/steward/pkg/fault"
	"github.com/steward-ai/steward/pkg/models"
)

func task(id string, pool models.PoolName, deps ...string) *models.Task {
	return &models.Task{ID: id, Pool: pool, Prompt: "do " + id, BlockedBy: deps}
}

func TestNewPlanValid(t *testing.T) {
	plan, err := NewPlan([]*models.Task{
		task("t1", models.PoolCodegen),
		task("t2", models.PoolDatabase),
		task("t3", models.PoolSecurity, "t1", "t2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Len())

	tasks := plan.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t3", tasks[2].ID)
	for _, tk := range tasks {
		assert.Equal(t, models.TaskStatusPending, tk.Status)
		assert.False(t, tk.CreatedAt.IsZero())
	}
	assert.Equal(t, tasks[1], plan.Get("t2"))
}

func TestNewPlanAssignsIDs(t *testing.T) {
	plan, err := NewPlan([]*models.Task{
		{Pool: models.PoolCodegen, Prompt: "anonymous work"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Tasks()[0].ID)
}

func TestNewPlanRejections(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.Task
	}{
		{"empty plan", nil},
		{"duplicate id", []*models.Task{task("t1", models.PoolCodegen), task("t1", models.PoolSecurity)}},
		{"invalid pool", []*models.Task{task("t1", "frontend")}},
		{"empty prompt", []*models.Task{{ID: "t1", Pool: models.PoolCodegen}}},
		{"unknown dependency", []*models.Task{task("t1", models.PoolCodegen, "ghost")}},
		{"self dependency", []*models.Task{task("t1", models.PoolCodegen, "t1")}},
		{"cycle", []*models.Task{
			task("t1", models.PoolCodegen, "t3"),
			task("t2", models.PoolCodegen, "t1"),
			task("t3", models.PoolCodegen, "t2"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.tasks)
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindValidation))
		})
	}
}
