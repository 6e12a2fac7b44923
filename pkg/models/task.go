package models

import "time"

// PoolName identifies the worker pool a task runs on.
type PoolName string

const (
	PoolCodegen  PoolName = "codegen"
	PoolSecurity PoolName = "security"
	PoolDatabase PoolName = "database"
)

// IsValid checks if the pool name is one of the known set.
func (p PoolName) IsValid() bool {
	return p == PoolCodegen || p == PoolSecurity || p == PoolDatabase
}

// TaskStatus tracks a task through its lifecycle. Legal transitions:
// pending → running → (completed | failed | timeout); failed may re-enter
// pending up to max_retries; completed and timeout are terminal.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimeout   TaskStatus = "timeout"
)

// Terminal reports whether no further transition is possible. A failed
// task is terminal only once its retry budget is exhausted; callers must
// check retries separately.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusTimeout
}

// Task is a unit of parallel work inside an execution plan.
type Task struct {
	ID             string         `json:"id"`
	Pool           PoolName       `json:"pool"`
	Prompt         string         `json:"prompt"`
	Priority       int            `json:"priority"` // lower is sooner
	TimeoutSeconds int            `json:"timeout_seconds"`
	MaxRetries     int            `json:"max_retries"`
	BlockedBy      []string       `json:"blocked_by,omitempty"`
	Status         TaskStatus     `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      time.Time      `json:"started_at,omitempty"`
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
}
