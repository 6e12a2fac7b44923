package config

import (
	"time"

	"github.com/steward-ai/steward/pkg/models"
)

// PoolConfig bounds one orchestrator worker pool.
type PoolConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `yaml:"concurrency"`

	// TaskTimeout is the default per-task execution bound.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// MaxRetries is the default per-task retry budget.
	MaxRetries int `yaml:"max_retries"`

	// PreferredAgent, when set, is passed to the router as a hint for
	// tasks submitted to this pool.
	PreferredAgent string `yaml:"preferred_agent,omitempty"`
}

// OrchestratorConfig controls plan execution and synthesis.
type OrchestratorConfig struct {
	// CoordinatorAgent receives the final synthesis call.
	CoordinatorAgent string `yaml:"coordinator_agent"`

	Pools map[models.PoolName]*PoolConfig `yaml:"pools,omitempty"`
}

// DefaultOrchestratorConfig returns the built-in pool defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Pools: map[models.PoolName]*PoolConfig{
			models.PoolCodegen:  {Concurrency: 3, TaskTimeout: 300 * time.Second, MaxRetries: 2},
			models.PoolSecurity: {Concurrency: 2, TaskTimeout: 300 * time.Second, MaxRetries: 2},
			models.PoolDatabase: {Concurrency: 2, TaskTimeout: 180 * time.Second, MaxRetries: 2},
		},
	}
}

// Pool resolves the configuration for a pool, falling back to the
// built-in defaults for unknown or partially specified pools.
func (c *OrchestratorConfig) Pool(name models.PoolName) *PoolConfig {
	if p, ok := c.Pools[name]; ok && p != nil {
		return p
	}
	return DefaultOrchestratorConfig().Pools[name]
}
