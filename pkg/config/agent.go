// Package config provides configuration management for the steward gateway:
// agents, providers, router, budget, dispatch, and orchestrator settings.
package config

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/steward-ai/steward/pkg/models"
)

// AgentConfig defines a named capability handler. Agents are created at
// startup from configuration and are immutable for the process lifetime.
type AgentConfig struct {
	// Human-readable display name
	DisplayName string `yaml:"display_name,omitempty"`

	// Provider this agent calls (required)
	Provider ProviderType `yaml:"provider"`

	// Model identifier understood by the provider (required)
	Model string `yaml:"model"`

	// USD per million input/output tokens (nonnegative)
	CostPerInputToken  float64 `yaml:"cost_per_input_token"`
	CostPerOutputToken float64 `yaml:"cost_per_output_token"`

	// Skill tags matched against query tokens
	Skills []string `yaml:"skills,omitempty"`

	// Intent affinities: intent tag → weight in [0,1]
	IntentAffinities map[models.Intent]float64 `yaml:"intent_affinities,omitempty"`

	// Ordered fallback agent identifiers tried after this agent is exhausted
	Fallbacks []string `yaml:"fallbacks,omitempty"`

	// Tools available to this agent (names in the tool registry)
	Tools []string `yaml:"tools,omitempty"`

	// Optional persona prepended as the system prompt
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// CostPerToken is the blended per-million-token rate used for cost scoring
// and for routing tie-breaks.
func (a *AgentConfig) CostPerToken() float64 {
	return (a.CostPerInputToken + a.CostPerOutputToken) / 2
}

// AgentRegistry stores agent configurations in memory with thread-safe
// access. The registry is immutable after construction; SetVersion is a
// stable fingerprint of the agent set used in router cache keys.
type AgentRegistry struct {
	agents  map[string]*AgentConfig
	version string
	mu      sync.RWMutex
}

// NewAgentRegistry creates a new agent registry
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*AgentConfig, len(agents))
	for k, v := range agents {
		copied[k] = v
	}
	return &AgentRegistry{
		agents:  copied,
		version: fingerprint(copied),
	}
}

// fingerprint hashes the sorted agent ids, models, and rates. Any change
// to the agent set changes the fingerprint and therefore every cache key.
func fingerprint(agents map[string]*AgentConfig) string {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		a := agents[id]
		fmt.Fprintf(h, "%s|%s|%s|%g|%g;", id, a.Provider, a.Model, a.CostPerInputToken, a.CostPerOutputToken)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Get retrieves an agent configuration by id (thread-safe)
func (r *AgentRegistry) Get(id string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// GetAll returns all agent configurations (thread-safe, returns copy)
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent exists in the registry (thread-safe)
func (r *AgentRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[id]
	return exists
}

// Len returns the number of agents in the registry (thread-safe)
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// IDs returns the sorted agent identifiers.
func (r *AgentRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetVersion returns the agent-set fingerprint.
func (r *AgentRegistry) SetVersion() string {
	return r.version
}
