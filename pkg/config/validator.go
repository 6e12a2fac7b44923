package config

import (
	"fmt"
)

// Validator validates configuration comprehensively with clear error
// messages (fail-fast — stops at the first error).
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation. Order matters: agents
// reference providers, the router and dispatcher reference agents.
func (v *Validator) ValidateAll() error {
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateRouter(); err != nil {
		return fmt.Errorf("router validation failed: %w", err)
	}
	if err := v.validateBudget(); err != nil {
		return fmt.Errorf("budget validation failed: %w", err)
	}
	if err := v.validateDispatch(); err != nil {
		return fmt.Errorf("dispatch validation failed: %w", err)
	}
	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateProviders() error {
	for name, provider := range v.cfg.ProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("unknown provider type: %s", provider.Type))
		}
		if provider.BaseURL == "" {
			return NewValidationError("provider", name, "base_url", fmt.Errorf("base URL required"))
		}
	}
	return nil
}

func (v *Validator) validateAgents() error {
	agents := v.cfg.AgentRegistry.GetAll()
	if len(agents) == 0 {
		return NewValidationError("agents", "", "", fmt.Errorf("at least one agent required"))
	}

	for id, agent := range agents {
		if !agent.Provider.IsValid() {
			return NewValidationError("agent", id, "provider", fmt.Errorf("unknown provider type: %s", agent.Provider))
		}
		if !v.cfg.ProviderRegistry.Has(string(agent.Provider)) {
			return NewValidationError("agent", id, "provider", fmt.Errorf("provider '%s' not configured", agent.Provider))
		}
		if agent.Model == "" {
			return NewValidationError("agent", id, "model", fmt.Errorf("model required"))
		}
		if agent.CostPerInputToken < 0 || agent.CostPerOutputToken < 0 {
			return NewValidationError("agent", id, "cost_per_token", fmt.Errorf("token rates must be nonnegative"))
		}
		for intent, weight := range agent.IntentAffinities {
			if !intent.IsValid() {
				return NewValidationError("agent", id, "intent_affinities", fmt.Errorf("unknown intent: %s", intent))
			}
			if weight < 0 || weight > 1 {
				return NewValidationError("agent", id, "intent_affinities", fmt.Errorf("affinity for %s must be in [0,1], got %g", intent, weight))
			}
		}
		for _, fallbackID := range agent.Fallbacks {
			if fallbackID == id {
				return NewValidationError("agent", id, "fallbacks", fmt.Errorf("agent cannot fall back to itself"))
			}
			if !v.cfg.AgentRegistry.Has(fallbackID) {
				return NewValidationError("agent", id, "fallbacks", fmt.Errorf("fallback agent '%s' not found", fallbackID))
			}
		}
	}
	return nil
}

func (v *Validator) validateRouter() error {
	r := v.cfg.Router
	if r.DefaultAgent == "" {
		return NewValidationError("router", "", "default_agent", fmt.Errorf("default agent required"))
	}
	if !v.cfg.AgentRegistry.Has(r.DefaultAgent) {
		return NewValidationError("router", "", "default_agent", fmt.Errorf("agent '%s' not found", r.DefaultAgent))
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return NewValidationError("router", "", "min_score", fmt.Errorf("must be in [0,1], got %g", r.MinScore))
	}
	if r.CacheTTL <= 0 {
		return NewValidationError("router", "", "cache_ttl", fmt.Errorf("must be positive"))
	}
	if !r.CacheBackend.IsValid() {
		return NewValidationError("router", "", "cache_backend", fmt.Errorf("unknown backend: %s", r.CacheBackend))
	}
	if r.CacheBackend == CacheBackendRedis && r.RedisAddr == "" {
		return NewValidationError("router", "", "redis_addr", fmt.Errorf("required for redis cache backend"))
	}
	return nil
}

func (v *Validator) validateBudget() error {
	b := v.cfg.Budget
	if b.LedgerPath == "" {
		return NewValidationError("budget", "", "ledger_path", fmt.Errorf("ledger path required"))
	}
	checkTier := func(scope, name string, t Tier) error {
		if t.LimitUSD <= 0 {
			return NewValidationError("budget", scope, name, fmt.Errorf("limit must be positive"))
		}
		if t.WarnUSD <= 0 || t.WarnUSD >= t.LimitUSD {
			return NewValidationError("budget", scope, name, fmt.Errorf("warning threshold must be in (0, limit)"))
		}
		return nil
	}
	if err := checkTier("defaults", "per_task", b.PerTask); err != nil {
		return err
	}
	if err := checkTier("defaults", "daily", b.Daily); err != nil {
		return err
	}
	if err := checkTier("defaults", "monthly", b.Monthly); err != nil {
		return err
	}
	for project, override := range b.Projects {
		if override == nil {
			continue
		}
		if override.PerTask != nil {
			if err := checkTier(project, "per_task", *override.PerTask); err != nil {
				return err
			}
		}
		if override.Daily != nil {
			if err := checkTier(project, "daily", *override.Daily); err != nil {
				return err
			}
		}
		if override.Monthly != nil {
			if err := checkTier(project, "monthly", *override.Monthly); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) validateDispatch() error {
	d := v.cfg.Dispatch
	if d.TimeoutSeconds < 1 {
		return NewValidationError("dispatch", "", "timeout_seconds", fmt.Errorf("must be at least 1"))
	}
	if d.MaxRetriesPerModel < 0 {
		return NewValidationError("dispatch", "", "max_retries_per_model", fmt.Errorf("must be nonnegative"))
	}
	if d.ToolExecutionFallback != "" {
		fallback, err := v.cfg.AgentRegistry.Get(d.ToolExecutionFallback)
		if err != nil {
			return NewValidationError("dispatch", "", "tool_execution_fallback", fmt.Errorf("agent '%s' not found", d.ToolExecutionFallback))
		}
		provider, err := v.cfg.ProviderRegistry.Get(string(fallback.Provider))
		if err != nil {
			return NewValidationError("dispatch", "", "tool_execution_fallback", err)
		}
		if !provider.ToolSupport {
			return NewValidationError("dispatch", "", "tool_execution_fallback",
				fmt.Errorf("agent '%s' uses provider '%s' which lacks tool support", d.ToolExecutionFallback, fallback.Provider))
		}
	}
	return nil
}

func (v *Validator) validateOrchestrator() error {
	o := v.cfg.Orchestrator
	if o.CoordinatorAgent != "" && !v.cfg.AgentRegistry.Has(o.CoordinatorAgent) {
		return NewValidationError("orchestrator", "", "coordinator_agent", fmt.Errorf("agent '%s' not found", o.CoordinatorAgent))
	}
	for name, pool := range o.Pools {
		if !name.IsValid() {
			return NewValidationError("pool", string(name), "", fmt.Errorf("unknown pool name"))
		}
		if pool == nil {
			continue
		}
		if pool.Concurrency < 1 {
			return NewValidationError("pool", string(name), "concurrency", fmt.Errorf("must be at least 1"))
		}
		if pool.TaskTimeout <= 0 {
			return NewValidationError("pool", string(name), "task_timeout", fmt.Errorf("must be positive"))
		}
		if pool.MaxRetries < 0 {
			return NewValidationError("pool", string(name), "max_retries", fmt.Errorf("must be nonnegative"))
		}
		if pool.PreferredAgent != "" && !v.cfg.AgentRegistry.Has(pool.PreferredAgent) {
			return NewValidationError("pool", string(name), "preferred_agent", fmt.Errorf("agent '%s' not found", pool.PreferredAgent))
		}
	}
	return nil
}
