package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// StewardYAMLConfig represents the complete steward.yaml file structure.
// Unknown keys are ignored for forward compatibility; recognized keys are
// validated after loading.
type StewardYAMLConfig struct {
	Agents       map[string]AgentConfig `yaml:"agents"`
	Router       *RouterConfig          `yaml:"router"`
	Budget       *BudgetConfig          `yaml:"budget"`
	Dispatch     *DispatchConfig        `yaml:"dispatch"`
	Orchestrator *OrchestratorConfig    `yaml:"orchestrator"`
	Sessions     *SessionConfig         `yaml:"sessions"`
	Server       *ServerConfig          `yaml:"server"`
}

// ProvidersYAMLConfig represents the providers.yaml file structure.
type ProvidersYAMLConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Merge built-in defaults with user-defined configuration
//  4. Build in-memory registries
//  5. Validate all configuration (invalid configurations refuse to start)
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"providers", stats.Providers)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	// 1. steward.yaml (agents, router, budget, dispatch, orchestrator, sessions, server)
	stewardCfg, err := loadStewardYAML(configDir)
	if err != nil {
		return nil, NewLoadError("steward.yaml", err)
	}

	// 2. providers.yaml (optional — built-ins cover the closed provider set)
	userProviders, err := loadProvidersYAML(configDir)
	if err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	// 3. Merge user config over built-in defaults. Section structs use
	// mergo (user values win, zero fields fall back); provider entries
	// merge per key.
	providers := mergeProviders(GetBuiltinProviders(), userProviders)

	router := stewardCfg.Router
	if router == nil {
		router = &RouterConfig{}
	}
	if err := mergo.Merge(router, DefaultRouterConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge router defaults: %w", err)
	}

	budget := stewardCfg.Budget
	if budget == nil {
		budget = &BudgetConfig{}
	}
	if err := mergo.Merge(budget, DefaultBudgetConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge budget defaults: %w", err)
	}

	dispatch := stewardCfg.Dispatch
	if dispatch == nil {
		dispatch = &DispatchConfig{}
	}
	if err := mergo.Merge(dispatch, DefaultDispatchConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge dispatch defaults: %w", err)
	}

	orch := stewardCfg.Orchestrator
	if orch == nil {
		orch = &OrchestratorConfig{}
	}
	if err := mergo.Merge(orch, DefaultOrchestratorConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge orchestrator defaults: %w", err)
	}

	sessions := stewardCfg.Sessions
	if sessions == nil {
		sessions = &SessionConfig{}
	}
	if err := mergo.Merge(sessions, DefaultSessionConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge session defaults: %w", err)
	}

	server := stewardCfg.Server
	if server == nil {
		server = &ServerConfig{}
	}

	agents := make(map[string]*AgentConfig, len(stewardCfg.Agents))
	for id, agent := range stewardCfg.Agents {
		agentCopy := agent
		agents[id] = &agentCopy
	}

	return &Config{
		configDir:        configDir,
		AgentRegistry:    NewAgentRegistry(agents),
		ProviderRegistry: NewProviderRegistry(providers),
		Router:           router,
		Budget:           budget,
		Dispatch:         dispatch,
		Orchestrator:     orch,
		Sessions:         sessions,
		Server:           server,
	}, nil
}

func loadStewardYAML(configDir string) (*StewardYAMLConfig, error) {
	path := filepath.Join(configDir, "steward.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg StewardYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

func loadProvidersYAML(configDir string) (map[string]ProviderConfig, error) {
	path := filepath.Join(configDir, "providers.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Optional file — built-in providers apply.
			return nil, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg ProvidersYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return cfg.Providers, nil
}
