package config

// Config is the umbrella configuration object returned by Initialize()
// and passed through the process. Never mutated after startup.
type Config struct {
	configDir string

	AgentRegistry    *AgentRegistry
	ProviderRegistry *ProviderRegistry

	Router       *RouterConfig
	Budget       *BudgetConfig
	Dispatch     *DispatchConfig
	Orchestrator *OrchestratorConfig
	Sessions     *SessionConfig
	Server       *ServerConfig
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Agents    int
	Providers int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	if c.ProviderRegistry != nil {
		s.Providers = c.ProviderRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgent retrieves an agent configuration by id.
func (c *Config) GetAgent(id string) (*AgentConfig, error) {
	return c.AgentRegistry.Get(id)
}

// GetProvider retrieves a provider configuration by name.
func (c *Config) GetProvider(name string) (*ProviderConfig, error) {
	return c.ProviderRegistry.Get(name)
}
