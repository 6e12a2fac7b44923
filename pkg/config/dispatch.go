package config

// DispatchConfig controls provider call retry, timeout, and tool handling.
type DispatchConfig struct {
	// TimeoutSeconds is the per-attempt upper bound.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxRetriesPerModel bounds retries before advancing the fallback chain.
	MaxRetriesPerModel int `yaml:"max_retries_per_model"`

	// ToolExecutionFallback names the agent whose provider/model handles
	// tool-use calls when the selected provider lacks native tool support.
	ToolExecutionFallback string `yaml:"tool_execution_fallback,omitempty"`
}

// DefaultDispatchConfig returns the built-in dispatcher defaults.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		TimeoutSeconds:     30,
		MaxRetriesPerModel: 3,
	}
}
