package config

import "time"

// RouterConfig controls agent selection and the decision cache.
type RouterConfig struct {
	// DefaultAgent receives queries no agent scores above the minimum for.
	DefaultAgent string `yaml:"default_agent"`

	// MinScore below which the default agent is used.
	MinScore float64 `yaml:"min_score"`

	// CacheTTL bounds how long a routing decision may be served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheBackend selects memory (default) or redis.
	CacheBackend CacheBackend `yaml:"cache_backend,omitempty"`

	// RedisAddr is required when CacheBackend is redis.
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// Embedder settings for the opt-in semantic scorer.
	EmbedderURL   string `yaml:"embedder_url,omitempty"`
	EmbedderModel string `yaml:"embedder_model,omitempty"`
}

// DefaultRouterConfig returns the built-in router defaults.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MinScore:      0.1,
		CacheTTL:      300 * time.Second,
		CacheBackend:  CacheBackendMemory,
		EmbedderModel: "nomic-embed-text",
	}
}
