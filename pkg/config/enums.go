package config

// ProviderType defines supported LLM providers. New providers enter
// through explicit adapter registration at startup, never at runtime.
type ProviderType string

const (
	// ProviderTypeAnthropic is the Anthropic Messages API
	ProviderTypeAnthropic ProviderType = "anthropic"
	// ProviderTypeDeepSeek is the DeepSeek chat-completions API
	ProviderTypeDeepSeek ProviderType = "deepseek"
	// ProviderTypeMiniMax is the MiniMax chat-completions API
	ProviderTypeMiniMax ProviderType = "minimax"
	// ProviderTypeOllama is a local Ollama server
	ProviderTypeOllama ProviderType = "ollama"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeDeepSeek, ProviderTypeMiniMax, ProviderTypeOllama:
		return true
	default:
		return false
	}
}

// CacheBackend selects where the router keeps its decision cache.
type CacheBackend string

const (
	// CacheBackendMemory is the in-process TTL map (default)
	CacheBackendMemory CacheBackend = "memory"
	// CacheBackendRedis is a shared Redis-backed cache
	CacheBackendRedis CacheBackend = "redis"
)

// IsValid checks if the cache backend is valid
func (b CacheBackend) IsValid() bool {
	return b == CacheBackendMemory || b == CacheBackendRedis
}
