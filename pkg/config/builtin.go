package config

// GetBuiltinProviders returns the built-in provider connection defaults.
// User-defined entries in providers.yaml override these per key.
func GetBuiltinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"anthropic": {
			Type:        ProviderTypeAnthropic,
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			BaseURL:     "https://api.anthropic.com",
			ToolSupport: true,
		},
		"deepseek": {
			Type:        ProviderTypeDeepSeek,
			APIKeyEnv:   "DEEPSEEK_API_KEY",
			BaseURL:     "https://api.deepseek.com",
			ToolSupport: true,
		},
		"minimax": {
			Type:        ProviderTypeMiniMax,
			APIKeyEnv:   "MINIMAX_API_KEY",
			BaseURL:     "https://api.minimax.io",
			ToolSupport: true,
		},
		"ollama": {
			Type:        ProviderTypeOllama,
			BaseURL:     "http://localhost:11434",
			ToolSupport: false,
		},
	}
}

// mergeProviders merges built-in and user-defined provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeProviders(builtin map[string]ProviderConfig, user map[string]ProviderConfig) map[string]*ProviderConfig {
	result := make(map[string]*ProviderConfig)

	for name, provider := range builtin {
		providerCopy := provider
		result[name] = &providerCopy
	}
	for name, userProvider := range user {
		providerCopy := userProvider
		result[name] = &providerCopy
	}
	return result
}
