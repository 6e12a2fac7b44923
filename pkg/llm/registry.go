package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/fault"
)

// Registry holds one constructed Provider per configured provider name.
type Registry struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry builds a provider adapter for every configured provider.
// API keys are resolved from the environment at construction time; a
// provider with a missing key is still registered (calls against it fail
// with an authentication fault from the backend) so that a deployment
// using only a subset of providers does not need every key present.
func NewRegistry(providers map[string]*config.ProviderConfig) (*Registry, error) {
	registry := &Registry{providers: make(map[string]Provider, len(providers))}
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}

	for name, cfg := range providers {
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
			if apiKey == "" {
				slog.Warn("Provider API key not set",
					"provider", name,
					"env_var", cfg.APIKeyEnv)
			}
		}

		var provider Provider
		switch cfg.Type {
		case config.ProviderTypeAnthropic:
			provider = &anthropicProvider{
				name:        name,
				baseURL:     cfg.BaseURL,
				apiKey:      apiKey,
				toolSupport: cfg.ToolSupport,
				httpClient:  httpClient,
			}
		case config.ProviderTypeDeepSeek, config.ProviderTypeMiniMax:
			provider = &openaiCompatProvider{
				name:        name,
				baseURL:     cfg.BaseURL,
				apiKey:      apiKey,
				toolSupport: cfg.ToolSupport,
				httpClient:  httpClient,
			}
		case config.ProviderTypeOllama:
			provider = &ollamaProvider{
				name:       name,
				baseURL:    cfg.BaseURL,
				httpClient: httpClient,
			}
		default:
			return nil, fmt.Errorf("unknown provider type %q for provider %q", cfg.Type, name)
		}

		registry.providers[name] = provider
		slog.Debug("Registered LLM provider", "provider", name, "type", cfg.Type)
	}

	slog.Info("LLM provider registry initialized", "providers", len(registry.providers))
	return registry, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fault.New(fault.KindValidation, "provider %q not registered", name)
	}
	return provider, nil
}

// Register adds or replaces a provider. Used by tests to install fakes.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
