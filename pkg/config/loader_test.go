package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-ai/steward/pkg/models"
)

const validStewardYAML = `
agents:
  db-agent:
    display_name: Database Agent
    provider: deepseek
    model: deepseek-chat
    cost_per_input_token: 0.27
    cost_per_output_token: 1.10
    skills: [sql, schema, postgres, query]
    intent_affinities:
      database: 0.9
    fallbacks: [general-agent]
  general-agent:
    display_name: Generalist
    provider: anthropic
    model: claude-sonnet-4-20250514
    cost_per_input_token: 3.0
    cost_per_output_token: 15.0
    skills: [general]
router:
  default_agent: general-agent
budget:
  ledger_path: {{.LEDGER_PATH}}
orchestrator:
  coordinator_agent: general-agent
`

func setupTestConfigDir(t *testing.T) string {
	t.Helper()
	configDir := t.TempDir()
	err := os.WriteFile(filepath.Join(configDir, "steward.yaml"), []byte(validStewardYAML), 0644)
	require.NoError(t, err)
	return configDir
}

func TestInitialize(t *testing.T) {
	t.Setenv("LEDGER_PATH", filepath.Join(t.TempDir(), "costs.jsonl"))
	configDir := setupTestConfigDir(t)

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Registries populated, built-in providers merged in.
	assert.True(t, cfg.AgentRegistry.Has("db-agent"))
	assert.True(t, cfg.AgentRegistry.Has("general-agent"))
	assert.True(t, cfg.ProviderRegistry.Has("anthropic"))
	assert.True(t, cfg.ProviderRegistry.Has("deepseek"))
	assert.True(t, cfg.ProviderRegistry.Has("ollama"))

	// Defaults applied where the YAML is silent.
	assert.Equal(t, 300*time.Second, cfg.Router.CacheTTL)
	assert.Equal(t, 0.1, cfg.Router.MinScore)
	assert.Equal(t, CacheBackendMemory, cfg.Router.CacheBackend)
	assert.Equal(t, 30, cfg.Dispatch.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetriesPerModel)
	assert.Equal(t, 10.0, cfg.Budget.PerTask.LimitUSD)
	assert.Equal(t, 50.0, cfg.Budget.Daily.LimitUSD)
	assert.Equal(t, 1000.0, cfg.Budget.Monthly.LimitUSD)

	// Env expansion applied.
	assert.Equal(t, os.Getenv("LEDGER_PATH"), cfg.Budget.LedgerPath)

	// Pool defaults.
	codegen := cfg.Orchestrator.Pool(models.PoolCodegen)
	assert.Equal(t, 3, codegen.Concurrency)
	assert.Equal(t, 300*time.Second, codegen.TaskTimeout)
	database := cfg.Orchestrator.Pool(models.PoolDatabase)
	assert.Equal(t, 2, database.Concurrency)
	assert.Equal(t, 180*time.Second, database.TaskTimeout)

	stats := cfg.Stats()
	assert.Equal(t, 2, stats.Agents)
	assert.GreaterOrEqual(t, stats.Providers, 4)
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), "/nonexistent/directory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeInvalidYAML(t *testing.T) {
	configDir := t.TempDir()
	err := os.WriteFile(filepath.Join(configDir, "steward.yaml"), []byte("agents: [unclosed"), 0644)
	require.NoError(t, err)

	_, err = Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	configDir := t.TempDir()
	badConfig := `
agents:
  broken:
    provider: deepseek
    model: deepseek-chat
    fallbacks: [missing-agent]
router:
  default_agent: broken
`
	err := os.WriteFile(filepath.Join(configDir, "steward.yaml"), []byte(badConfig), 0644)
	require.NoError(t, err)

	_, err = Initialize(context.Background(), configDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestInitializeIgnoresUnknownKeys(t *testing.T) {
	configDir := t.TempDir()
	withUnknown := validStewardYAML + `
future_section:
  some_key: some_value
`
	t.Setenv("LEDGER_PATH", filepath.Join(t.TempDir(), "costs.jsonl"))
	err := os.WriteFile(filepath.Join(configDir, "steward.yaml"), []byte(withUnknown), 0644)
	require.NoError(t, err)

	_, err = Initialize(context.Background(), configDir)
	require.NoError(t, err)
}

func TestProvidersYAMLOverride(t *testing.T) {
	t.Setenv("LEDGER_PATH", filepath.Join(t.TempDir(), "costs.jsonl"))
	configDir := setupTestConfigDir(t)
	providersYAML := `
providers:
  ollama:
    type: ollama
    base_url: http://gpu-box:11434
`
	err := os.WriteFile(filepath.Join(configDir, "providers.yaml"), []byte(providersYAML), 0644)
	require.NoError(t, err)

	cfg, err := Initialize(context.Background(), configDir)
	require.NoError(t, err)

	ollama, err := cfg.GetProvider("ollama")
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-box:11434", ollama.BaseURL)
}

func TestAgentSetVersionStable(t *testing.T) {
	agents := map[string]*AgentConfig{
		"a": {Provider: ProviderTypeDeepSeek, Model: "deepseek-chat", CostPerInputToken: 1, CostPerOutputToken: 2},
		"b": {Provider: ProviderTypeOllama, Model: "llama3", CostPerInputToken: 0, CostPerOutputToken: 0},
	}
	r1 := NewAgentRegistry(agents)
	r2 := NewAgentRegistry(agents)
	assert.Equal(t, r1.SetVersion(), r2.SetVersion())

	agents["c"] = &AgentConfig{Provider: ProviderTypeAnthropic, Model: "claude", CostPerInputToken: 3, CostPerOutputToken: 15}
	r3 := NewAgentRegistry(agents)
	assert.NotEqual(t, r1.SetVersion(), r3.SetVersion())
}
