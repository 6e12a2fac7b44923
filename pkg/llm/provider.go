package llm

import (
	"context"
	"time"

	"github.com/steward-ai/steward/pkg/models"
)

// defaultHTTPTimeout bounds a single provider round trip when the caller
// does not set a tighter deadline on the context.
const defaultHTTPTimeout = 120 * time.Second

// GenerateInput carries everything one completion call needs.
type GenerateInput struct {
	Model       string
	Messages    []models.ConversationMessage
	Tools       []models.ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Completion is the normalized result of a provider call.
type Completion struct {
	Content      string
	ToolCalls    []models.ToolCall
	TokensInput  int
	TokensOutput int
	StopReason   string
}

// Provider is a single LLM backend (Anthropic, DeepSeek, MiniMax, Ollama).
// Implementations translate the normalized input to the provider's wire
// format and classify failures into fault kinds.
type Provider interface {
	// Name returns the registry key of this provider.
	Name() string

	// SupportsTools reports whether the provider accepts tool definitions.
	SupportsTools() bool

	// Generate performs one non-streaming completion call.
	Generate(ctx context.Context, input *GenerateInput) (*Completion, error)
}
