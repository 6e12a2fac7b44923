package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/steward-ai/steward/pkg/models"
)

// ToolFunc executes one tool invocation. arguments is the JSON-encoded
// argument object from the model; the returned string is fed back as the
// tool result message.
type ToolFunc func(ctx context.Context, arguments string) (string, error)

type registeredTool struct {
	definition models.ToolDefinition
	fn         ToolFunc
}

// ToolRegistry holds the named tools agents may reference. Tools are
// opaque to the dispatcher; callers register them at startup.
type ToolRegistry struct {
	tools map[string]registeredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds or replaces a tool under its definition name.
func (r *ToolRegistry) Register(definition models.ToolDefinition, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[definition.Name] = registeredTool{definition: definition, fn: fn}
}

// Definitions resolves the named tools to their definitions, silently
// dropping names with no registration.
func (r *ToolRegistry) Definitions(names []string) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]models.ToolDefinition, 0, len(names))
	for _, name := range names {
		if tool, exists := r.tools[name]; exists {
			definitions = append(definitions, tool.definition)
		}
	}
	return definitions
}

// Invoke runs the named tool. An unknown name or a tool error is
// reported as text so the model can react; the tool loop never aborts on
// a single bad invocation.
func (r *ToolRegistry) Invoke(ctx context.Context, name, arguments string) string {
	r.mu.RLock()
	tool, exists := r.tools[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Sprintf("error: tool %q is not registered", name)
	}
	result, err := tool.fn(ctx, arguments)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return result
}
