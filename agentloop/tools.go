package agentloop

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/supernova/unifiedllm"
)

// ToolExecutor runs a tool with validated arguments inside an acquired
// execution scope. Non-string outputs are JSON-encoded by the dispatcher.
type ToolExecutor func(ctx context.Context, args Arguments, scope *ExecScope) (any, error)

// ToolDefinition describes a tool for the LLM and for help output.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      ArgumentSchema `json:"schema"`
	Examples    []string       `json:"examples,omitempty"`
}

// RegisteredTool pairs a tool definition with its executor.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor

	// SideEffecting tools (command execution, file mutation) pass through
	// the confirmation gate.
	SideEffecting bool

	// Command extracts the literal shell command from the arguments so the
	// safety filter can classify it. Nil for tools that do not run commands.
	Command func(args Arguments) string
}

// ToolRegistry manages tool registration and lookup.
type ToolRegistry struct {
	tools map[string]*RegisteredTool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*RegisteredTool),
	}
}

// Register adds a tool. Registering a name twice fails with ErrDuplicateTool.
func (r *ToolRegistry) Register(tool RegisteredTool) error {
	name := tool.Definition.Name
	if name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if tool.Executor == nil {
		return fmt.Errorf("register tool %q: executor is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %q: %w", name, ErrDuplicateTool)
	}
	r.tools[name] = &tool
	return nil
}

// Lookup returns a registered tool by name.
func (r *ToolRegistry) Lookup(name string) (*RegisteredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Definitions returns all tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToUnifiedLLMToolDefs converts registry definitions to the provider-facing
// form with rendered JSON schemas.
func (r *ToolRegistry) ToUnifiedLLMToolDefs() []unifiedllm.ToolDefinition {
	defs := r.Definitions()
	result := make([]unifiedllm.ToolDefinition, len(defs))
	for i, d := range defs {
		result[i] = unifiedllm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema.JSONSchema(),
		}
	}
	return result
}
