package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is a named function the assistant runtime can invoke mid-turn.
// Schema returns the JSON Schema for the tool's input object.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolFunc adapts a plain function into a Tool.
type ToolFunc struct {
	ToolName        string
	ToolDescription string
	InputSchema     json.RawMessage
	Fn              func(ctx context.Context, input json.RawMessage) (string, error)
}

func (t *ToolFunc) Name() string             { return t.ToolName }
func (t *ToolFunc) Description() string      { return t.ToolDescription }
func (t *ToolFunc) Schema() json.RawMessage  { return t.InputSchema }
func (t *ToolFunc) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return t.Fn(ctx, input)
}

// ToolRegistry holds the tools available to a runtime.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the named tool.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools ordered by name so provider tool definitions are
// stable across requests.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute runs the named tool. Unknown tools and tool failures are reported
// as error results, not Go errors, so a bad call never aborts the turn loop.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (string, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), true
	}
	out, err := tool.Execute(ctx, input)
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", name, err), true
	}
	return out, false
}
