package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ExecFunc executes a tool with parsed arguments. Implementations return a
// ToolResult even for tool-level failures; a non-nil error is reserved for
// invocation problems and is converted into an error observation by the
// dispatcher.
type ExecFunc func(ctx context.Context, args map[string]any) (*ToolResult, error)

// Tool is one invocable capability: a locally-implemented function or a
// proxy for a remotely-hosted tool. Tools are treated as immutable after
// registration.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	// Terminating marks a tool whose successful execution ends the run.
	// Terminating tools are never removed while the registry lives.
	Terminating bool

	Execute ExecFunc

	// Cleanup, when set, releases resources held by the tool. Invoked once
	// during agent teardown.
	Cleanup func(ctx context.Context) error
}

// Schema returns the tool's model-facing schema triple.
func (t *Tool) Schema() ToolSchema {
	return ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// ToolRegistry is the mutable collection of capabilities, keyed by name and
// ordered by registration. It may be mutated (remote tool add/remove)
// concurrently with an in-flight dispatch; dispatch isolation comes from
// capturing a Snapshot at batch start.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any previous registration with the same
// name while keeping its original position.
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("registry: tool requires a name")
	}
	if tool.Execute == nil {
		return fmt.Errorf("registry: tool %q requires an executor", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Deregister removes a tool by name. Terminating tools are protected and
// never removed; the call reports whether a removal happened.
func (r *ToolRegistry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, ok := r.tools[name]
	if !ok || tool.Terminating {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns a registered tool by name.
func (r *ToolRegistry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools in registration order.
func (r *ToolRegistry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas exports the name/description/parameter triples sent to the model
// on every Think call, in registration order.
func (r *ToolRegistry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema())
	}
	return out
}

// Snapshot captures an immutable view of the registry. A dispatch batch
// resolves every call against one snapshot, so concurrent mutations never
// expose a partially-updated tool set mid-batch.
func (r *ToolRegistry) Snapshot() *RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make(map[string]*Tool, len(r.tools))
	for name, tool := range r.tools {
		tools[name] = tool
	}
	order := make([]string, len(r.order))
	copy(order, r.order)
	return &RegistrySnapshot{tools: tools, order: order}
}

// CleanupAll invokes every tool's cleanup hook, logging failures instead of
// propagating them.
func (r *ToolRegistry) CleanupAll(ctx context.Context, logger *slog.Logger) {
	for _, tool := range r.List() {
		if tool.Cleanup == nil {
			continue
		}
		if err := tool.Cleanup(ctx); err != nil && logger != nil {
			logger.Error("tool cleanup failed", "tool", tool.Name, "error", err)
		}
	}
}

// RegistrySnapshot is a frozen view of the registry taken at dispatch-batch
// start.
type RegistrySnapshot struct {
	tools map[string]*Tool
	order []string
}

// Lookup returns a tool from the snapshot by name.
func (s *RegistrySnapshot) Lookup(name string) (*Tool, bool) {
	tool, ok := s.tools[name]
	return tool, ok
}

// Names returns the snapshot's tool names in registration order.
func (s *RegistrySnapshot) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
