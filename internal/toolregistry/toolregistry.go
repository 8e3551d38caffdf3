// Package toolregistry is a name-indexed lookup of ToolAdapter instances,
// the pluggable unit of work the Executor dispatches plan steps to.
package toolregistry

import (
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
)

// ToolInput is what an Executor passes to a ToolAdapter's Execute method.
type ToolInput struct {
	TaskID          string
	TraceID         string
	Params          map[string]any
	ContextSnapshot agentcontext.AgentContextSnapshot
}

// ToolResult is what a ToolAdapter returns. Adapters must never panic for
// an ordinary execution failure; they report it via Success=false and
// Error instead.
type ToolResult struct {
	Success   bool           `json:"success"`
	Output    map[string]any `json:"output"`
	Error     string         `json:"error,omitempty"`
	LatencyMs *int64         `json:"latencyMs,omitempty"`
}

// ToolAdapter is one named, pluggable unit of work.
type ToolAdapter interface {
	ID() string
	Description() string
	Execute(input ToolInput) ToolResult
}

// Registry is a name->adapter mapping.
type Registry struct {
	mu      sync.RWMutex
	adapters map[string]ToolAdapter
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{adapters: make(map[string]ToolAdapter)}
}

// Register adds or replaces the adapter under its own ID.
func (r *Registry) Register(a ToolAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get looks up an adapter by id.
func (r *Registry) Get(id string) (ToolAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// List returns all registered adapters in no particular order.
func (r *Registry) List() []ToolAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// String implements fmt.Stringer for diagnostics.
func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("toolregistry.Registry{%d adapters}", len(r.adapters))
}
