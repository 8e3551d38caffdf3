// Package adapters ships two illustrative ToolAdapter implementations used
// by the default registry wired in cmd/serve.go and by executor/fsm tests.
// Concrete tool implementations (file I/O, shell, HTTP, ...) are out of
// scope for this core; these stand in for them.
package adapters

import "github.com/nextlevelbuilder/agentcore/internal/toolregistry"

// Echo always succeeds, echoing back its "goal" parameter.
type Echo struct{}

func (Echo) ID() string          { return "echo" }
func (Echo) Description() string { return "echoes the goal parameter back as output" }

func (Echo) Execute(input toolregistry.ToolInput) toolregistry.ToolResult {
	goal, _ := input.Params["goal"].(string)
	return toolregistry.ToolResult{
		Success: true,
		Output:  map[string]any{"echo": goal},
	}
}

// Fail always reports failure, for exercising retry/fallback/abort paths.
type Fail struct{}

func (Fail) ID() string          { return "fail" }
func (Fail) Description() string { return "always returns success=false" }

func (Fail) Execute(input toolregistry.ToolInput) toolregistry.ToolResult {
	return toolregistry.ToolResult{
		Success: false,
		Output:  map[string]any{},
		Error:   "fail adapter: intentional failure",
	}
}
