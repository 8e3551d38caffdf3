// Package fsm implements the AgentMachine: the Plan → Act → Observe →
// Reflect → Finish finite-state machine that drives one agent run,
// sequencing calls into the Planner, Executor, and Reflector collaborators
// and enforcing the guards and directive-driven transitions that keep a
// run bounded.
package fsm

import (
	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/executor"
)

// State names. plan/act/observe/reflect/error are non-terminal; finish is
// terminal.
const (
	StatePlan    = "plan"
	StateAct     = "act"
	StateObserve = "observe"
	StateReflect = "reflect"
	StateError   = "error"
	StateFinish  = "finish"
)

// Directive is the command a Reflector returns to select the next
// transition.
type Directive string

const (
	DirectiveComplete   Directive = "complete"
	DirectiveAbort      Directive = "abort"
	DirectiveReplan     Directive = "replan"
	DirectiveAwaitUser  Directive = "await_user"
	DirectiveAdvance    Directive = "advance"
	DirectiveRetry      Directive = "retry"
	DirectiveFallback   Directive = "fallback"
)

// PlannerResult is what a Planner returns.
type PlannerResult struct {
	Plan         agentcontext.MasterPlan
	IssuedAt     int64
	HistoryEntry *agentcontext.PlanHistoryEntry
	Metadata     map[string]any
}

// Planner produces a MasterPlan from the current snapshot. The returned
// plan is authoritative and overwrites any prior plan in the context.
type Planner interface {
	Plan(snapshot agentcontext.AgentContextSnapshot) (PlannerResult, error)
}

// ReflectionRequest is what AgentMachine passes to Reflector.Reflect.
type ReflectionRequest struct {
	Plan        agentcontext.MasterPlan
	CurrentStep agentcontext.PlanItem
	Observation agentcontext.Observation
	Snapshot    agentcontext.AgentContextSnapshot
	Attempt     int
}

// ReflectionResult is what a Reflector returns.
type ReflectionResult struct {
	Directive    Directive
	Plan         agentcontext.MasterPlan
	HistoryEntry *agentcontext.PlanHistoryEntry
	Message      string
	Metadata     map[string]any
}

// TaskUpdates extracts agentcontext.TaskNode values the runtime must
// upsert from Metadata["taskUpdates"], if present.
func (r ReflectionResult) TaskUpdates() []agentcontext.TaskNode {
	raw, ok := r.Metadata["taskUpdates"]
	if !ok {
		return nil
	}
	updates, ok := raw.([]agentcontext.TaskNode)
	if !ok {
		return nil
	}
	return updates
}

// Reflector inspects the outcome of one executed step and decides what
// happens next.
type Reflector interface {
	Reflect(req ReflectionRequest) (ReflectionResult, error)
}

// GuardConfig bounds a run's resource consumption.
type GuardConfig struct {
	MaxDurationMs int64 // 0 = unbounded
	MaxIterations int   // 0 = unbounded
	MaxFailures   int   // 0 = unbounded
}

// AgentRunResult is the terminal outcome of one Run call.
type AgentRunResult struct {
	State            string
	Iterations       int
	LastObservation  *agentcontext.Observation
	ExecutionResult  *executor.ExecutionResult
	FinalSnapshot    agentcontext.AgentContextSnapshot
}
