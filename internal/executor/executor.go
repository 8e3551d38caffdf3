// Package executor mediates between plan steps and tools: it resolves a
// step's tool, emits the tool.request/tool.result event pair every
// observer relies on for traceability, and converts adapter panics into
// ordinary tool-level failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/telemetry"
	"github.com/nextlevelbuilder/agentcore/internal/toolregistry"
)

// Error kinds surfaced by the Executor.
var (
	ErrNoToolCandidate   = errors.New("no-tool-candidate")
	ErrToolNotRegistered = errors.New("tool-not-registered")
)

// ExecutionRequest is what AgentMachine passes to Executor.Execute.
type ExecutionRequest struct {
	Plan            *agentcontext.MasterPlan
	StepIndex       int
	Step            agentcontext.PlanItem
	Snapshot        agentcontext.AgentContextSnapshot
	PreferredToolID string
}

// ExecutionResult is what Executor.Execute returns on success.
type ExecutionResult struct {
	PlanID    string
	StepIndex int
	Step      agentcontext.PlanItem
	ToolID    string
	Result    toolregistry.ToolResult
}

// Recorder is an optional observability hook invoked after every
// execution. Errors it returns are logged, never propagated.
type Recorder interface {
	RecordExecutionResult(result ExecutionResult, snapshot agentcontext.AgentContextSnapshot) error
}

// Executor dispatches plan steps to tools registered in a Registry,
// broadcasting the request/result pair on an EventBus.
type Executor struct {
	registry *toolregistry.Registry
	bus      *bus.EventBus
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an Executor constructed with New.
type Option func(*Executor)

// WithRecorder attaches an observability hook.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger overrides the logger used for internal diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New constructs an Executor.
func New(registry *toolregistry.Registry, b *bus.EventBus, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		bus:      b,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the eight-step protocol: resolve tool, emit tool.request,
// invoke the adapter, measure latency, emit tool.result, return the
// ExecutionResult. ctx carries the span the tool execution is nested under.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionResult, error) {
	toolID := req.PreferredToolID
	if toolID == "" {
		if len(req.Step.ToolSequence) == 0 {
			return ExecutionResult{}, fmt.Errorf("%w: step %q has no tool candidates", ErrNoToolCandidate, req.Step.ID)
		}
		toolID = req.Step.ToolSequence[0].ToolID
	}

	adapter, ok := e.registry.Get(toolID)
	if !ok {
		return ExecutionResult{}, fmt.Errorf("%w: %q", ErrToolNotRegistered, toolID)
	}

	traceID := uuid.NewString()
	relatedTaskID := req.Step.RelatedTaskID
	if relatedTaskID == "" {
		relatedTaskID = req.Step.ID
	}

	planID := ""
	if req.Plan != nil {
		planID = req.Plan.PlanID
	}

	_, span := telemetry.StartToolSpan(ctx, toolID, traceID)
	spanStart := time.Now()

	e.emit(bus.EventToolRequest, traceID, relatedTaskID, map[string]any{
		"toolId":    toolID,
		"planId":    planID,
		"stepId":    req.Step.ID,
		"stepIndex": req.StepIndex,
		"step":      req.Step,
	})

	params := mergeParams(req.Step, toolID, planID)
	input := toolregistry.ToolInput{
		TaskID:          relatedTaskID,
		TraceID:         traceID,
		Params:          params,
		ContextSnapshot: req.Snapshot,
	}

	result := e.invoke(adapter, input)
	telemetry.EndToolSpan(span, spanStart, result.Success, result.Error)

	e.emit(bus.EventToolResult, traceID, relatedTaskID, map[string]any{
		"toolId":    toolID,
		"planId":    planID,
		"stepId":    req.Step.ID,
		"stepIndex": req.StepIndex,
		"step":      req.Step,
		"result":    result,
	})

	execResult := ExecutionResult{
		PlanID:    planID,
		StepIndex: req.StepIndex,
		Step:      req.Step,
		ToolID:    toolID,
		Result:    result,
	}

	if e.recorder != nil {
		if err := e.recorder.RecordExecutionResult(execResult, req.Snapshot); err != nil {
			e.logger.Warn("executor: recordExecutionResult failed", "error", err)
		}
	}

	return execResult, nil
}

// invoke measures wall time around the adapter call and converts any
// panic into a failed ToolResult rather than letting it propagate.
func (e *Executor) invoke(adapter toolregistry.ToolAdapter, input toolregistry.ToolInput) (result toolregistry.ToolResult) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start).Milliseconds()
		result.LatencyMs = &elapsed

		if r := recover(); r != nil {
			e.logger.Warn("executor: tool adapter panicked", "tool", adapter.ID(), "panic", r)
			result = toolregistry.ToolResult{
				Success:   false,
				Output:    map[string]any{},
				Error:     fmt.Sprintf("panic: %v", r),
				LatencyMs: &elapsed,
			}
		}
	}()

	result = adapter.Execute(input)
	if result.Output == nil {
		result.Output = map[string]any{}
	}
	return result
}

func mergeParams(step agentcontext.PlanItem, toolID, planID string) map[string]any {
	params := map[string]any{}
	for _, ts := range step.ToolSequence {
		if ts.ToolID == toolID {
			for k, v := range ts.Parameters {
				params[k] = v
			}
			break
		}
	}
	params["planId"] = planID
	params["stepId"] = step.ID
	return params
}

func (e *Executor) emit(eventType, traceID, relatedTaskID string, payload map[string]any) {
	e.bus.Emit(bus.BusEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		Timestamp:     time.Now(),
		TraceID:       traceID,
		RelatedTaskID: relatedTaskID,
		Payload:       payload,
	})
}
