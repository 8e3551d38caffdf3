package executor

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/toolregistry"
	"github.com/nextlevelbuilder/agentcore/internal/toolregistry/adapters"
)

func newStepRequest(toolID string) ExecutionRequest {
	return ExecutionRequest{
		Plan:      &agentcontext.MasterPlan{PlanID: "p1"},
		StepIndex: 0,
		Step: agentcontext.PlanItem{
			ID:           "s1",
			Title:        "echo step",
			ToolSequence: []agentcontext.ToolStep{{ToolID: toolID, Parameters: map[string]any{"goal": "hi"}}},
		},
	}
}

func TestExecutor_HappyPath(t *testing.T) {
	reg := toolregistry.New()
	reg.Register(adapters.Echo{})
	b := bus.New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ex := New(reg, b)
	result, err := ex.Execute(context.Background(), newStepRequest("echo"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Result.Success {
		t.Error("expected echo adapter to succeed")
	}
	if result.ToolID != "echo" {
		t.Errorf("got toolId=%q, want echo", result.ToolID)
	}

	req := <-ch
	if req.Type != bus.EventToolRequest {
		t.Fatalf("got first event type %q, want %q", req.Type, bus.EventToolRequest)
	}
	res := <-ch
	if res.Type != bus.EventToolResult {
		t.Fatalf("got second event type %q, want %q", res.Type, bus.EventToolResult)
	}
	if res.TraceID != req.TraceID {
		t.Errorf("trace id mismatch: request=%q result=%q", req.TraceID, res.TraceID)
	}
}

func TestExecutor_ToolNotRegistered(t *testing.T) {
	reg := toolregistry.New()
	ex := New(reg, bus.New())

	_, err := ex.Execute(context.Background(), newStepRequest("ghost"))
	if err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
}

func TestExecutor_NoToolCandidate(t *testing.T) {
	reg := toolregistry.New()
	ex := New(reg, bus.New())

	req := ExecutionRequest{
		Plan:      &agentcontext.MasterPlan{PlanID: "p1"},
		StepIndex: 0,
		Step:      agentcontext.PlanItem{ID: "s1"},
	}
	_, err := ex.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error when the step has no tool candidates")
	}
}

func TestExecutor_AdapterFailureReportedAsToolResult(t *testing.T) {
	reg := toolregistry.New()
	reg.Register(adapters.Fail{})
	ex := New(reg, bus.New())

	result, err := ex.Execute(context.Background(), newStepRequest("fail"))
	if err != nil {
		t.Fatalf("Execute should not return an error for a tool-level failure: %v", err)
	}
	if result.Result.Success {
		t.Error("expected the fail adapter's result to report success=false")
	}
	if result.Result.LatencyMs == nil {
		t.Error("expected LatencyMs to be recorded")
	}
}
