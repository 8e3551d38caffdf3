package fsm

import "github.com/nextlevelbuilder/agentcore/internal/agentcontext"

// EchoPlanner is a minimal Planner: it always returns a single-step plan
// that invokes the "echo" tool with the root task's description as the
// goal. Concrete LLM-backed planning is out of scope for this runtime —
// EchoPlanner exists so the bridge has something runnable out of the box.
type EchoPlanner struct{}

func (EchoPlanner) Plan(snapshot agentcontext.AgentContextSnapshot) (PlannerResult, error) {
	goal := snapshot.Tasks[snapshot.RootTaskID].Description
	return PlannerResult{Plan: agentcontext.MasterPlan{
		PlanID: snapshot.AgentID + "-plan",
		Steps: []agentcontext.PlanItem{{
			ID:            "s1",
			Title:         "echo",
			RelatedTaskID: snapshot.RootTaskID,
			Status:        agentcontext.PlanItemReady,
			ToolSequence:  []agentcontext.ToolStep{{ToolID: "echo", Parameters: map[string]any{"goal": goal}}},
		}},
		CurrentIndex: 0,
		Status:       agentcontext.PlanReady,
	}}, nil
}

// CompleteOnSuccessReflector issues "complete" whenever the last observation
// succeeded and "fallback" otherwise, up to one retry, then "abort".
type CompleteOnSuccessReflector struct{}

func (CompleteOnSuccessReflector) Reflect(req ReflectionRequest) (ReflectionResult, error) {
	if req.Observation.Success {
		return ReflectionResult{Directive: DirectiveComplete, Plan: req.Plan}, nil
	}
	if req.Attempt <= 1 {
		return ReflectionResult{Directive: DirectiveFallback, Plan: req.Plan}, nil
	}
	return ReflectionResult{Directive: DirectiveAbort, Plan: req.Plan, Message: req.Observation.Error}, nil
}
