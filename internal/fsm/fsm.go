package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/executor"
	"github.com/nextlevelbuilder/agentcore/internal/telemetry"
)

// AgentMachine drives one agent run from initial state "plan" to terminal
// state "finish", enforcing guards and sequencing Planner/Executor/
// Reflector calls. It is single-actor: one Run call executes its states
// strictly in sequence.
type AgentMachine struct {
	agentCtx    *agentcontext.AgentContext
	executor    *executor.Executor
	planner     Planner
	reflector   Reflector
	eventBus    *bus.EventBus
	snapshotBus *bus.SnapshotBus
	guards      GuardConfig
	logger      *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures an AgentMachine constructed with New.
type Option func(*AgentMachine)

// WithGuards sets the guard configuration (default: unbounded).
func WithGuards(g GuardConfig) Option {
	return func(m *AgentMachine) { m.guards = g }
}

// WithLogger overrides the logger used for internal diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *AgentMachine) { m.logger = l }
}

// New constructs an AgentMachine. snapshotBus receives a fresh
// AgentContextSnapshot on every state transition (spec.md §4.5.3); pass the
// same SnapshotBus a BridgeServer replays from GET /events.
func New(agentCtx *agentcontext.AgentContext, ex *executor.Executor, planner Planner, reflector Reflector, eventBus *bus.EventBus, snapshotBus *bus.SnapshotBus, opts ...Option) *AgentMachine {
	m := &AgentMachine{
		agentCtx:    agentCtx,
		executor:    ex,
		planner:     planner,
		reflector:   reflector,
		eventBus:    eventBus,
		snapshotBus: snapshotBus,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stop requests the machine jump to "finish" at its next state transition.
// Safe to call multiple times and from any goroutine.
func (m *AgentMachine) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *AgentMachine) stopRequested() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// run holds the loop-local counters and pointers the state functions
// thread through one Run call.
type run struct {
	startedAt        time.Time
	plan             *agentcontext.MasterPlan
	currentStep      *agentcontext.PlanItem
	currentStepIndex int
	executionResult  *executor.ExecutionResult
	observation      *agentcontext.Observation
	attempt          int
	toolIndex        int // advanced only by a "fallback" directive; "retry" keeps it
	iterations       int
	failures         int
	lastSnapshot     agentcontext.AgentContextSnapshot
}

// Run drives the machine from "plan" to "finish" and returns the terminal
// result.
func (m *AgentMachine) Run(ctx context.Context) AgentRunResult {
	r := &run{startedAt: time.Now()}
	state := StatePlan

	for {
		m.broadcastTransition(state, r)

		if state == StateFinish {
			return m.finalResult(state, r)
		}

		if m.stopRequested() {
			state = StateFinish
			continue
		}

		spanCtx, span := telemetry.StartTransitionSpan(ctx, r.lastSnapshot.AgentID, state, r.iterations)

		var next string
		switch state {
		case StatePlan:
			next = m.stepPlan(r)
		case StateAct:
			next = m.stepAct(spanCtx, r)
		case StateObserve:
			next = m.stepObserve(r)
		case StateReflect:
			next = m.stepReflect(r)
		case StateError:
			next = m.stepError(r)
		default:
			next = StateFinish
		}
		span.End()
		state = next
	}
}

// stepPlan runs the entry guards, invokes the Planner, and on success
// stores the returned plan into AgentContext.
func (m *AgentMachine) stepPlan(r *run) string {
	if guardErr := m.checkGuards(r); guardErr != nil {
		return m.guardFail(r, guardErr)
	}

	snapshot := m.agentCtx.Snapshot()
	result, err := m.planner.Plan(snapshot)
	if err != nil {
		return m.fail(r, fmt.Errorf("planner-failed: %w", err))
	}

	m.agentCtx.SetMasterPlan(&result.Plan)
	r.plan = m.agentCtx.GetMasterPlan()
	r.lastSnapshot = m.agentCtx.Snapshot()

	if step, ok := r.plan.CurrentStep(); ok {
		r.currentStep = &step
		r.currentStepIndex = r.plan.CurrentIndex
	} else {
		r.currentStep = nil
	}
	r.executionResult = nil
	r.observation = nil
	r.attempt = 0
	r.toolIndex = 0

	return StateAct
}

// stepAct invokes the Executor for the current step.
func (m *AgentMachine) stepAct(ctx context.Context, r *run) string {
	if r.currentStep == nil {
		return m.fail(r, fmt.Errorf("act: no current step"))
	}

	snapshot := m.agentCtx.Snapshot()
	result, err := m.executor.Execute(ctx, executor.ExecutionRequest{
		Plan:            r.plan,
		StepIndex:       r.currentStepIndex,
		Step:            *r.currentStep,
		Snapshot:        snapshot,
		PreferredToolID: fallbackToolID(*r.currentStep, r.toolIndex),
	})
	if err != nil {
		return m.fail(r, err)
	}

	r.executionResult = &result
	r.lastSnapshot = m.agentCtx.Snapshot()
	return StateObserve
}

// fallbackToolID selects the tool candidate for the run's toolIndex (passed
// as attempt): 0 uses the step's top-priority tool; each "fallback"
// directive increments toolIndex (a "retry" does not), walking to the next
// candidate in priority order, clamped to the last one once candidates are
// exhausted.
func fallbackToolID(step agentcontext.PlanItem, attempt int) string {
	if len(step.ToolSequence) == 0 {
		return ""
	}
	idx := attempt
	if idx >= len(step.ToolSequence) {
		idx = len(step.ToolSequence) - 1
	}
	return step.ToolSequence[idx].ToolID
}

// stepObserve derives an Observation from the execution result and
// appends it to AgentContext.
func (m *AgentMachine) stepObserve(r *run) string {
	now := time.Now().UnixMilli()

	if r.executionResult == nil {
		obs := agentcontext.Observation{
			Source:    agentcontext.ObservationSourceTool,
			Timestamp: now,
			Success:   false,
		}
		r.observation = &obs
		m.agentCtx.AddObservation(obs)
		return StateReflect
	}

	relatedTaskID := r.executionResult.Step.RelatedTaskID
	if relatedTaskID == "" {
		relatedTaskID = r.executionResult.Step.ID
	}

	obs := agentcontext.Observation{
		Source:        agentcontext.ObservationSourceTool,
		RelatedTaskID: relatedTaskID,
		Timestamp:     now,
		Payload:       r.executionResult.Result.Output,
		Success:       r.executionResult.Result.Success,
		LatencyMs:     r.executionResult.Result.LatencyMs,
		Error:         r.executionResult.Result.Error,
	}
	r.observation = &obs
	m.agentCtx.AddObservation(obs)
	return StateReflect
}

// stepReflect invokes the Reflector and applies its ReflectionResult.
func (m *AgentMachine) stepReflect(r *run) string {
	if r.currentStep == nil {
		return StatePlan
	}

	var obs agentcontext.Observation
	if r.observation != nil {
		obs = *r.observation
	}

	snapshot := m.agentCtx.Snapshot()
	plan := agentcontext.MasterPlan{}
	if r.plan != nil {
		plan = *r.plan
	}

	reflection, err := m.reflector.Reflect(ReflectionRequest{
		Plan:        plan,
		CurrentStep: *r.currentStep,
		Observation: obs,
		Snapshot:    snapshot,
		Attempt:     r.attempt + 1,
	})
	if err != nil {
		return m.fail(r, fmt.Errorf("reflector-failed: %w", err))
	}

	m.agentCtx.SetMasterPlan(&reflection.Plan)
	r.plan = m.agentCtx.GetMasterPlan()

	for _, t := range reflection.TaskUpdates() {
		m.agentCtx.UpsertTask(t)
	}
	if reflection.Message != "" {
		m.agentCtx.MergeWorkingMemory(map[string]any{"reflectMessage": reflection.Message})
	}

	if step, ok := r.plan.CurrentStep(); ok {
		r.currentStep = &step
		r.currentStepIndex = r.plan.CurrentIndex
	} else {
		r.currentStep = nil
	}

	r.iterations++
	activeID := ""
	if r.currentStep != nil {
		activeID = r.currentStep.RelatedTaskID
		if activeID == "" {
			activeID = r.currentStep.ID
		}
	}
	m.agentCtx.SetActiveTask(activeID)
	r.lastSnapshot = m.agentCtx.Snapshot()

	switch reflection.Directive {
	case DirectiveRetry, DirectiveFallback:
		r.attempt++
	default:
		r.attempt = 0
		r.toolIndex = 0
	}
	if reflection.Directive == DirectiveFallback {
		r.toolIndex++
	}

	switch reflection.Directive {
	case DirectiveComplete:
		return StateFinish
	case DirectiveAbort:
		if reflection.Message != "" {
			m.agentCtx.MergeWorkingMemory(map[string]any{"abortReason": reflection.Message})
		}
		return StateFinish
	case DirectiveReplan, DirectiveAwaitUser:
		return StatePlan
	case DirectiveAdvance, DirectiveRetry, DirectiveFallback:
		return StateAct
	default:
		return StatePlan
	}
}

// stepError runs in the error state, after fail has already incremented
// failures and recorded the error in working memory; it decides whether to
// retry planning, give the reflector a chance to recover, or give up.
func (m *AgentMachine) stepError(r *run) string {
	maxFailures := m.guards.MaxFailures
	withinBudget := maxFailures == 0 || r.failures < maxFailures

	switch {
	case r.currentStep == nil && withinBudget:
		return StatePlan
	case r.currentStep != nil && withinBudget:
		return StateReflect
	default:
		return StateFinish
	}
}

// fail records a failure and routes the machine through the error state.
func (m *AgentMachine) fail(r *run, err error) string {
	r.failures++
	m.agentCtx.MergeWorkingMemory(map[string]any{"lastError": err.Error()})
	m.logger.Warn("agent run failure", "error", err, "failures", r.failures)
	return StateError
}

// guardFail routes a guard violation (duration/iteration budget exceeded)
// straight to "finish". Guards exist to bound a run; unlike a planner,
// executor, or reflector failure, a guard violation is never retried
// through stepError, so it terminates a run in one step regardless of
// GuardConfig.MaxFailures — otherwise an unset MaxFailures (0 = unbounded)
// combined with a reflector that keeps replanning would trip the same
// guard on every re-entry to "plan" forever.
func (m *AgentMachine) guardFail(r *run, err error) string {
	m.agentCtx.MergeWorkingMemory(map[string]any{"guardError": err.Error()})
	m.logger.Warn("agent run guard violated, terminating run", "error", err)
	return StateFinish
}

// checkGuards enforces maxDurationMs/maxIterations on entry to "plan".
func (m *AgentMachine) checkGuards(r *run) error {
	if m.guards.MaxDurationMs > 0 {
		if time.Since(r.startedAt).Milliseconds() > m.guards.MaxDurationMs {
			return fmt.Errorf("guard-duration-exceeded")
		}
	}
	if m.guards.MaxIterations > 0 && r.iterations >= m.guards.MaxIterations {
		return fmt.Errorf("guard-iterations-exceeded")
	}
	return nil
}

// broadcastTransition implements §4.5.3: fresh snapshot, publish it, then
// emit the agent.transition/agent.finished BusEvent.
func (m *AgentMachine) broadcastTransition(state string, r *run) {
	snapshot := m.agentCtx.Snapshot()
	r.lastSnapshot = snapshot

	if m.snapshotBus != nil {
		m.snapshotBus.Publish(snapshot)
	}

	eventType := bus.EventAgentTransition
	if state == StateFinish {
		eventType = bus.EventAgentFinished
	}

	traceID := snapshot.ActiveTaskID
	if traceID == "" {
		traceID = snapshot.RootTaskID
	}

	m.eventBus.Emit(bus.BusEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		Timestamp:     time.Now(),
		TraceID:       traceID,
		RelatedTaskID: snapshot.ActiveTaskID,
		Payload: map[string]any{
			"agentId":      snapshot.AgentID,
			"state":        state,
			"iteration":    snapshot.Iteration,
			"activeTaskId": snapshot.ActiveTaskID,
		},
	})
}

func (m *AgentMachine) finalResult(state string, r *run) AgentRunResult {
	return AgentRunResult{
		State:           state,
		Iterations:      r.iterations,
		LastObservation: r.observation,
		ExecutionResult: r.executionResult,
		FinalSnapshot:   m.agentCtx.Snapshot(),
	}
}
