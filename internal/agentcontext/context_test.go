package agentcontext

import (
	"encoding/json"
	"reflect"
	"testing"
)

func newTestContext() *AgentContext {
	return New("agent-1", TaskNode{TaskID: "t-root", Description: "root", Status: TaskPending})
}

func TestSnapshot_IsolatedFromLiveMutation(t *testing.T) {
	ctx := newTestContext()
	snap := ctx.Snapshot()

	ctx.MergeWorkingMemory(map[string]any{"k": "v"})
	ctx.UpsertTask(TaskNode{TaskID: "t-child", Status: TaskPending})

	if _, ok := snap.WorkingMemory["k"]; ok {
		t.Error("snapshot observed a mutation made after it was taken")
	}
	if _, ok := snap.Tasks["t-child"]; ok {
		t.Error("snapshot observed a task inserted after it was taken")
	}
}

func TestUpsertTask_PreservesCreatedAtAndChildren(t *testing.T) {
	ctx := newTestContext()
	ctx.LinkChild("t-root", "t-child")
	ctx.UpsertTask(TaskNode{TaskID: "t-child", Status: TaskPending})
	first := ctx.Snapshot().Tasks["t-child"]

	ctx.UpsertTask(TaskNode{TaskID: "t-child", Status: TaskSucceeded})
	second := ctx.Snapshot().Tasks["t-child"]

	if second.CreatedAt != first.CreatedAt {
		t.Errorf("CreatedAt changed on update: %d -> %d", first.CreatedAt, second.CreatedAt)
	}
	if second.UpdatedAt < first.UpdatedAt {
		t.Error("UpdatedAt did not advance on update")
	}

	root := ctx.Snapshot().Tasks["t-root"]
	if len(root.Children) != 1 || root.Children[0] != "t-child" {
		t.Errorf("expected root to have one child t-child, got %v", root.Children)
	}
}

func TestLinkChild_IdempotentAndSilentOnUnknownParent(t *testing.T) {
	ctx := newTestContext()
	ctx.LinkChild("t-root", "t-child")
	ctx.LinkChild("t-root", "t-child")

	root := ctx.Snapshot().Tasks["t-root"]
	if len(root.Children) != 1 {
		t.Errorf("expected linking the same child twice to be a no-op, got children=%v", root.Children)
	}

	ctx.LinkChild("no-such-parent", "t-child-2") // must not panic
}

func TestMergeWorkingMemory_ShallowMergePreservesUnrelatedKeys(t *testing.T) {
	ctx := newTestContext()
	ctx.MergeWorkingMemory(map[string]any{"a": "1", "b": "2"})
	ctx.MergeWorkingMemory(map[string]any{"a": "override"})

	snap := ctx.Snapshot()
	if snap.WorkingMemory["a"] != "override" {
		t.Errorf("got a=%v, want override", snap.WorkingMemory["a"])
	}
	if snap.WorkingMemory["b"] != "2" {
		t.Errorf("got b=%v, want 2 (unrelated key should survive)", snap.WorkingMemory["b"])
	}
}

func TestSetActiveTask_IncrementsIteration(t *testing.T) {
	ctx := newTestContext()
	ctx.SetActiveTask("t-root")
	ctx.SetActiveTask("t-root")

	snap := ctx.Snapshot()
	if snap.Iteration != 2 {
		t.Errorf("got iteration=%d, want 2", snap.Iteration)
	}
	if snap.ActiveTaskID != "t-root" {
		t.Errorf("got activeTaskId=%q, want t-root", snap.ActiveTaskID)
	}
}

func TestPatch_IncrementsIterationOnlyWhenActiveTaskIDSupplied(t *testing.T) {
	ctx := newTestContext()
	ctx.Patch(Patch{WorkingMemory: map[string]any{"x": 1}})
	if ctx.Snapshot().Iteration != 0 {
		t.Error("iteration should not change when activeTaskId is absent from the patch")
	}

	id := "t-root"
	ctx.Patch(Patch{ActiveTaskID: &id})
	if ctx.Snapshot().Iteration != 1 {
		t.Error("iteration should increment by one when activeTaskId is present in the patch")
	}
}

func TestPatch_RootTaskAlwaysResolves(t *testing.T) {
	ctx := newTestContext()
	ctx.Patch(Patch{Tasks: map[string]TaskNode{"t-other": {TaskID: "t-other", Status: TaskPending}}})

	snap := ctx.Snapshot()
	if _, ok := snap.Tasks[snap.RootTaskID]; !ok {
		t.Error("rootTaskId must always resolve in tasks")
	}
}

func TestSnapshot_JSONRoundTripIsStructurallyEqual(t *testing.T) {
	ctx := newTestContext()
	ctx.MergeWorkingMemory(map[string]any{"hello": "world"})
	ctx.AddObservation(Observation{Source: ObservationSourceTool, Success: true})
	ctx.SetMasterPlan(&MasterPlan{
		PlanID: "p1",
		Steps: []PlanItem{{
			ID:              "s1",
			Title:           "step one",
			Status:          PlanItemPending,
			ToolSequence:    []ToolStep{{ToolID: "echo"}},
			SuccessCriteria: []string{"done"},
		}},
		CurrentIndex: 0,
		Status:       PlanReady,
		History:      []PlanHistoryEntry{{Version: 1, Event: PlanEventCreated}},
	})

	snap := ctx.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped AgentContextSnapshot
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	// SnapshotTakenAt loses sub-nanosecond precision across marshaling; ignore it.
	snap.SnapshotTakenAt = roundTripped.SnapshotTakenAt
	if !reflect.DeepEqual(snap, roundTripped) {
		t.Errorf("round trip mismatch:\noriginal: %+v\nroundtrip: %+v", snap, roundTripped)
	}
}
