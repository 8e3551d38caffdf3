// Package agentcontext holds the authoritative mutable store for one agent
// run: the task tree, the observation log, working memory, metadata, the
// iteration counter, and the current master plan. It hands out deep-copy
// snapshots on demand and never shares mutable state with callers.
package agentcontext

import "time"

// TaskNode is one node in the task tree.
type TaskNode struct {
	TaskID      string         `json:"taskId"`
	Description string         `json:"description"`
	Status      string         `json:"status"` // pending | in_progress | succeeded | failed
	ParentID    string         `json:"parentId,omitempty"`
	Children    []string       `json:"children,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   int64          `json:"createdAt"`
	UpdatedAt   int64          `json:"updatedAt"`
}

// Task status constants.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskSucceeded  = "succeeded"
	TaskFailed     = "failed"
)

// Observation is evidence recorded from one execution. Observations are
// append-only; they never expire during a run.
type Observation struct {
	Source        string         `json:"source"` // tool | user | system
	RelatedTaskID string         `json:"relatedTaskId,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
	Success       bool           `json:"success"`
	LatencyMs     *int64         `json:"latencyMs,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Observation source constants.
const (
	ObservationSourceTool   = "tool"
	ObservationSourceUser   = "user"
	ObservationSourceSystem = "system"
)

// ToolStep is one prioritised tool candidate for a PlanItem.
type ToolStep struct {
	ToolID      string         `json:"toolId"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// RetryPolicy bounds how a step may be retried.
type RetryPolicy struct {
	Limit       *int   `json:"limit,omitempty"`
	Strategy    string `json:"strategy,omitempty"` // none | immediate | linear | exponential
	IntervalMs  *int64 `json:"intervalMs,omitempty"`
}

// Retry strategy constants.
const (
	RetryNone        = "none"
	RetryImmediate   = "immediate"
	RetryLinear      = "linear"
	RetryExponential = "exponential"
)

// PlanItem is one step of a MasterPlan.
type PlanItem struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Status          string         `json:"status"` // pending|ready|in_progress|blocked|succeeded|failed|skipped
	RelatedTaskID   string         `json:"relatedTaskId,omitempty"`
	ToolSequence    []ToolStep     `json:"toolSequence"`
	SuccessCriteria []string       `json:"successCriteria"`
	Retry           *RetryPolicy   `json:"retry,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Plan item status constants.
const (
	PlanItemPending    = "pending"
	PlanItemReady      = "ready"
	PlanItemInProgress = "in_progress"
	PlanItemBlocked    = "blocked"
	PlanItemSucceeded  = "succeeded"
	PlanItemFailed     = "failed"
	PlanItemSkipped    = "skipped"
)

// PlanHistoryEntry is one append-only record of how a MasterPlan evolved.
type PlanHistoryEntry struct {
	Version   int            `json:"version"`
	Timestamp int64          `json:"timestamp"`
	Event     string         `json:"event"` // created|pointer_advanced|step_updated|replanned|status_changed
	Summary   string         `json:"summary,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Plan history event constants.
const (
	PlanEventCreated         = "created"
	PlanEventPointerAdvanced = "pointer_advanced"
	PlanEventStepUpdated     = "step_updated"
	PlanEventReplanned       = "replanned"
	PlanEventStatusChanged   = "status_changed"
)

// MasterPlan is the full ordered plan for a run.
type MasterPlan struct {
	PlanID       string             `json:"planId"`
	Steps        []PlanItem         `json:"steps"`
	CurrentIndex int                `json:"currentIndex"`
	Status       string             `json:"status"` // draft|ready|in_progress|blocked|completed|failed|aborted
	Reasoning    string             `json:"reasoning,omitempty"`
	UserMessage  string             `json:"userMessage,omitempty"`
	CreatedAt    int64              `json:"createdAt"`
	UpdatedAt    int64              `json:"updatedAt"`
	History      []PlanHistoryEntry `json:"history,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
}

// Master plan status constants.
const (
	PlanDraft      = "draft"
	PlanReady      = "ready"
	PlanInProgress = "in_progress"
	PlanBlocked    = "blocked"
	PlanCompleted  = "completed"
	PlanFailed     = "failed"
	PlanAborted    = "aborted"
)

// CurrentStep returns the plan's current step and whether the index
// resolves to an existing one.
func (p *MasterPlan) CurrentStep() (PlanItem, bool) {
	if p == nil || p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Steps) {
		return PlanItem{}, false
	}
	return p.Steps[p.CurrentIndex], true
}

// AgentContextSnapshot is an immutable view of one agent's context at a
// point in time. Snapshots are copies: mutating one never affects the
// live AgentContext it was taken from.
type AgentContextSnapshot struct {
	AgentID        string                 `json:"agentId"`
	RootTaskID     string                 `json:"rootTaskId"`
	ActiveTaskID   string                 `json:"activeTaskId,omitempty"`
	Tasks          map[string]TaskNode    `json:"tasks"`
	Observations   []Observation          `json:"observations"`
	WorkingMemory  map[string]any         `json:"workingMemory"`
	Metadata       map[string]any         `json:"metadata"`
	Iteration      int                    `json:"iteration"`
	MasterPlan     *MasterPlan            `json:"masterPlan,omitempty"`
	SnapshotTakenAt time.Time             `json:"snapshotTakenAt"`
}

// Patch is a selective update applied via AgentContext.Patch.
type Patch struct {
	ActiveTaskID  *string
	Tasks         map[string]TaskNode
	Observations  []Observation
	WorkingMemory map[string]any
	Metadata      map[string]any
	MasterPlan    *MasterPlan
	Iteration     *int
}
