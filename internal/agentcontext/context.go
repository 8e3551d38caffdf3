package agentcontext

import (
	"sync"
	"time"
)

// AgentContext is the single mutable store for one agent run. It is
// exclusively owned by the AgentMachine driving that run; every other
// component reads it only through Snapshot copies.
type AgentContext struct {
	mu sync.RWMutex

	agentID      string
	rootTaskID   string
	activeTaskID string
	tasks        map[string]TaskNode
	observations []Observation
	working      map[string]any
	metadata     map[string]any
	iteration    int
	plan         *MasterPlan
}

// New constructs an AgentContext seeded with a root task. The root task's
// TaskID is used verbatim; New never assigns one, so callers must set it
// themselves before calling New.
func New(agentID string, root TaskNode) *AgentContext {
	now := nowMillis()
	if root.CreatedAt == 0 {
		root.CreatedAt = now
	}
	root.UpdatedAt = now

	return &AgentContext{
		agentID:    agentID,
		rootTaskID: root.TaskID,
		tasks:      map[string]TaskNode{root.TaskID: root},
		working:    make(map[string]any),
		metadata:   make(map[string]any),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Snapshot returns a deep copy of the current context. The copy never
// shares mutable references with the live store: further mutation of
// either side is invisible to the other.
func (c *AgentContext) Snapshot() AgentContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tasks := make(map[string]TaskNode, len(c.tasks))
	for id, t := range c.tasks {
		tasks[id] = cloneTaskNode(t)
	}

	observations := make([]Observation, len(c.observations))
	for i, o := range c.observations {
		observations[i] = cloneObservation(o)
	}

	return AgentContextSnapshot{
		AgentID:         c.agentID,
		RootTaskID:      c.rootTaskID,
		ActiveTaskID:    c.activeTaskID,
		Tasks:           tasks,
		Observations:    observations,
		WorkingMemory:   cloneAnyMap(c.working),
		Metadata:        cloneAnyMap(c.metadata),
		Iteration:       c.iteration,
		MasterPlan:      clonePlan(c.plan),
		SnapshotTakenAt: time.Now(),
	}
}

// SetActiveTask updates the active task pointer and increments the
// iteration counter by one.
func (c *AgentContext) SetActiveTask(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeTaskID = taskID
	c.iteration++
}

// UpsertTask inserts or updates a TaskNode. On first insert CreatedAt is
// filled in if unset; UpdatedAt is always refreshed. If the caller omits
// Children (nil), the existing children list is preserved.
func (c *AgentContext) UpsertTask(node TaskNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertTaskLocked(node)
}

func (c *AgentContext) upsertTaskLocked(node TaskNode) {
	now := nowMillis()
	existing, had := c.tasks[node.TaskID]

	if node.Children == nil && had {
		node.Children = existing.Children
	}
	if had {
		node.CreatedAt = existing.CreatedAt
	} else if node.CreatedAt == 0 {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	c.tasks[node.TaskID] = node
}

// LinkChild adds childID to parentID's children list. Idempotent: linking
// an already-present child is a no-op. Linking to an unknown parent is a
// silent no-op.
func (c *AgentContext) LinkChild(parentID, childID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.tasks[parentID]
	if !ok {
		return
	}
	for _, existing := range parent.Children {
		if existing == childID {
			return
		}
	}
	parent.Children = append(parent.Children, childID)
	parent.UpdatedAt = nowMillis()
	c.tasks[parentID] = parent
}

// AddObservation appends o to the observation log.
func (c *AgentContext) AddObservation(o Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observations = append(c.observations, o)
}

// MergeWorkingMemory shallow-merges kv into working memory: keys in kv
// overwrite existing values, keys not mentioned survive untouched.
func (c *AgentContext) MergeWorkingMemory(kv map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range kv {
		c.working[k] = v
	}
}

// SetMasterPlan replaces the current plan wholesale.
func (c *AgentContext) SetMasterPlan(p *MasterPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = clonePlan(p)
}

// GetMasterPlan returns a deep copy of the current plan, or nil if none
// has been set.
func (c *AgentContext) GetMasterPlan() *MasterPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePlan(c.plan)
}

// RootTaskID returns the stable root task id the context was constructed
// with.
func (c *AgentContext) RootTaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rootTaskID
}

// Patch performs a selective update:
//   - WorkingMemory and Metadata, when supplied, are shallow-merged.
//   - Observations and Tasks, when supplied, fully replace current values.
//   - Iteration is set explicitly if provided, else incremented by one iff
//     ActiveTaskID was part of the update.
func (c *AgentContext) Patch(p Patch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Tasks != nil {
		tasks := make(map[string]TaskNode, len(p.Tasks))
		for id, t := range p.Tasks {
			tasks[id] = t
		}
		c.tasks = tasks
		if c.rootTaskID != "" {
			if _, ok := c.tasks[c.rootTaskID]; !ok {
				// contract: rootTaskId must always resolve in tasks.
				c.tasks[c.rootTaskID] = TaskNode{
					TaskID:    c.rootTaskID,
					Status:    TaskPending,
					CreatedAt: nowMillis(),
					UpdatedAt: nowMillis(),
				}
			}
		}
	}
	if p.Observations != nil {
		c.observations = append([]Observation(nil), p.Observations...)
	}
	if p.WorkingMemory != nil {
		for k, v := range p.WorkingMemory {
			c.working[k] = v
		}
	}
	if p.Metadata != nil {
		for k, v := range p.Metadata {
			c.metadata[k] = v
		}
	}
	if p.MasterPlan != nil {
		c.plan = clonePlan(p.MasterPlan)
	}

	switch {
	case p.Iteration != nil:
		c.iteration = *p.Iteration
	case p.ActiveTaskID != nil:
		c.iteration++
	}
	if p.ActiveTaskID != nil {
		c.activeTaskID = *p.ActiveTaskID
	}
}

func cloneTaskNode(t TaskNode) TaskNode {
	out := t
	if t.Children != nil {
		out.Children = append([]string(nil), t.Children...)
	}
	out.Metadata = cloneAnyMap(t.Metadata)
	return out
}

func cloneObservation(o Observation) Observation {
	out := o
	out.Payload = cloneAnyMap(o.Payload)
	if o.LatencyMs != nil {
		v := *o.LatencyMs
		out.LatencyMs = &v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAnyValue(v)
	}
	return out
}

// cloneAnyValue deep-copies nested map[string]any and []any values.
func cloneAnyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAnyValue(e)
		}
		return out
	}
	return v
}

func clonePlan(p *MasterPlan) *MasterPlan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]PlanItem, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = clonePlanItem(s)
	}
	out.History = append([]PlanHistoryEntry(nil), p.History...)
	for i := range out.History {
		out.History[i].Payload = cloneAnyMap(p.History[i].Payload)
	}
	out.Metadata = cloneAnyMap(p.Metadata)
	return &out
}

func clonePlanItem(s PlanItem) PlanItem {
	out := s
	out.ToolSequence = append([]ToolStep(nil), s.ToolSequence...)
	for i, ts := range out.ToolSequence {
		out.ToolSequence[i].Parameters = cloneAnyMap(ts.Parameters)
	}
	out.SuccessCriteria = append([]string(nil), s.SuccessCriteria...)
	if s.Retry != nil {
		r := *s.Retry
		if s.Retry.Limit != nil {
			v := *s.Retry.Limit
			r.Limit = &v
		}
		if s.Retry.IntervalMs != nil {
			v := *s.Retry.IntervalMs
			r.IntervalMs = &v
		}
		out.Retry = &r
	}
	out.Metadata = cloneAnyMap(s.Metadata)
	return out
}
