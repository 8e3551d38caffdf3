// Package bus implements the agent runtime's event broadcast layer: a
// single-writer, multi-reader fan-out of BusEvent values with an in-memory
// history for late-joining subscribers (unbounded unless capped with
// WithHistoryLimit).
package bus

import "time"

// Event type constants for BusEvent.Type.
const (
	EventToolRequest     = "tool.request"
	EventToolResult      = "tool.result"
	EventUserInput       = "user.input"
	EventSystemAlert     = "system.alert"
	EventAgentTransition = "agent.transition"
	EventAgentLog        = "agent.log"
	EventAgentFinished   = "agent.finished"
)

// BusEvent is one unit broadcast on the EventBus.
type BusEvent struct {
	EventID       string         `json:"eventId"`
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	TraceID       string         `json:"traceId"`
	RelatedTaskID string         `json:"relatedTaskId,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}
