// Package protocol defines the wire-level constants shared between the
// internal event bus and the SSE frames the bridge server sends over
// GET /events.
package protocol

// ProtocolVersion identifies the bridge's SSE wire format. Bump it whenever
// a frame's shape changes in a way clients must care about.
const ProtocolVersion = 1

// SSE frame names: the "event:" line of each server-sent event.
const (
	// FrameSnapshot carries a full AgentContextSnapshot, replayed from the
	// snapshot history on connect and sent again after every state
	// transition.
	FrameSnapshot = "snapshot"

	// FrameBusEvent carries one bus.BusEvent, replayed from history on
	// connect and streamed live afterward.
	FrameBusEvent = "bus-event"
)
