package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/agentcontext"
)

// SnapshotBus is EventBus's counterpart for AgentContextSnapshot values. The
// AgentMachine publishes a fresh snapshot on every state transition
// (spec.md §4.5.3); BridgeServer replays this bus's history before the
// EventBus's, then streams both live, over GET /events.
//
// A zero-value SnapshotBus is not usable; construct one with NewSnapshotBus.
type SnapshotBus struct {
	mu         sync.RWMutex
	subs       map[string]chan agentcontext.AgentContextSnapshot
	history    []agentcontext.AgentContextSnapshot
	maxHistory int // 0 = unbounded
	subBufSize int
}

// SnapshotOption configures a SnapshotBus constructed with NewSnapshotBus.
type SnapshotOption func(*SnapshotBus)

// WithSnapshotHistoryLimit caps the number of retained history entries,
// mirroring WithHistoryLimit.
func WithSnapshotHistoryLimit(n int) SnapshotOption {
	return func(b *SnapshotBus) { b.maxHistory = n }
}

// WithSnapshotSubscriberBuffer overrides the per-subscriber channel
// capacity, mirroring WithSubscriberBuffer.
func WithSnapshotSubscriberBuffer(n int) SnapshotOption {
	return func(b *SnapshotBus) { b.subBufSize = n }
}

// NewSnapshotBus constructs a ready-to-use SnapshotBus.
func NewSnapshotBus(opts ...SnapshotOption) *SnapshotBus {
	b := &SnapshotBus{
		subs:       make(map[string]chan agentcontext.AgentContextSnapshot),
		subBufSize: DefaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new listener and returns its snapshot channel along
// with an unsubscribe function, exactly like EventBus.Subscribe.
func (b *SnapshotBus) Subscribe() (<-chan agentcontext.AgentContextSnapshot, func()) {
	id := uuid.NewString()
	ch := make(chan agentcontext.AgentContextSnapshot, b.subBufSize)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts snap to every current subscriber without blocking: a
// subscriber whose buffer is full simply misses this snapshot, the same
// drop-on-full-buffer policy EventBus.Emit uses.
func (b *SnapshotBus) Publish(snap agentcontext.AgentContextSnapshot) {
	b.mu.Lock()
	b.appendHistoryLocked(snap)
	chans := make([]chan agentcontext.AgentContextSnapshot, 0, len(b.subs))
	for _, ch := range b.subs {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- snap:
		default:
		}
	}
}

// History returns a copy of the buffered snapshot history in publish order.
func (b *SnapshotBus) History() []agentcontext.AgentContextSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]agentcontext.AgentContextSnapshot, len(b.history))
	copy(out, b.history)
	return out
}

func (b *SnapshotBus) appendHistoryLocked(snap agentcontext.AgentContextSnapshot) {
	b.history = append(b.history, snap)
	if b.maxHistory > 0 && len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}
