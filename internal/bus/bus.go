package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewBusEvent builds a BusEvent with a fresh EventID and the current
// timestamp, leaving the remaining fields to the caller.
func NewBusEvent(eventType, traceID string, payload map[string]any) BusEvent {
	return BusEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		TraceID:   traceID,
		Payload:   payload,
	}
}

// DefaultSubscriberBuffer is the channel capacity handed to every
// subscriber of a bus constructed without WithSubscriberBuffer.
const DefaultSubscriberBuffer = 256

// subscriber is one registered listener: a bounded channel plus the id
// used to unsubscribe it again.
type subscriber struct {
	id  string
	ch  chan BusEvent
}

// EventBus is a single-writer, multi-reader broadcast of BusEvent values.
// Emit never blocks on a slow subscriber: a subscriber whose buffer is full
// has the event dropped for it, and the bus emits an EventAgentLog event
// describing the drop so observers can see backpressure happening.
//
// A zero-value EventBus is not usable; construct one with New.
type EventBus struct {
	mu          sync.RWMutex
	subs        map[string]*subscriber
	history     []BusEvent
	maxHistory  int // 0 = unbounded
	subBufSize  int
	logger      *slog.Logger
}

// Option configures an EventBus constructed with New.
type Option func(*EventBus)

// WithHistoryLimit caps the number of retained history entries. When the
// cap is reached, the oldest entry is dropped as a new one arrives. A
// limit of 0 (the default) means unbounded history.
func WithHistoryLimit(n int) Option {
	return func(b *EventBus) { b.maxHistory = n }
}

// WithSubscriberBuffer overrides the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(b *EventBus) { b.subBufSize = n }
}

// WithLogger overrides the logger used for internal diagnostics (defaults
// to slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(b *EventBus) { b.logger = l }
}

// New constructs a ready-to-use EventBus.
func New(opts ...Option) *EventBus {
	b := &EventBus{
		subs:       make(map[string]*subscriber),
		subBufSize: DefaultSubscriberBuffer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new listener and returns its event channel along
// with an unsubscribe function. The returned channel is closed once
// Unsubscribe is called; callers must stop reading from it at that point.
func (b *EventBus) Subscribe() (<-chan BusEvent, func()) {
	id := uuid.NewString()
	sub := &subscriber{id: id, ch: make(chan BusEvent, b.subBufSize)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Emit broadcasts e to every current subscriber without blocking. e.EventID
// and e.Timestamp are left untouched if already set; callers that want the
// bus to stamp them should leave them zero-valued.
func (b *EventBus) Emit(e BusEvent) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.emit(e, false)
}

func (b *EventBus) emit(e BusEvent, isLagLog bool) {
	b.mu.Lock()
	b.appendHistoryLocked(e)
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var lagged []string
	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			lagged = append(lagged, s.id)
		}
	}

	if isLagLog || len(lagged) == 0 {
		return
	}
	for _, id := range lagged {
		b.logger.Warn("bus subscriber lagging, event dropped", "subscriberId", id, "eventType", e.Type)
	}
	b.emit(NewBusEvent(EventAgentLog, e.TraceID, map[string]any{
		"message":       "subscriber-lagging",
		"droppedType":   e.Type,
		"subscriberIds": lagged,
	}), true)
}

// SubscribeType returns a live feed containing only events whose Type
// matches t, derived from Subscribe (spec.md §4.1 "emitsOfType"). The
// returned channel closes once the returned unsubscribe func is called.
func (b *EventBus) SubscribeType(t string) (<-chan BusEvent, func()) {
	src, unsubscribe := b.Subscribe()
	out := make(chan BusEvent, b.subBufSize)
	go func() {
		defer close(out)
		for e := range src {
			if e.Type != t {
				continue
			}
			select {
			case out <- e:
			default:
			}
		}
	}()
	return out, unsubscribe
}

// History returns a copy of the buffered event history in emission order.
func (b *EventBus) History() []BusEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BusEvent, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryOfType returns a copy of the buffered history filtered to events
// whose Type matches t.
func (b *EventBus) HistoryOfType(t string) []BusEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []BusEvent
	for _, e := range b.history {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (b *EventBus) appendHistoryLocked(e BusEvent) {
	b.history = append(b.history, e)
	if b.maxHistory > 0 && len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}

// SubscriberCount reports how many listeners are currently registered.
// Intended for diagnostics and tests.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
