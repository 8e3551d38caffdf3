package bus

import (
	"testing"
	"time"
)

func TestEventBus_SubscribeReceivesEmit(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Emit(NewBusEvent(EventToolRequest, "trace-1", map[string]any{"tool": "echo"}))

	select {
	case e := <-ch:
		if e.Type != EventToolRequest {
			t.Errorf("got type %q, want %q", e.Type, EventToolRequest)
		}
		if e.TraceID != "trace-1" {
			t.Errorf("got traceId %q, want %q", e.TraceID, "trace-1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted event")
	}
}

func TestEventBus_MultipleSubscribersEachGetEvent(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Emit(NewBusEvent(EventSystemAlert, "trace-2", nil))

	for _, ch := range []<-chan BusEvent{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != EventSystemAlert {
				t.Errorf("got type %q, want %q", e.Type, EventSystemAlert)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for emitted event")
		}
	}
}

func TestEventBus_FullBufferDropsAndEmitsAgentLog(t *testing.T) {
	b := New(WithSubscriberBuffer(2))
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	logCh, unsubLog := b.Subscribe()
	defer unsubLog()

	b.Emit(NewBusEvent(EventUserInput, "t1", nil))
	b.Emit(NewBusEvent(EventUserInput, "t2", nil)) // ch and logCh now both full (t1, t2 unread)

	<-logCh
	<-logCh // drain logCh so it has room for t3 and the agent.log event below

	b.Emit(NewBusEvent(EventUserInput, "t3", nil)) // ch is still full; this one gets dropped for ch

	first := <-ch
	if first.TraceID != "t1" {
		t.Fatalf("expected first buffered event to be t1, got %q", first.TraceID)
	}

	// drain the t3 user.input event and look for the resulting agent.log
	sawLog := false
	for i := 0; i < 4; i++ {
		select {
		case e := <-logCh:
			if e.Type == EventAgentLog {
				sawLog = true
			}
		case <-time.After(time.Second):
		}
		if sawLog {
			break
		}
	}
	if !sawLog {
		t.Error("expected an agent.log event after a subscriber buffer overflowed")
	}
}

func TestEventBus_HistoryReplay(t *testing.T) {
	b := New()
	b.Emit(NewBusEvent(EventToolRequest, "t1", nil))
	b.Emit(NewBusEvent(EventToolResult, "t1", nil))

	hist := b.History()
	if len(hist) != 2 {
		t.Fatalf("got %d history entries, want 2", len(hist))
	}
	if hist[0].Type != EventToolRequest || hist[1].Type != EventToolResult {
		t.Errorf("history out of order: %+v", hist)
	}
}

func TestEventBus_HistoryLimitEvictsOldest(t *testing.T) {
	b := New(WithHistoryLimit(2))
	b.Emit(NewBusEvent(EventToolRequest, "t1", nil))
	b.Emit(NewBusEvent(EventToolRequest, "t2", nil))
	b.Emit(NewBusEvent(EventToolRequest, "t3", nil))

	hist := b.History()
	if len(hist) != 2 {
		t.Fatalf("got %d history entries, want 2", len(hist))
	}
	if hist[0].TraceID != "t2" || hist[1].TraceID != "t3" {
		t.Errorf("expected oldest entry evicted, got %+v", hist)
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestEventBus_SubscribeTypeFiltersToMatchingEvents(t *testing.T) {
	b := New()
	ch, unsubscribe := b.SubscribeType(EventToolResult)
	defer unsubscribe()

	b.Emit(NewBusEvent(EventToolRequest, "t1", nil))
	b.Emit(NewBusEvent(EventToolResult, "t2", nil))

	select {
	case e := <-ch:
		if e.Type != EventToolResult || e.TraceID != "t2" {
			t.Errorf("got %+v, want only the tool.result event", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e, ok := <-ch:
		if ok {
			t.Errorf("expected no further matching events, got %+v", e)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
