package bus

import (
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.On(EventAgentRegistered, func(e Event) { got = e })
	eb.Emit(Event{Type: EventAgentRegistered, Payload: map[string]any{"accountId": "0.0.7"}})

	if got.String("accountId") != "0.0.7" {
		t.Fatalf("handler did not receive payload: %+v", got)
	}
}

func TestEventBus_Wildcard(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On(Wildcard, func(e Event) { atomic.AddInt32(&count, 1) })
	eb.Emit(Event{Type: EventConnectionRequested})
	eb.Emit(Event{Type: EventMessageSent})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_OffRemovesOnlyThatHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var a, b int32
	idA := eb.On(EventMessageSent, func(Event) { atomic.AddInt32(&a, 1) })
	idB := eb.On(EventMessageSent, func(Event) { atomic.AddInt32(&b, 1) })
	if idA == idB {
		t.Fatalf("handler ids must be unique, got %q twice", idA)
	}

	eb.Emit(Event{Type: EventMessageSent})
	eb.Off(EventMessageSent, idA)
	eb.Emit(Event{Type: EventMessageSent})

	if a != 1 || b != 2 {
		t.Errorf("expected a=1 b=2, got a=%d b=%d", a, b)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: EventConnectionAccepted})
	eb.Emit(Event{Type: EventMessageSent})
	eb.Emit(Event{Type: EventConnectionAccepted})

	if n := len(eb.Replay(EventConnectionAccepted, time.Time{})); n != 2 {
		t.Errorf("expected 2 accepted events, got %d", n)
	}
	if n := len(eb.Replay(Wildcard, time.Time{})); n != 3 {
		t.Errorf("expected 3 total events, got %d", n)
	}
	if n := len(eb.Replay("", time.Time{})); n != 3 {
		t.Errorf("empty type should match everything, got %d", n)
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	events := eb.Replay(Wildcard, threshold)
	if len(events) != 1 || events[0].Type != "new" {
		t.Errorf("expected only the new event, got %+v", events)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBusWithHistory(5, testLogger())
	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventObjectStored})
	}
	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On(EventAdvisoryFailed, func(Event) { panic("boom") })
	eb.On(EventAdvisoryFailed, func(Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: EventAdvisoryFailed})
	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("a panicking handler must not stop later handlers")
	}
}

func TestEventBus_EmitAsync(t *testing.T) {
	eb := NewEventBus(testLogger())

	done := make(chan struct{})
	eb.On(EventDuplicateAccept, func(Event) { close(done) })
	eb.EmitAsync(Event{Type: EventDuplicateAccept})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: EventMessageSent})
}

func TestEvent_String(t *testing.T) {
	e := Event{Payload: map[string]any{
		"s":   "text",
		"n":   42,
		"seq": uint64(7),
		"ok":  true,
		"err": errors.New("failed"),
		"nil": nil,
	}}
	for key, want := range map[string]string{"s": "text", "n": "42", "seq": "7", "ok": "true", "err": "failed", "nil": "", "missing": ""} {
		if got := e.String(key); got != want {
			t.Errorf("String(%q) = %q, want %q", key, got, want)
		}
	}
}
