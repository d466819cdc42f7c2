// Package bus is the in-process event bus. Protocol operations publish
// events here; the REST event feed, the notifier and tests consume them.
package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event types published by the protocol engine.
const (
	EventAgentRegistered     = "agent.registered"
	EventConnectionRequested = "connection.requested"
	EventConnectionAccepted  = "connection.accepted"
	EventDuplicateAccept     = "connection.duplicate_accept"
	EventMessageSent         = "message.sent"
	EventObjectStored        = "object.stored"
	EventAdvisoryFailed      = "advisory.failed"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is one published occurrence.
type Event struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"` // emitting package
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// String returns the payload value for key formatted as text, or "".
func (e Event) String(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case error:
		return t.Error()
	default:
		return ""
	}
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type namedHandler struct {
	id      string
	handler EventHandler
}

// EventBus dispatches events to handlers by type and keeps a bounded
// history for replay.
type EventBus struct {
	mu         sync.RWMutex
	handlers   map[string][]namedHandler
	nextID     uint64
	history    []Event
	maxHistory int
	logger     *slog.Logger
}

// DefaultHistory is the replay buffer size.
const DefaultHistory = 1000

// NewEventBus creates an EventBus with the default history size.
func NewEventBus(logger *slog.Logger) *EventBus {
	return NewEventBusWithHistory(DefaultHistory, logger)
}

// NewEventBusWithHistory creates an EventBus keeping at most n events.
func NewEventBusWithHistory(n int, logger *slog.Logger) *EventBus {
	if n <= 0 {
		n = DefaultHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		maxHistory: n,
		logger:     logger,
	}
}

// On registers a handler for eventType (or Wildcard) and returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "#" + strconv.FormatUint(eb.nextID, 10)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{id: id, handler: handler})
	return id
}

// Off removes a handler by id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	hs := eb.handlers[eventType]
	for i, h := range hs {
		if h.id == handlerID {
			eb.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Emit records the event and calls matching handlers synchronously. A
// panicking handler is logged and does not affect the others.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers[Wildcard]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers[Wildcard]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		eb.dispatch(h, event)
	}
}

func (eb *EventBus) dispatch(h namedHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", event.Type, "handler", h.id, "panic", r)
		}
	}()
	h.handler(event)
}

// EmitAsync publishes on a new goroutine.
func (eb *EventBus) EmitAsync(event Event) {
	go eb.Emit(event)
}

// Replay returns recorded events of eventType (or Wildcard) at or after since,
// oldest first.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == Wildcard || eventType == "" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the number of recorded events.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}
