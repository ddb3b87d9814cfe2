package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

// EventToolCallStarted fires while a streamed tool call is still being
// generated. Its call_id is provisional; index identifies the call within
// the response. EventToolCallDetected follows once the call is complete.
const (
	EventTextDelta        EventKind = "text-delta"
	EventToolCallStarted  EventKind = "tool-call-started"
	EventToolCallDetected EventKind = "tool-call-detected"
	EventToolResult       EventKind = "tool-result"
	EventTurnComplete     EventKind = "turn-complete"
	EventTurnError        EventKind = "turn-error"
	EventStreamFallback   EventKind = "stream-fallback"
	EventWarning          EventKind = "warning"
)

// SessionEvent is a typed render event. Turn numbers the submit that
// produced it and Seq restarts at 1 for every turn.
type SessionEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Turn      int                    `json:"turn"`
	Seq       int                    `json:"seq"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives session events. Emit must not block the session.
type EventSink interface {
	Emit(event SessionEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(SessionEvent)

func (f SinkFunc) Emit(event SessionEvent) { f(event) }

// EventEmitter delivers events to the host application via a channel.
type EventEmitter struct {
	ch      chan SessionEvent
	closed  bool
	dropped int
	mu      sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		ch: make(chan SessionEvent, bufferSize),
	}
}

// Emit sends an event to the channel. If the emitter is closed or the
// buffer is full, the event is dropped.
func (e *EventEmitter) Emit(event SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Pending returns the number of buffered, unconsumed events.
func (e *EventEmitter) Pending() int {
	return len(e.ch)
}

// Dropped returns how many events were discarded because the buffer was full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
