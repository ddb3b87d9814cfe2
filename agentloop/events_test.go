package agentloop

import "testing"

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter(2)
	for i := 0; i < 3; i++ {
		e.Emit(SessionEvent{Kind: EventTextDelta, Seq: i + 1})
	}
	if e.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", e.Pending())
	}
	if e.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", e.Dropped())
	}

	first := <-e.Events()
	if first.Seq != 1 {
		t.Errorf("first event seq = %d, want 1", first.Seq)
	}

	e.Close()
	e.Close()
	e.Emit(SessionEvent{Kind: EventWarning})

	var rest []SessionEvent
	for ev := range e.Events() {
		rest = append(rest, ev)
	}
	if len(rest) != 1 || rest[0].Seq != 2 {
		t.Errorf("remaining events = %+v", rest)
	}
}

func TestSinkFunc(t *testing.T) {
	var got []EventKind
	var sink EventSink = SinkFunc(func(ev SessionEvent) { got = append(got, ev.Kind) })
	sink.Emit(SessionEvent{Kind: EventTurnComplete})
	if len(got) != 1 || got[0] != EventTurnComplete {
		t.Errorf("got %v", got)
	}
}
