package core

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

// For any event type, the EventType() method SHALL return the correct EventType constant.
func TestPropertyEventTypeConsistency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		final := rapid.Bool().Draw(rt, "final")
		flushEvent := FlushEvent{Final: final}
		if flushEvent.EventType() != EventTypeFlush {
			rt.Fatalf("FlushEvent returned wrong type: %s", flushEvent.EventType())
		}

		errorEvent := ErrorEvent{Error: errors.New("boom")}
		if errorEvent.EventType() != EventTypeError {
			rt.Fatalf("ErrorEvent returned wrong type: %s", errorEvent.EventType())
		}

		doneEvent := DoneEvent{Records: rapid.IntRange(0, 100).Draw(rt, "records")}
		if doneEvent.EventType() != EventTypeDone {
			rt.Fatalf("DoneEvent returned wrong type: %s", doneEvent.EventType())
		}

		record := NewRecord()
		record.Set("message", rapid.String().Draw(rt, "message"))
		if record.EventType() != EventTypeRecord {
			rt.Fatalf("Record returned wrong type: %s", record.EventType())
		}
	})
}
