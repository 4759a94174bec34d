package core

// Event represents any pipeline event
type Event interface {
	EventType() EventType
}

// FlushEvent asks filter stages to release held records.
// Final is set once, at shutdown; periodic flushes leave it false.
type FlushEvent struct {
	Final bool
}

func (e FlushEvent) EventType() EventType {
	return EventTypeFlush
}

// ErrorEvent represents an error
type ErrorEvent struct {
	Error     error
	Retryable bool
}

func (e ErrorEvent) EventType() EventType {
	return EventTypeError
}

// DoneEvent signals the end of the record stream
type DoneEvent struct {
	// Records is the number of records the sender emitted, when known
	Records int
}

func (e DoneEvent) EventType() EventType {
	return EventTypeDone
}
