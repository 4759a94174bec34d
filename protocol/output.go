package protocol

// OutputMessageType defines the kinds of envelopes sent to subscribers
type OutputMessageType string

const (
	OutputRecord OutputMessageType = "record" // Emitted record
	OutputError  OutputMessageType = "error"  // Stage failure
	OutputDone   OutputMessageType = "done"   // End of stream
)

// OutputMessage is the envelope written to subscribers
type OutputMessage struct {
	Type      OutputMessageType `json:"type"`
	ID        string            `json:"id"` // Server-generated message ID
	Payload   any               `json:"payload"`
	Timestamp int64             `json:"timestamp"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// DonePayload for done messages
type DonePayload struct {
	Records int `json:"records"`
}
