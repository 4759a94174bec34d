package protocol

import (
	"time"

	"github.com/creastat/collate/core"
	"github.com/google/uuid"
)

// EventToMessage converts a pipeline event to an output message.
// Flush requests and unknown events have no envelope and yield nil.
func EventToMessage(event core.Event) *OutputMessage {
	msg := &OutputMessage{
		ID:        generateMessageID(),
		Timestamp: time.Now().UnixMilli(),
	}

	switch e := event.(type) {
	case *core.Record:
		msg.Type = OutputRecord
		msg.Payload = e

	case core.ErrorEvent:
		msg.Type = OutputError
		errMsg := ""
		if e.Error != nil {
			errMsg = e.Error.Error()
		}
		msg.Payload = ErrorPayload{
			Code:      "PIPELINE_ERROR",
			Message:   errMsg,
			Retryable: e.Retryable,
		}

	case core.DoneEvent:
		msg.Type = OutputDone
		msg.Payload = DonePayload{Records: e.Records}

	default:
		return nil
	}

	return msg
}

// generateMessageID generates a unique message ID
func generateMessageID() string {
	return "msg-" + uuid.NewString()
}
