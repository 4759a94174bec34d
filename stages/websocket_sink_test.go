package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creastat/collate/core"
	"github.com/creastat/collate/protocol"
	"github.com/gorilla/websocket"
)

// startWebSocketServer returns a connected client and a channel of decoded envelopes
func startWebSocketServer(t *testing.T) (*websocket.Conn, <-chan protocol.OutputMessage, func()) {
	t.Helper()

	serverMessages := make(chan protocol.OutputMessage, 10)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			var msg protocol.OutputMessage
			if err := json.Unmarshal(message, &msg); err == nil {
				serverMessages <- msg
			}
		}
	}))

	u := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		s.Close()
		t.Fatalf("Failed to dial: %v", err)
	}

	return conn, serverMessages, func() {
		conn.Close()
		s.Close()
	}
}

func TestWebSocketSink_SendsEnvelopesAndPassesThrough(t *testing.T) {
	conn, serverMessages, cleanup := startWebSocketServer(t)
	defer cleanup()

	sink := NewWebSocketSink(WebSocketSinkConfig{
		Conn:   conn,
		Logger: testLogger(),
	})

	input := make(chan core.Event, 3)
	output := make(chan core.Event, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := orderRecord("W-1", 1)
	input <- record
	input <- core.FlushEvent{}
	input <- core.DoneEvent{Records: 1}
	close(input)

	if err := sink.Process(ctx, input, output); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	close(output)

	var forwarded []core.Event
	for event := range output {
		forwarded = append(forwarded, event)
	}
	if len(forwarded) != 3 {
		t.Fatalf("Expected 3 forwarded events, got %d", len(forwarded))
	}
	if forwarded[0] != record {
		t.Error("Record should be forwarded unchanged")
	}

	// Flush events have no envelope, so only record and done reach the client
	var types []protocol.OutputMessageType
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case msg := <-serverMessages:
			types = append(types, msg.Type)
			if msg.Type == protocol.OutputRecord {
				payload, ok := msg.Payload.(map[string]any)
				if !ok {
					t.Fatalf("Payload is not a map: %T", msg.Payload)
				}
				if payload["WONumber"] != "W-1" {
					t.Errorf("Expected WONumber W-1, got %v", payload["WONumber"])
				}
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for messages, got %v", types)
		}
	}

	if types[0] != protocol.OutputRecord || types[1] != protocol.OutputDone {
		t.Errorf("Unexpected message order: %v", types)
	}
}

func TestWebSocketSink_WriteFailureKeepsForwarding(t *testing.T) {
	conn, _, cleanup := startWebSocketServer(t)
	cleanup()
	conn.Close()

	sink := NewWebSocketSink(WebSocketSinkConfig{
		Conn:   conn,
		Logger: testLogger(),
	})

	input := make(chan core.Event, 2)
	output := make(chan core.Event, 2)
	input <- orderRecord("W-1", 1)
	input <- orderRecord("W-2", 1)
	close(input)

	if err := sink.Process(context.Background(), input, output); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(output) != 2 {
		t.Errorf("Expected both records forwarded, got %d", len(output))
	}
	if !sink.disabled {
		t.Error("Sink should disable itself after a failed write")
	}
}

func TestWebSocketSink_NoConnection(t *testing.T) {
	sink := NewWebSocketSink(WebSocketSinkConfig{Logger: testLogger()})

	input := make(chan core.Event, 1)
	output := make(chan core.Event, 1)
	input <- orderRecord("W-1", 1)
	close(input)

	if err := sink.Process(context.Background(), input, output); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(output) != 1 {
		t.Errorf("Expected record forwarded, got %d", len(output))
	}
}

func TestWebSocketSink_RateLimitSkipsRecordsOnly(t *testing.T) {
	conn, serverMessages, cleanup := startWebSocketServer(t)
	defer cleanup()

	sink := NewWebSocketSink(WebSocketSinkConfig{
		Conn:      conn,
		RateLimit: 0.001,
		Burst:     1,
		Logger:    testLogger(),
	})

	input := make(chan core.Event, 4)
	output := make(chan core.Event, 4)
	input <- orderRecord("W-1", 1)
	input <- orderRecord("W-2", 1)
	input <- orderRecord("W-3", 1)
	input <- core.DoneEvent{Records: 3}
	close(input)

	if err := sink.Process(context.Background(), input, output); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(output) != 4 {
		t.Fatalf("Expected every event forwarded, got %d", len(output))
	}
	if sink.skipped != 2 {
		t.Errorf("Expected 2 rate limited records, got %d", sink.skipped)
	}

	var types []protocol.OutputMessageType
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case msg := <-serverMessages:
			types = append(types, msg.Type)
		case <-timeout:
			t.Fatalf("Timed out waiting for messages, got %v", types)
		}
	}
	if types[0] != protocol.OutputRecord || types[1] != protocol.OutputDone {
		t.Errorf("Unexpected message order: %v", types)
	}
}
