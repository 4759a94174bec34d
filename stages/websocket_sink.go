package stages

import (
	"context"
	"encoding/json"

	"github.com/creastat/collate/core"
	"github.com/creastat/collate/protocol"
	"github.com/creastat/infra/telemetry"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WebSocketSinkConfig holds WebSocket sink configuration
type WebSocketSinkConfig struct {
	Conn   *websocket.Conn
	Logger telemetry.Logger

	// RateLimit caps record envelopes per second; zero sends every record.
	// Error and done envelopes are never limited.
	RateLimit rate.Limit
	Burst     int
}

// WebSocketSink mirrors pipeline events to a WebSocket connection as JSON envelopes.
// Events are forwarded downstream unchanged; a failed write only disables the mirror.
type WebSocketSink struct {
	config   WebSocketSinkConfig
	limiter  *rate.Limiter
	disabled bool
	skipped  int
}

// NewWebSocketSink creates a new WebSocket sink stage
func NewWebSocketSink(config WebSocketSinkConfig) *WebSocketSink {
	ws := &WebSocketSink{
		config: config,
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		ws.limiter = rate.NewLimiter(config.RateLimit, burst)
	}
	return ws
}

// Name returns the stage name
func (ws *WebSocketSink) Name() string {
	return "websocket_sink"
}

// Process implements the Stage interface
func (ws *WebSocketSink) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	logger := ws.config.Logger.WithModule(ws.Name())
	logger.Info("Starting WebSocket sink stage")

	sent := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("WebSocket sink context cancelled", telemetry.Int("sent", sent))
			return ctx.Err()

		case event, ok := <-input:
			if !ok {
				logger.Info("WebSocket sink input channel closed", telemetry.Int("sent", sent), telemetry.Int("rate_limited", ws.skipped))
				return nil
			}

			if ws.send(event, logger) {
				sent++
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case output <- event:
			}
		}
	}
}

// send writes the event's envelope and reports whether anything was written
func (ws *WebSocketSink) send(event core.Event, logger telemetry.Logger) bool {
	if ws.disabled || ws.config.Conn == nil {
		return false
	}

	msg := protocol.EventToMessage(event)
	if msg == nil {
		return false
	}

	if msg.Type == protocol.OutputRecord && ws.limiter != nil && !ws.limiter.Allow() {
		ws.skipped++
		logger.Debug("Record envelope rate limited", telemetry.String("id", msg.ID), telemetry.Int("skipped", ws.skipped))
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal message", telemetry.Err(err), telemetry.String("event_type", string(msg.Type)))
		return false
	}

	if err := ws.config.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Connection is gone; keep the pipeline running without the mirror
		logger.Error("Failed to send message to WebSocket, disabling sink", telemetry.Err(err), telemetry.String("event_type", string(msg.Type)))
		ws.disabled = true
		return false
	}

	logger.Debug("Sent event to WebSocket", telemetry.String("type", string(msg.Type)), telemetry.String("id", msg.ID))
	return true
}

// InputTypes returns the input event types this stage accepts
func (ws *WebSocketSink) InputTypes() []core.EventType {
	return []core.EventType{}
}

// OutputTypes returns the output event types this stage produces
func (ws *WebSocketSink) OutputTypes() []core.EventType {
	return []core.EventType{core.EventTypeRecord, core.EventTypeFlush, core.EventTypeError, core.EventTypeDone}
}
