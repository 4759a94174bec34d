package collate

import (
	"context"
	"fmt"

	"github.com/creastat/collate/core"
)

// BarrierStage joins several upstream branches. Everything but DoneEvents is
// forwarded as it arrives; once every branch has sent its DoneEvent a single
// consolidated DoneEvent is emitted.
//
// The barrier does not close output; whoever runs the stage owns the channel.
type BarrierStage struct {
	name   string
	config *core.BarrierConfig
}

// NewBarrierStage creates a new barrier stage
func NewBarrierStage(name string, config *core.BarrierConfig) *BarrierStage {
	return &BarrierStage{
		name:   name,
		config: config,
	}
}

// Name returns the stage name
func (bs *BarrierStage) Name() string {
	return bs.name
}

// Process implements the Stage interface.
// An input that closes without any DoneEvent is not an error: there is nothing
// to consolidate. A partial set of DoneEvents is.
func (bs *BarrierStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	doneCount := 0
	records := 0
	var firstError error

	for event := range input {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch e := event.(type) {
		case core.ErrorEvent:
			// Fail fast, but keep forwarding so the error reaches the sink
			if firstError == nil {
				firstError = e.Error
			}
		case core.DoneEvent:
			doneCount++
			records += e.Records
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- event:
		}
	}

	if firstError != nil {
		return firstError
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if doneCount == 0 {
		return nil
	}
	if doneCount != bs.config.UpstreamCount {
		return fmt.Errorf("barrier expected %d DoneEvents, got %d", bs.config.UpstreamCount, doneCount)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case output <- core.DoneEvent{Records: records}:
	}

	return nil
}

// InputTypes returns the input event types this stage accepts
func (bs *BarrierStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

// OutputTypes returns the output event types this stage produces
func (bs *BarrierStage) OutputTypes() []core.EventType {
	return []core.EventType{
		core.EventTypeRecord,
		core.EventTypeFlush,
		core.EventTypeError,
		core.EventTypeDone,
	}
}
