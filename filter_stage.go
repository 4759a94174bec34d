package collate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/creastat/collate/core"
	"github.com/creastat/infra/telemetry"
	"github.com/robfig/cron/v3"
)

// FilterStageConfig holds configuration for FilterStage
type FilterStageConfig struct {
	// Name identifies the stage in logs and graphs (default "filter")
	Name   string
	Filter core.Filter
	// Schedule triggers periodic flushes; nil disables them
	Schedule cron.Schedule
	Logger   telemetry.Logger
}

// FilterStage runs a core.Filter inside a pipeline.
//
// Records go through Filter one at a time. Periodic flushes come from the
// schedule or from in-band FlushEvents and run on the same goroutine as Filter,
// so the two never overlap. The final flush happens exactly once: on a final
// FlushEvent, on a DoneEvent, or when the input closes. Cancelling the context
// aborts without flushing.
type FilterStage struct {
	config  FilterStageConfig
	running atomic.Bool
}

// NewFilterStage creates a new filter stage
func NewFilterStage(config FilterStageConfig) *FilterStage {
	if config.Name == "" {
		config.Name = "filter"
	}
	return &FilterStage{
		config: config,
	}
}

// ParseFlushSchedule parses a cron expression or descriptor such as "@every 5s".
// An empty spec yields a nil schedule.
func ParseFlushSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, nil
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Name returns the stage name
func (s *FilterStage) Name() string {
	return s.config.Name
}

// Reentrant reports whether the stage may run in several nodes at once
func (s *FilterStage) Reentrant() bool {
	return s.config.Filter.Threadsafe()
}

// InputTypes returns the event types this stage accepts
func (s *FilterStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

// OutputTypes returns the event types this stage produces
func (s *FilterStage) OutputTypes() []core.EventType {
	return []core.EventType{core.EventTypeRecord, core.EventTypeError, core.EventTypeDone}
}

// Process implements the Stage interface
func (s *FilterStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	if !s.config.Filter.Threadsafe() {
		if !s.running.CompareAndSwap(false, true) {
			return fmt.Errorf("stage %q is not reentrant and is already running", s.Name())
		}
		defer s.running.Store(false)
	}

	logger := s.config.Logger.WithModule(s.Name())
	logger.Debug("filter stage started")

	var ticks <-chan time.Time
	var timer *time.Timer
	if s.config.Schedule != nil {
		timer = time.NewTimer(time.Until(s.config.Schedule.Next(time.Now())))
		defer timer.Stop()
		ticks = timer.C
	}

	emitted := 0
	emit := func(records []*core.Record) error {
		for _, record := range records {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case output <- record:
				emitted++
			}
		}
		return nil
	}

	finish := func(reason string, done bool) error {
		records := s.config.Filter.Flush(true)
		logger.Info("final flush", telemetry.String("reason", reason), telemetry.Int("released", len(records)))
		if err := emit(records); err != nil {
			return err
		}
		if !done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- core.DoneEvent{Records: emitted}:
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticks:
			if err := emit(s.config.Filter.Flush(false)); err != nil {
				return err
			}
			timer.Reset(time.Until(s.config.Schedule.Next(time.Now())))

		case event, ok := <-input:
			if !ok {
				return finish("input closed", false)
			}

			switch e := event.(type) {
			case *core.Record:
				if err := emit(s.config.Filter.Filter(e)); err != nil {
					return err
				}
			case core.FlushEvent:
				if e.Final {
					if err := finish("final flush requested", false); err != nil {
						return err
					}
					return s.drain(ctx, input, output, logger)
				}
				if err := emit(s.config.Filter.Flush(false)); err != nil {
					return err
				}
			case core.DoneEvent:
				if err := finish("done", true); err != nil {
					return err
				}
				return s.drain(ctx, input, output, logger)
			default:
				select {
				case <-ctx.Done():
					return ctx.Err()
				case output <- event:
				}
			}
		}
	}
}

// drain forwards whatever arrives after the final flush until the input closes.
// Late records are passed through unfiltered.
func (s *FilterStage) drain(ctx context.Context, input <-chan core.Event, output chan<- core.Event, logger telemetry.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-input:
			if !ok {
				return nil
			}
			if _, isRecord := event.(*core.Record); isRecord {
				logger.Warn("record received after final flush, passing through unfiltered")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case output <- event:
			}
		}
	}
}
