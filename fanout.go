package collate

import (
	"context"
	"fmt"
	"sync"

	"github.com/creastat/collate/core"
	"github.com/creastat/infra/telemetry"
	"github.com/go-faster/city"
)

// ShardedStage partitions records by key across independent stage instances.
//
// Each record goes to exactly one shard, picked by hashing its key, so a
// stateful stage such as the correlator sees every record of a stream in
// order. Flush and Done events are broadcast to every shard; the shards' Done
// events are consolidated into one by a barrier. Other events go to shard 0.
type ShardedStage struct {
	name   string
	config *core.ShardConfig
	shards []core.Stage
	logger telemetry.Logger
}

// NewShardedStage creates the shards and the stage that routes between them
func NewShardedStage(name string, config *core.ShardConfig, logger telemetry.Logger) (*ShardedStage, error) {
	if config.Shards < 1 {
		return nil, fmt.Errorf("sharded stage %q needs at least one shard, got %d", name, config.Shards)
	}
	if config.Key == nil {
		return nil, fmt.Errorf("sharded stage %q has no key function", name)
	}
	if config.NewStage == nil {
		return nil, fmt.Errorf("sharded stage %q has no stage factory", name)
	}

	shards := make([]core.Stage, config.Shards)
	for i := range shards {
		stage, err := config.NewStage(i)
		if err != nil {
			return nil, fmt.Errorf("failed to create shard %d of %q: %w", i, name, err)
		}
		shards[i] = stage
	}

	return &ShardedStage{
		name:   name,
		config: config,
		shards: shards,
		logger: logger,
	}, nil
}

// Name returns the stage name
func (ss *ShardedStage) Name() string {
	return ss.name
}

// ShardFor returns the shard index for key
func (ss *ShardedStage) ShardFor(key string) int {
	return int(city.Hash64([]byte(key)) % uint64(len(ss.shards)))
}

// Process implements the Stage interface
func (ss *ShardedStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	logger := ss.logger.WithModule(ss.Name())
	logger.Info("starting sharded stage", telemetry.Int("shards", len(ss.shards)))

	shardCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputs := make([]chan core.Event, len(ss.shards))
	outputs := make([]chan core.Event, len(ss.shards))
	for i := range ss.shards {
		inputs[i] = make(chan core.Event, 100)
		outputs[i] = make(chan core.Event, 100)
	}

	errorChan := make(chan error, len(ss.shards))
	var shardWg sync.WaitGroup
	for i, shard := range ss.shards {
		shardWg.Add(1)
		go func(i int, shard core.Stage) {
			defer shardWg.Done()
			defer close(outputs[i])
			// Errors after cancellation are a consequence, not a cause
			if err := shard.Process(shardCtx, inputs[i], outputs[i]); err != nil && shardCtx.Err() == nil {
				logger.Error("shard failed", telemetry.Int("shard", i), telemetry.Err(err))
				errorChan <- fmt.Errorf("shard %d: %w", i, err)
				cancel()
			}
		}(i, shard)
	}

	merged := make(chan core.Event, 100)
	go func() {
		defer close(merged)
		ss.mergeOutputs(shardCtx, outputs, merged)
	}()

	barrier := NewBarrierStage(ss.name+"-barrier", &core.BarrierConfig{UpstreamCount: len(ss.shards)})
	barrierErr := make(chan error, 1)
	go func() {
		err := barrier.Process(shardCtx, merged, output)
		if err != nil {
			cancel()
		}
		barrierErr <- err
	}()

	ss.distributeEvents(shardCtx, input, inputs)
	for _, ch := range inputs {
		close(ch)
	}

	shardWg.Wait()
	err := <-barrierErr
	close(errorChan)
	if shardErr, ok := <-errorChan; ok {
		return shardErr
	}
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// distributeEvents routes records by key and broadcasts flush and done events
func (ss *ShardedStage) distributeEvents(ctx context.Context, input <-chan core.Event, inputs []chan core.Event) {
	send := func(i int, event core.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case inputs[i] <- event:
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-input:
			if !ok {
				return
			}

			switch e := event.(type) {
			case *core.Record:
				if !send(ss.ShardFor(ss.config.Key(e)), e) {
					return
				}
			case core.FlushEvent, core.DoneEvent:
				for i := range inputs {
					if !send(i, e) {
						return
					}
				}
			default:
				if !send(0, e) {
					return
				}
			}
		}
	}
}

// mergeOutputs forwards events from every shard into a single channel
func (ss *ShardedStage) mergeOutputs(ctx context.Context, outputs []chan core.Event, merged chan<- core.Event) {
	var wg sync.WaitGroup
	for _, ch := range outputs {
		wg.Add(1)
		go func(ch <-chan core.Event) {
			defer wg.Done()
			for event := range ch {
				select {
				case <-ctx.Done():
					// keep draining so the shard can finish
				case merged <- event:
				}
			}
		}(ch)
	}
	wg.Wait()
}

// InputTypes returns the input event types this stage accepts
func (ss *ShardedStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

// OutputTypes returns the union of the shards' output types
func (ss *ShardedStage) OutputTypes() []core.EventType {
	seen := make(map[core.EventType]bool)
	result := make([]core.EventType, 0)
	for _, shard := range ss.shards {
		for _, t := range shard.OutputTypes() {
			if !seen[t] {
				seen[t] = true
				result = append(result, t)
			}
		}
	}
	return result
}
