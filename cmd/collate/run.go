package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creastat/collate"
	"github.com/creastat/collate/config"
	"github.com/creastat/collate/core"
	"github.com/creastat/collate/protocol"
	"github.com/creastat/collate/stages"
	"github.com/creastat/infra/telemetry"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func runCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Correlate records from files or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Input.Paths = args
			}
			if cmd.Flags().Changed("follow") {
				cfg.Input.Follow = follow
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := telemetry.New(telemetry.Config{Level: cfg.Log.Level})

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(cmd.Context(), sigCtx, cfg, logger, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reading files as they grow")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if _, err := collate.ParseFlushSchedule(cfg.Flush.Schedule); err != nil {
				return err
			}
			if _, err := stages.NewCorrelator(correlatorConfig(cfg, telemetry.New(telemetry.Config{Level: "error"}))); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}

// run reads the configured input through the pipeline until the input ends or
// stopCtx is cancelled. Cancelling stopCtx only stops the source, so records
// still held are released by the final flush before run returns.
func run(ctx, stopCtx context.Context, cfg config.Config, logger telemetry.Logger, stdin io.Reader, stdout io.Writer) error {
	if cfg.Metrics.Listen != "" {
		_, shutdown, err := serveMetrics(cfg.Metrics.Listen, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	pipeline, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	source, err := stages.NewFileSource(stages.FileSourceConfig{
		Paths:  cfg.Input.Paths,
		Reader: stdin,
		Host:   cfg.Input.Host,
		Follow: cfg.Input.Follow,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sourceCtx, stopSource := context.WithCancel(stopCtx)
	defer stopSource()

	input := make(chan core.Event, 100)
	output := pipeline.Execute(ctx, input)
	finished := make(chan struct{})

	var sourceErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sourceErr = feed(sourceCtx, source, input, finished)
	}()

	emitted := 0
	for event := range output {
		switch e := event.(type) {
		case *core.Record:
			emitted++
			if !cfg.Output.Stdout {
				continue
			}
			line, err := protocol.EncodeRecord(e)
			if err != nil {
				logger.Error("failed to encode record", telemetry.Err(err))
				continue
			}
			if _, err := stdout.Write(append(line, '\n')); err != nil {
				logger.Error("failed to write record", telemetry.Err(err))
			}
		case core.ErrorEvent:
			logger.Error("pipeline error", telemetry.Err(e.Error))
		case core.DoneEvent:
			logger.Info("pipeline done", telemetry.Int("records", e.Records))
		}
	}
	close(finished)
	stopSource()
	wg.Wait()

	logger.Info("collate finished", telemetry.Int("emitted", emitted))
	if err := pipeline.Err(); err != nil {
		return err
	}
	return sourceErr
}

// feed runs the source and forwards its records into the pipeline input. When
// the source ends or ctx is cancelled it sends a DoneEvent and closes input; a
// source blocked in a read (stdin) is abandoned rather than waited for.
func feed(ctx context.Context, source *stages.FileSource, input chan<- core.Event, finished <-chan struct{}) error {
	defer close(input)

	type result struct {
		n   int
		err error
	}
	records := make(chan core.Event, 100)
	done := make(chan result, 1)
	go func() {
		n, err := source.Run(ctx, records)
		done <- result{n, err}
	}()

	forwarded := 0
	forward := func(event core.Event) bool {
		select {
		case input <- event:
			forwarded++
			return true
		case <-finished:
			return false
		}
	}

	var sourceErr error
loop:
	for {
		select {
		case event := <-records:
			if !forward(event) {
				return nil
			}
		case res := <-done:
			sourceErr = res.err
			// Run has returned, so everything it produced is buffered
			for {
				select {
				case event := <-records:
					if !forward(event) {
						return sourceErr
					}
				default:
					break loop
				}
			}
		case <-ctx.Done():
			break loop
		}
	}

	select {
	case input <- core.DoneEvent{Records: forwarded}:
	case <-finished:
	}
	return sourceErr
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// function is called. It returns the bound address.
func serveMetrics(addr string, logger telemetry.Logger) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Handler: mux}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", telemetry.Err(err))
		}
	}()
	logger.Info("serving metrics", telemetry.String("addr", listener.Addr().String()))

	return listener.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// buildPipeline wires correlate → [sql_sink] → [websocket_sink]
func buildPipeline(ctx context.Context, cfg config.Config, logger telemetry.Logger) (*collate.Pipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	schedule, err := collate.ParseFlushSchedule(cfg.Flush.Schedule)
	if err != nil {
		return nil, cleanup, err
	}

	correlate, err := correlateStage(cfg, schedule, logger)
	if err != nil {
		return nil, cleanup, err
	}

	builder := collate.NewBuilder().AddStage("correlate", correlate)
	chain := []string{"correlate"}

	if cfg.Output.SQL.Driver != "" {
		db, err := stages.OpenSQL(ctx, cfg.Output.SQL.Driver, cfg.Output.SQL.DSN)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() { db.Close() })

		sink, err := stages.NewSQLSink(ctx, stages.SQLSinkConfig{
			DB:     db,
			Driver: cfg.Output.SQL.Driver,
			Table:  cfg.Output.SQL.Table,
			Logger: logger,
		})
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		builder.AddStage("sql_sink", sink)
		chain = append(chain, "sql_sink")
	}

	if cfg.Output.WebSocketURL != "" {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.Output.WebSocketURL, nil)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("dial %s: %w", cfg.Output.WebSocketURL, err)
		}
		closers = append(closers, func() { conn.Close() })

		builder.AddStage("websocket_sink", stages.NewWebSocketSink(stages.WebSocketSinkConfig{
			Conn:      conn,
			RateLimit: rate.Limit(cfg.Output.WebSocketRate),
			Burst:     cfg.Output.WebSocketBurst,
			Logger:    logger,
		}))
		chain = append(chain, "websocket_sink")
	}

	pipeline, err := builder.
		Chain(chain...).
		SetEntryNode(chain[0]).
		AddExitNode(chain[len(chain)-1]).
		Build()
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return pipeline, cleanup, nil
}

// correlateStage returns a single correlator stage, or a sharded one when
// more than one shard is configured
func correlateStage(cfg config.Config, schedule cron.Schedule, logger telemetry.Logger) (core.Stage, error) {
	newStage := func(i int) (core.Stage, error) {
		correlator, err := stages.NewCorrelator(correlatorConfig(cfg, logger))
		if err != nil {
			return nil, err
		}
		return collate.NewFilterStage(collate.FilterStageConfig{
			Name:     fmt.Sprintf("correlate-%d", i),
			Filter:   correlator,
			Schedule: schedule,
			Logger:   logger,
		}), nil
	}

	if cfg.Correlate.Shards <= 1 {
		return newStage(0)
	}

	keyer, err := stages.NewCorrelator(correlatorConfig(cfg, logger))
	if err != nil {
		return nil, err
	}
	return collate.NewShardedStage("correlate", &core.ShardConfig{
		Shards:   cfg.Correlate.Shards,
		Key:      keyer.Key,
		NewStage: newStage,
	}, logger)
}

func correlatorConfig(cfg config.Config, logger telemetry.Logger) stages.CorrelatorConfig {
	return stages.CorrelatorConfig{
		UniqueField:    cfg.Correlate.UniqueField,
		Target:         cfg.Correlate.Target,
		Fields:         cfg.Correlate.Fields,
		StreamIdentity: cfg.Correlate.StreamIdentity,
		Tag:            cfg.Correlate.Tag,
		Type:           cfg.Correlate.Type,
		Logger:         logger,
	}
}
