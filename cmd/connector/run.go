package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/engine"
	"github.com/eclipse-edc/Connector-sub001/stream"
)

// RunOptions holds run command flags.
type RunOptions struct {
	// Watch lists stream topics whose events are printed as JSON lines.
	Watch []string
	Out   io.Writer
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	runOpts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the process engine until interrupted",
		Long: `Open and migrate the configured store, register the negotiation,
transfer and policy monitor state machines and process entities until
SIGINT or SIGTERM.

With --watch, lifecycle events on the given topics (firehose, failures,
type:<entity type> or entity:<entity id>) are printed as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, topic := range runOpts.Watch {
				if err := stream.ValidateTopic(topic); err != nil {
					return err
				}
			}
			runOpts.Out = cmd.OutOrStdout()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEngine(ctx, rootOpts, *runOpts)
		},
	}
	cmd.Flags().StringSliceVar(&runOpts.Watch, "watch", nil, "stream topics to print lifecycle events for")
	return cmd
}

// runEngine blocks until ctx is done, then stops the engine.
func runEngine(ctx context.Context, opts *RootOptions, runOpts RunOptions) error {
	cfg, logger := opts.Config, opts.Logger

	tp, shutdownTracing, err := setupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	s, err := openStore(ctx, cfg.Store, clock.Real{}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("migrate store: %w", err)
	}

	var engineOpts []engine.Option
	if tp != nil {
		engineOpts = append(engineOpts, engine.WithTracerProvider(tp))
	}
	watchDone := make(chan struct{})
	var broker *stream.Broker
	if len(runOpts.Watch) > 0 && runOpts.Out != nil {
		broker = stream.NewBroker(logger)
		engineOpts = append(engineOpts, engine.WithExtension(broker))
		go printEvents(broker.Subscribe("cli-watch", runOpts.Watch...), runOpts.Out, watchDone)
	} else {
		close(watchDone)
	}
	abort := func() {
		_ = s.Close()
		if broker != nil {
			broker.RemoveSubscriber("cli-watch")
		}
		<-watchDone
	}
	eng, err := buildEngine(cfg, s, logger, engineOpts...)
	if err != nil {
		abort()
		return err
	}

	if err := eng.Start(ctx); err != nil {
		abort()
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("connector running",
		"store", cfg.Store.Driver,
		"instance_id", eng.Holder(),
		"protocol", cfg.Dispatch.Protocol,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout+5*time.Second)
	defer cancel()
	err = eng.Stop(stopCtx)
	<-watchDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

// printEvents writes events as JSON lines until the broker closes sub.
func printEvents(sub *stream.Subscriber, w io.Writer, done chan<- struct{}) {
	defer close(done)
	enc := json.NewEncoder(w)
	for evt := range sub.C() {
		_ = enc.Encode(evt)
		sub.AddCredits(1)
	}
}
