package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/aggregate"
	"github.com/droverhq/drover/pkg/api"
	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/health"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/scheduler"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/stream"
)

const collectInterval = time.Minute

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	Long: `Run the Drover control plane: the HTTP API, the task
scheduler, the event aggregator, the SSE/WebSocket fan-out layer, the
metrics collector, and the health monitor, all over one Redis
connection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			cfg.Server.ListenAddr = addr
		}
		if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
			cfg.Redis.Addr = addr
		}
		initLogging(cfg)
		metrics.SetVersion(Version)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := store.NewRedis(ctx, cfg.Redis)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer st.Close()
		metrics.RegisterComponent("store", true, "connected")

		b := bus.New(st, cfg.Bus)
		metrics.RegisterComponent("bus", true, "ready")

		// Fan-out: bus -> aggregator -> connected clients
		streams := stream.NewManager(b, cfg.Stream)
		streams.Start()
		agg := aggregate.New(aggregate.DefaultConfigs(), streams.Dispatch)
		agg.Start()

		feed, err := b.Subscribe(context.Background(), bus.Channels()...)
		if err != nil {
			return fmt.Errorf("failed to subscribe to event channels: %w", err)
		}
		go func() {
			for evt := range feed.Events() {
				agg.Process(evt)
			}
		}()

		sched := scheduler.New(st, b)
		sched.Start()
		metrics.RegisterComponent("scheduler", true, "running")

		collector := metrics.NewCollector(st, b, collectInterval)
		collector.Start()

		monitor := health.NewMonitor(st, b)
		monitor.Start()

		server := api.NewServer(cfg.Server, st, b, sched, streams, collector)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
		}

		// Drain in dependency order: stop taking requests, stop the
		// producers, then the fan-out
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		}
		sched.Stop()
		monitor.Stop()
		collector.Stop()
		feed.Close()
		agg.Stop()
		streams.Stop()
		return nil
	},
}

func init() {
	serverCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	serverCmd.Flags().String("redis", "", "Redis address (overrides config)")
}
