package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one simulated inference worker",
	Long: `Run a worker that pulls tasks from the shared queues and
simulates model inference: step-by-step execution with heartbeats,
pause and throttle compliance, and retry scheduling on failure.

The profile decides speed, cost, and capabilities; run several workers
with different profiles to build a heterogeneous fleet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if id, _ := cmd.Flags().GetString("id"); id != "" {
			cfg.Worker.ID = id
		}
		if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
			cfg.Worker.Profile = profile
		}
		if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
			cfg.Worker.Concurrency = n
		}
		if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
			cfg.Redis.Addr = addr
		}
		initLogging(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := store.NewRedis(ctx, cfg.Redis)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer st.Close()

		b := bus.New(st, cfg.Bus)
		runtime := worker.New(st, b, cfg.Worker)
		runtime.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		runtime.Stop()
		return nil
	},
}

func init() {
	workerCmd.Flags().String("id", "", "Worker ID (generated when empty)")
	workerCmd.Flags().String("profile", "", "Model profile, e.g. gpt-4, claude-3-haiku")
	workerCmd.Flags().Int("concurrency", 0, "Concurrent task slots")
	workerCmd.Flags().String("redis", "", "Redis address (overrides config)")
}
