package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// HistoryKey is the sorted-set of JSON metrics snapshots, scored by unix time
const HistoryKey = "metrics_history"

// HistoryWindow bounds how much sampled history is kept
const HistoryWindow = 7 * 24 * time.Hour

// Publisher is the slice of the event bus the collector needs
type Publisher interface {
	PublishMetrics(ctx context.Context, source string, sample map[string]interface{}) error
}

// Collector samples host load and fleet state on an interval, records the
// snapshot in the metrics history, and publishes it on the metrics channel.
type Collector struct {
	store     store.Store
	publisher Publisher
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// NewCollector creates a metrics collector sampling at the given interval
func NewCollector(st store.Store, pub Publisher, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Collector{
		store:     st,
		publisher: pub,
		interval:  interval,
		logger:    log.WithComponent("metrics"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the sampling loop
func (c *Collector) Start() {
	go func() {
		// Collect immediately on start
		c.collect()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Sample takes a point-in-time snapshot of host and fleet load
func (c *Collector) Sample(ctx context.Context) *types.SystemMetrics {
	snap := &types.SystemMetrics{Timestamp: time.Now().UTC()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	if keys, err := c.store.Keys(ctx, "active_tasks:*"); err == nil {
		snap.ActiveTasks = len(keys)
	}
	var queued int64
	for _, q := range []types.QueueName{types.QueueHighPriority, types.QueueNormal, types.QueueBackground} {
		n, err := c.store.LLen(ctx, "task_queue:"+string(q))
		if err != nil {
			continue
		}
		queued += n
		QueueDepth.WithLabelValues(string(q)).Set(float64(n))
	}
	snap.QueuedTasks = int(queued)

	if keys, err := c.store.Keys(ctx, "workers:*"); err == nil {
		snap.ActiveWorkers = len(keys)
	}
	WorkersActive.Set(float64(snap.ActiveWorkers))

	if n, err := c.store.ZCard(ctx, "dead_letter_queue"); err == nil {
		DLQSize.Set(float64(n))
	}

	return snap
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap := c.Sample(ctx)

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal metrics snapshot")
		return
	}
	if err := c.store.ZAdd(ctx, HistoryKey, float64(snap.Timestamp.Unix()), string(data)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record metrics history")
	}

	if c.publisher != nil {
		sample := map[string]interface{}{
			"cpu_percent":    snap.CPUPercent,
			"memory_percent": snap.MemoryPercent,
			"disk_percent":   snap.DiskPercent,
			"active_tasks":   snap.ActiveTasks,
			"queued_tasks":   snap.QueuedTasks,
			"active_workers": snap.ActiveWorkers,
		}
		if err := c.publisher.PublishMetrics(ctx, "collector", sample); err != nil {
			c.logger.Warn().Err(err).Msg("failed to publish metrics sample")
		}
	}
}

// TrimHistory drops snapshots older than the history window
func (c *Collector) TrimHistory(ctx context.Context) error {
	cutoff := time.Now().Add(-HistoryWindow).Unix()
	return c.store.ZRemoveByScore(ctx, HistoryKey, 0, float64(cutoff))
}
