package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// BlockedTasksKey holds submitted tasks waiting on unmet dependencies
const BlockedTasksKey = "blocked_tasks"

const (
	dispatchInterval    = time.Second
	maintenanceInterval = 5 * time.Minute
)

// Scheduler is the control-plane brain: it admits tasks into the dispatch
// lanes, promotes delayed retries, releases dependency-blocked tasks,
// reprocesses the dead letter queue, and sweeps stale records.
type Scheduler struct {
	store  store.Store
	bus    *bus.Bus
	logger zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler over the shared store and event bus
func New(st store.Store, b *bus.Bus) *Scheduler {
	return &Scheduler{
		store:  st,
		bus:    b,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the dispatch and maintenance loops
func (s *Scheduler) Start() {
	s.logger.Info().Msg("scheduler starting")
	go s.run()
}

// Stop halts the loops
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	dispatch := time.NewTicker(dispatchInterval)
	defer dispatch.Stop()
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-dispatch.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.promoteDelayed(ctx)
			s.releaseBlocked(ctx)
			cancel()
		case <-maintenance.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			s.reprocessDLQ(ctx)
			s.sweep(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// promoteDelayed moves due retries from the delayed set into their lanes
func (s *Scheduler) promoteDelayed(ctx context.Context) {
	now := float64(time.Now().Unix())
	entries, err := s.store.ZRangeByScore(ctx, types.DelayedTasksKey, 0, now)
	if err != nil {
		if err != store.ErrNotFound {
			s.logger.Warn().Err(err).Msg("failed to read delayed tasks")
		}
		return
	}

	for _, entry := range entries {
		if err := s.store.ZRemove(ctx, types.DelayedTasksKey, entry); err != nil {
			s.logger.Warn().Err(err).Msg("failed to remove promoted entry")
			continue
		}

		var task types.Task
		if err := json.Unmarshal([]byte(entry), &task); err != nil {
			s.logger.Error().Err(err).Msg("dropping malformed delayed entry")
			continue
		}

		if err := s.enqueue(ctx, &task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to enqueue promoted task")
			continue
		}
		s.logger.Info().
			Str("task_id", task.ID).
			Int("attempt", task.Attempts).
			Msg("delayed task promoted")
	}
}

// releaseBlocked re-examines dependency-gated tasks. A task whose
// dependencies have all completed moves into its lane; a task with a
// permanently failed dependency fails outright.
func (s *Scheduler) releaseBlocked(ctx context.Context) {
	entries, err := s.store.ZRangeByScore(ctx, BlockedTasksKey, 0, float64(time.Now().Unix()))
	if err != nil {
		if err != store.ErrNotFound {
			s.logger.Warn().Err(err).Msg("failed to read blocked tasks")
		}
		return
	}

	for _, entry := range entries {
		var task types.Task
		if err := json.Unmarshal([]byte(entry), &task); err != nil {
			s.logger.Error().Err(err).Msg("dropping malformed blocked entry")
			_ = s.store.ZRemove(ctx, BlockedTasksKey, entry)
			continue
		}

		ready, deadDep, err := s.checkDependencies(ctx, &task)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("dependency check failed")
			continue
		}

		switch {
		case deadDep != "":
			if err := s.store.ZRemove(ctx, BlockedTasksKey, entry); err != nil {
				continue
			}
			s.failDependent(ctx, &task, deadDep)
		case ready:
			if err := s.store.ZRemove(ctx, BlockedTasksKey, entry); err != nil {
				continue
			}
			if err := s.enqueue(ctx, &task); err != nil {
				s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to enqueue released task")
				continue
			}
			s.logger.Info().Str("task_id", task.ID).Msg("dependencies satisfied, task released")
		}
	}
}

// checkDependencies reports whether all of a task's dependencies have
// completed, and names the first permanently failed one if any.
func (s *Scheduler) checkDependencies(ctx context.Context, task *types.Task) (ready bool, deadDep string, err error) {
	for _, dep := range task.DependsOn {
		if _, err := s.store.GetHash(ctx, types.CompletedTaskKey(dep)); err == nil {
			continue
		} else if err != store.ErrNotFound {
			return false, "", err
		}

		// Records older than the sweep horizon live under the archive
		// key. Archived completions still satisfy the dependency;
		// archived failures are still dead.
		if record, err := s.store.GetHash(ctx, types.ArchivedTaskKey(dep)); err == nil {
			if record["status"] == "dead" {
				return false, dep, nil
			}
			continue
		} else if err != store.ErrNotFound {
			return false, "", err
		}

		status, err := s.store.GetHashField(ctx, types.FailureKey(dep), "status")
		if err == nil && status == "dead" {
			return false, dep, nil
		}
		if err != nil && err != store.ErrNotFound {
			return false, "", err
		}
		return false, "", nil
	}
	return true, "", nil
}

// failDependent fails a task because one of its dependencies died
func (s *Scheduler) failDependent(ctx context.Context, task *types.Task, dep string) {
	now := time.Now().UTC()
	task.Status = types.TaskStatusFailed
	task.Error = "dependency failed: " + dep

	fields := map[string]string{
		"task_id":   task.ID,
		"error":     task.Error,
		"failed_at": now.Format(time.RFC3339),
		"status":    "dead",
	}
	if err := s.store.SetHash(ctx, types.FailureKey(task.ID), fields, types.FailureRecordTTL); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to write failure record")
	}
	metrics.TasksFailed.Inc()

	if err := s.bus.PublishTaskUpdate(ctx, "scheduler", task.ID, types.TaskStatusFailed, map[string]interface{}{
		"error":      task.Error,
		"dependency": dep,
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish dependency failure")
	}
	s.logger.Warn().
		Str("task_id", task.ID).
		Str("dependency", dep).
		Msg("task failed due to dead dependency")
}
