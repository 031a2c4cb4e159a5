package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// Records older than this move from the hot keys to the archive
const archiveAfter = 24 * time.Hour

// Active records older than this with no completion are presumed
// orphaned. Half the record TTL, so the sweep sees them before the
// store expires the evidence.
const staleActiveAfter = types.ActiveTaskTTL / 2

// sweep archives old completion and failure records, fails stale active
// tasks whose worker vanished, and trims the shared history indexes.
func (s *Scheduler) sweep(ctx context.Context) {
	s.archiveRecords(ctx, "completed_tasks:", "completed_at")
	s.archiveRecords(ctx, "task_failures:", "failed_at")
	s.failStaleActive(ctx)

	if err := s.bus.TrimTimeline(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to trim event timeline")
	}
	cutoff := time.Now().Add(-metrics.HistoryWindow).Unix()
	if err := s.store.ZRemoveByScore(ctx, metrics.HistoryKey, 0, float64(cutoff)); err != nil && err != store.ErrNotFound {
		s.logger.Warn().Err(err).Msg("failed to trim metrics history")
	}
}

// archiveRecords moves records older than the archive threshold under the
// archived prefix with the long retention.
func (s *Scheduler) archiveRecords(ctx context.Context, prefix, tsField string) {
	keys, err := s.store.Keys(ctx, prefix+"*")
	if err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("failed to list records for archival")
		return
	}
	cutoff := time.Now().Add(-archiveAfter)

	for _, key := range keys {
		record, err := s.store.GetHash(ctx, key)
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, record[tsField])
		if err != nil || ts.After(cutoff) {
			continue
		}

		id := strings.TrimPrefix(key, prefix)
		if err := s.store.SetHash(ctx, types.ArchivedTaskKey(id), record, types.ArchivedRecordTTL); err != nil {
			s.logger.Warn().Err(err).Str("task_id", id).Msg("failed to archive record")
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil && err != store.ErrNotFound {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to remove archived record")
		}
	}
}

// failStaleActive fails active records that have run far past any sane
// duration. This catches workers that died without requeueing.
func (s *Scheduler) failStaleActive(ctx context.Context) {
	keys, err := s.store.Keys(ctx, "active_tasks:*")
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list active tasks")
		return
	}
	cutoff := time.Now().Add(-staleActiveAfter)

	for _, key := range keys {
		record, err := s.store.GetHash(ctx, key)
		if err != nil {
			continue
		}
		started, err := time.Parse(time.RFC3339, record["started_at"])
		if err != nil || started.After(cutoff) {
			continue
		}

		taskID := record["task_id"]
		fields := map[string]string{
			"task_id":   taskID,
			"error":     "worker timeout: no completion before active TTL",
			"failed_at": time.Now().UTC().Format(time.RFC3339),
			"status":    "dead",
			"worker_id": record["worker_id"],
		}
		if err := s.store.SetHash(ctx, types.FailureKey(taskID), fields, types.FailureRecordTTL); err != nil {
			s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to record stale task failure")
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil && err != store.ErrNotFound {
			continue
		}
		metrics.TasksFailed.Inc()

		if err := s.bus.PublishTaskUpdate(ctx, "scheduler", taskID, types.TaskStatusFailed, map[string]interface{}{
			"error": "worker timeout",
		}); err != nil {
			s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish stale task failure")
		}
		s.logger.Warn().
			Str("task_id", taskID).
			Str("worker_id", record["worker_id"]).
			Msg("stale active task failed")
	}
}
