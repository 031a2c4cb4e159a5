package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// dlqWindow is how far back the reprocessor considers parked entries.
// Older entries are recorded as permanent failures and dropped.
const dlqWindow = 24 * time.Hour

// Parked entries that failed transiently and burned few retries get
// another chance; entries past this count never do.
const (
	dlqRequeueMaxRetries  = 3
	dlqPermanentThreshold = 5
)

// transientKeywords marks failure causes worth retrying from the DLQ
var transientKeywords = []string{
	"timeout", "connection", "network", "rate limit",
	"overload", "busy", "unavailable",
}

// IsTransient reports whether a failure cause looks retryable
func IsTransient(cause string) bool {
	lower := strings.ToLower(cause)
	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// reprocessDLQ gives transiently failed tasks another chance and
// finalizes the hopeless ones.
func (s *Scheduler) reprocessDLQ(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-dlqWindow)

	// Age out entries older than the window first
	expired, err := s.store.ZRangeByScore(ctx, types.DeadLetterQueueKey, 0, float64(cutoff.Unix()))
	if err != nil && err != store.ErrNotFound {
		s.logger.Warn().Err(err).Msg("failed to read expired DLQ entries")
		return
	}
	for _, entry := range expired {
		s.finalizeDLQEntry(ctx, entry, "aged out of dead letter window")
	}

	entries, err := s.store.ZRangeByScore(ctx, types.DeadLetterQueueKey, float64(cutoff.Unix()), float64(now.Unix()))
	if err != nil {
		if err != store.ErrNotFound {
			s.logger.Warn().Err(err).Msg("failed to read dead letter queue")
		}
		return
	}

	for _, entry := range entries {
		var failure types.TaskFailure
		if err := json.Unmarshal([]byte(entry), &failure); err != nil {
			s.logger.Error().Err(err).Msg("dropping malformed DLQ entry")
			_ = s.store.ZRemove(ctx, types.DeadLetterQueueKey, entry)
			continue
		}

		switch {
		case failure.RetryCount > dlqPermanentThreshold:
			s.finalizeDLQEntry(ctx, entry, "retry budget exhausted")

		case IsTransient(failure.Error) && failure.RetryCount <= dlqRequeueMaxRetries && failure.Task != nil:
			if err := s.store.ZRemove(ctx, types.DeadLetterQueueKey, entry); err != nil {
				continue
			}
			task := failure.Task
			task.Priority = demote(task.Priority)
			task.Error = ""
			task.MaxRetries = task.Attempts + 1 // one more attempt
			if err := s.enqueue(ctx, task); err != nil {
				s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to requeue DLQ task")
				continue
			}
			s.logger.Info().
				Str("task_id", task.ID).
				Str("cause", failure.Error).
				Str("priority", string(task.Priority)).
				Msg("transient DLQ failure requeued at reduced priority")
		}
	}
}

// finalizeDLQEntry converts a parked entry into a permanent failure record
func (s *Scheduler) finalizeDLQEntry(ctx context.Context, entry, reason string) {
	if err := s.store.ZRemove(ctx, types.DeadLetterQueueKey, entry); err != nil {
		return
	}

	var failure types.TaskFailure
	if err := json.Unmarshal([]byte(entry), &failure); err != nil {
		return
	}

	fields := map[string]string{
		"task_id":     failure.TaskID,
		"error":       failure.Error,
		"retry_count": strconv.Itoa(failure.RetryCount),
		"failed_at":   failure.FailedAt.Format(time.RFC3339),
		"reason":      reason,
	}
	if err := s.store.SetHash(ctx, types.PermanentFailureKey(failure.TaskID), fields, types.PermanentFailureTTL); err != nil {
		s.logger.Warn().Err(err).Str("task_id", failure.TaskID).Msg("failed to write permanent failure")
		return
	}
	s.logger.Warn().
		Str("task_id", failure.TaskID).
		Str("reason", reason).
		Msg("DLQ entry finalized as permanent failure")
}

// demote lowers a task's priority one band
func demote(p types.TaskPriority) types.TaskPriority {
	switch p {
	case types.TaskPriorityCritical:
		return types.TaskPriorityHigh
	case types.TaskPriorityHigh:
		return types.TaskPriorityNormal
	default:
		return types.TaskPriorityLow
	}
}

// ListDeadLetters returns up to limit parked failures, oldest first
func (s *Scheduler) ListDeadLetters(ctx context.Context, limit int) ([]types.TaskFailure, error) {
	entries, err := s.store.ZRangeByScore(ctx, types.DeadLetterQueueKey, 0, float64(time.Now().Unix()))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	failures := make([]types.TaskFailure, 0, len(entries))
	for _, entry := range entries {
		if limit > 0 && len(failures) >= limit {
			break
		}
		var failure types.TaskFailure
		if err := json.Unmarshal([]byte(entry), &failure); err != nil {
			continue
		}
		failures = append(failures, failure)
	}
	return failures, nil
}

// RequeueDeadLetter manually gives a parked task another attempt at its
// original priority, regardless of transience.
func (s *Scheduler) RequeueDeadLetter(ctx context.Context, taskID string) error {
	entries, err := s.store.ZRangeByScore(ctx, types.DeadLetterQueueKey, 0, float64(time.Now().Unix()))
	if err != nil {
		if err == store.ErrNotFound {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	for _, entry := range entries {
		var failure types.TaskFailure
		if err := json.Unmarshal([]byte(entry), &failure); err != nil || failure.TaskID != taskID {
			continue
		}
		if failure.Task == nil {
			return fmt.Errorf("DLQ entry for %s carries no task snapshot", taskID)
		}
		if err := s.store.ZRemove(ctx, types.DeadLetterQueueKey, entry); err != nil {
			return fmt.Errorf("failed to remove DLQ entry: %w", err)
		}
		task := failure.Task
		task.Error = ""
		task.MaxRetries = task.Attempts + 1
		if err := s.enqueue(ctx, task); err != nil {
			return err
		}
		s.logger.Info().Str("task_id", taskID).Msg("DLQ task manually requeued")
		return nil
	}
	return ErrTaskNotFound
}
