package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// ErrAdmissionClosed is returned while the stop-new flag is set
var ErrAdmissionClosed = errors.New("new task admission is stopped")

// ErrTaskRunning is returned when an operation needs a task that is not
// currently executing
var ErrTaskRunning = errors.New("task is currently running")

// ErrTaskNotFound is returned when a task is in none of the queues
var ErrTaskNotFound = errors.New("task not found in any queue")

const defaultMaxRetries = 3

// Submit validates a task, fills defaults, and either enqueues it or
// parks it behind unmet dependencies.
func (s *Scheduler) Submit(ctx context.Context, task *types.Task) error {
	closed, err := s.store.Exists(ctx, types.SystemStopNewKey)
	if err != nil {
		return fmt.Errorf("failed to check admission flag: %w", err)
	}
	if closed {
		return ErrAdmissionClosed
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = types.TaskPriorityNormal
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = defaultMaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.Status = types.TaskStatusPending
	task.Attempts = 0

	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.SchedulingLatency.Observe(time.Since(start).Seconds())
	}()
	metrics.TasksSubmitted.Inc()

	if len(task.DependsOn) > 0 {
		ready, deadDep, err := s.checkDependencies(ctx, task)
		if err != nil {
			return fmt.Errorf("failed to check dependencies: %w", err)
		}
		if deadDep != "" {
			s.failDependent(ctx, task, deadDep)
			return nil
		}
		if !ready {
			return s.block(ctx, task)
		}
	}

	// A future scheduled_at parks the task in the delay queue; the
	// dispatch loop promotes it at the due time.
	if task.ScheduledAt.After(time.Now()) {
		return s.delay(ctx, task)
	}
	return s.enqueue(ctx, task)
}

// delay parks a task in the delayed set until its scheduled time
func (s *Scheduler) delay(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := s.store.ZAdd(ctx, types.DelayedTasksKey, float64(task.ScheduledAt.Unix()), string(data)); err != nil {
		return fmt.Errorf("failed to defer task: %w", err)
	}

	if err := s.bus.PublishTaskUpdate(ctx, "scheduler", task.ID, types.TaskStatusPending, map[string]interface{}{
		"scheduled_at": task.ScheduledAt,
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish delay update")
	}
	s.logger.Info().
		Str("task_id", task.ID).
		Time("scheduled_at", task.ScheduledAt).
		Msg("task deferred until its scheduled time")
	return nil
}

// SubmitBatch validates the dependency graph of a batch and submits each
// task. Cycles among batch members are rejected up front.
func (s *Scheduler) SubmitBatch(ctx context.Context, tasks []*types.Task) error {
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
	}
	if err := detectCycles(tasks); err != nil {
		return err
	}
	for _, task := range tasks {
		if err := s.Submit(ctx, task); err != nil {
			return fmt.Errorf("failed to submit task %s: %w", task.ID, err)
		}
	}
	return nil
}

// detectCycles runs a three-color DFS over the dependency edges that stay
// within the batch. External dependencies cannot form a cycle here.
func detectCycles(tasks []*types.Task) error {
	deps := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		deps[task.ID] = task.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			if _, inBatch := deps[dep]; !inBatch {
				continue
			}
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle involving tasks %s and %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, task := range tasks {
		if color[task.ID] == white {
			if err := visit(task.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// block parks a task behind its unmet dependencies
func (s *Scheduler) block(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := s.store.ZAdd(ctx, BlockedTasksKey, float64(time.Now().Unix()), string(data)); err != nil {
		return fmt.Errorf("failed to park blocked task: %w", err)
	}

	if err := s.bus.PublishTaskUpdate(ctx, "scheduler", task.ID, types.TaskStatusPending, map[string]interface{}{
		"blocked_on": task.DependsOn,
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish blocked update")
	}
	s.logger.Info().
		Str("task_id", task.ID).
		Strs("depends_on", task.DependsOn).
		Msg("task blocked on dependencies")
	return nil
}

// enqueue pushes a task into its priority lane and announces it
func (s *Scheduler) enqueue(ctx context.Context, task *types.Task) error {
	task.Status = types.TaskStatusPending
	task.ScheduledAt = time.Now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	lane := task.Priority.Queue()
	if err := s.store.LPush(ctx, types.QueueKey(lane), string(data)); err != nil {
		return fmt.Errorf("failed to push task to %s lane: %w", lane, err)
	}

	if err := s.bus.PublishTaskUpdate(ctx, "scheduler", task.ID, types.TaskStatusPending, map[string]interface{}{
		"queue":    string(lane),
		"priority": string(task.Priority),
		"type":     string(task.Type),
	}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish enqueue update")
	}
	return nil
}

// Cancel removes a pending task from whichever queue holds it. Running
// tasks cannot be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	if _, err := s.store.GetHash(ctx, types.ActiveTaskKey(taskID)); err == nil {
		return ErrTaskRunning
	} else if err != store.ErrNotFound {
		return fmt.Errorf("failed to check active record: %w", err)
	}

	task, err := s.takeFromQueues(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = types.TaskStatusCancelled
	if err := s.bus.PublishTaskUpdate(ctx, "scheduler", taskID, types.TaskStatusCancelled, nil); err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish cancellation")
	}
	s.logger.Info().Str("task_id", taskID).Msg("task cancelled")
	return nil
}

// Reassign moves a pending task to a different model profile and requeues
// it at its original priority.
func (s *Scheduler) Reassign(ctx context.Context, taskID, workerType string) error {
	task, err := s.takeFromQueues(ctx, taskID)
	if err != nil {
		return err
	}

	task.WorkerType = workerType
	task.AssignedWorker = ""
	if err := s.enqueue(ctx, task); err != nil {
		return err
	}
	s.logger.Info().
		Str("task_id", taskID).
		Str("worker_type", workerType).
		Msg("task reassigned")
	return nil
}

// takeFromQueues removes a task from the lanes, the delayed set, or the
// blocked set, returning the parsed task.
func (s *Scheduler) takeFromQueues(ctx context.Context, taskID string) (*types.Task, error) {
	for _, lane := range []types.QueueName{types.QueueHighPriority, types.QueueNormal, types.QueueBackground} {
		task, err := s.removeFromLane(ctx, lane, taskID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
	}

	for _, key := range []string{types.DelayedTasksKey, BlockedTasksKey} {
		task, err := s.removeFromSet(ctx, key, taskID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
	}
	return nil, ErrTaskNotFound
}

// removeFromLane rewrites a lane without the named task
func (s *Scheduler) removeFromLane(ctx context.Context, lane types.QueueName, taskID string) (*types.Task, error) {
	key := types.QueueKey(lane)
	entries, err := s.store.LRange(ctx, key, 0, -1)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s lane: %w", lane, err)
	}

	var found *types.Task
	kept := make([]string, 0, len(entries))
	for _, entry := range entries {
		var task types.Task
		if err := json.Unmarshal([]byte(entry), &task); err == nil && task.ID == taskID {
			found = &task
			continue
		}
		kept = append(kept, entry)
	}
	if found == nil {
		return nil, nil
	}

	if err := s.store.Delete(ctx, key); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to rewrite %s lane: %w", lane, err)
	}
	// LRange returns head first; pushing in reverse restores the order
	for i := len(kept) - 1; i >= 0; i-- {
		if err := s.store.LPush(ctx, key, kept[i]); err != nil {
			return nil, fmt.Errorf("failed to rewrite %s lane: %w", lane, err)
		}
	}
	return found, nil
}

// removeFromSet removes the named task from a scored set
func (s *Scheduler) removeFromSet(ctx context.Context, key, taskID string) (*types.Task, error) {
	entries, err := s.store.ZRangeByScore(ctx, key, 0, float64(time.Now().Add(365*24*time.Hour).Unix()))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	for _, entry := range entries {
		var task types.Task
		if err := json.Unmarshal([]byte(entry), &task); err != nil || task.ID != taskID {
			continue
		}
		if err := s.store.ZRemove(ctx, key, entry); err != nil {
			return nil, fmt.Errorf("failed to remove from %s: %w", key, err)
		}
		return &task, nil
	}
	return nil, nil
}
