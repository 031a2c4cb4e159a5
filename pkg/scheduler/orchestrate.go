package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
	"github.com/droverhq/drover/pkg/worker"
)

const (
	// defaultWaveSize is how many batch tasks enter the lanes at once
	defaultWaveSize = 10
	// waveStagger is the delay between successive waves
	waveStagger = 5 * time.Second

	// Load thresholds that halve the wave size
	orchestrateCPUThreshold    = 80.0
	orchestrateActiveThreshold = 50
)

// Orchestrate admits a batch of related tasks. The first wave enters the
// lanes immediately; later waves are staggered through the delayed set so
// a large batch cannot swamp the fleet. Under host or fleet load the wave
// size halves.
func (s *Scheduler) Orchestrate(ctx context.Context, tasks []*types.Task) (*types.Orchestration, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("orchestration requires at least one task")
	}
	if err := detectCycles(tasks); err != nil {
		return nil, err
	}

	orch := &types.Orchestration{
		ID:          uuid.New().String(),
		ScheduledAt: time.Now().UTC(),
	}

	wave := defaultWaveSize
	if s.overloaded(ctx) {
		wave = wave / 2
		s.logger.Warn().Int("wave_size", wave).Msg("fleet under load, halving orchestration waves")
	}
	orch.BatchSize = wave

	for i, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.New().String()
		}
		task.OrchestrationID = orch.ID
		task.BatchID = fmt.Sprintf("%s-wave-%d", orch.ID, i/wave)
		if task.WorkerType == "" {
			task.WorkerType = s.pickWorkerType(ctx, task.Complexity)
		}
		orch.TaskIDs = append(orch.TaskIDs, task.ID)

		waveIdx := i / wave
		if waveIdx == 0 || len(task.DependsOn) > 0 {
			// Dependency-gated tasks go through Submit so the blocked
			// set handles their release timing.
			if err := s.Submit(ctx, task); err != nil {
				return nil, fmt.Errorf("failed to admit orchestrated task %s: %w", task.ID, err)
			}
			continue
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
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("invalid task %s: %w", task.ID, err)
		}

		due := time.Now().Add(time.Duration(waveIdx) * waveStagger)
		data, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
		}
		if err := s.store.ZAdd(ctx, types.DelayedTasksKey, float64(due.Unix()), string(data)); err != nil {
			return nil, fmt.Errorf("failed to stage wave %d: %w", waveIdx, err)
		}
	}

	record, err := json.Marshal(orch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal orchestration: %w", err)
	}
	if err := s.store.Set(ctx, types.OrchestrationKey(orch.ID), string(record), types.OrchestrationTTL); err != nil {
		return nil, fmt.Errorf("failed to write orchestration record: %w", err)
	}

	s.logger.Info().
		Str("orchestration_id", orch.ID).
		Int("tasks", len(tasks)).
		Int("wave_size", wave).
		Msg("orchestration admitted")
	return orch, nil
}

// GetOrchestration loads an orchestration record
func (s *Scheduler) GetOrchestration(ctx context.Context, id string) (*types.Orchestration, error) {
	data, err := s.store.Get(ctx, types.OrchestrationKey(id))
	if err != nil {
		return nil, err
	}
	var orch types.Orchestration
	if err := json.Unmarshal([]byte(data), &orch); err != nil {
		return nil, fmt.Errorf("failed to parse orchestration record: %w", err)
	}
	return &orch, nil
}

// overloaded reports whether host CPU or fleet occupancy crosses the
// orchestration thresholds
func (s *Scheduler) overloaded(ctx context.Context) bool {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		if percents[0] > orchestrateCPUThreshold {
			return true
		}
	}
	active, err := s.store.Keys(ctx, "active_tasks:*")
	if err != nil {
		return false
	}
	return len(active) > orchestrateActiveThreshold
}

// pickWorkerType chooses a model profile for an untyped task: among live
// workers whose profile covers the complexity, the least-busy type wins.
// With no suitable live worker it falls back to the roster recommendation.
func (s *Scheduler) pickWorkerType(ctx context.Context, complexity int) string {
	workers, err := s.ListWorkers(ctx)
	if err != nil || len(workers) == 0 {
		return worker.RecommendProfile(complexity).Name
	}

	busy := make(map[string]int)
	total := make(map[string]int)
	for _, wk := range workers {
		p := worker.LookupProfile(wk.Type)
		if p.MaxComplexity < complexity {
			continue
		}
		total[wk.Type]++
		if wk.Status == types.WorkerStatusWorking {
			busy[wk.Type]++
		}
	}
	if len(total) == 0 {
		return worker.RecommendProfile(complexity).Name
	}

	names := make([]string, 0, len(total))
	for name := range total {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	bestLoad := 2.0
	for _, name := range names {
		load := float64(busy[name]) / float64(total[name])
		if load < bestLoad {
			bestLoad = load
			best = name
		}
	}
	return best
}

// ListWorkers returns the fleet view from the live worker records
func (s *Scheduler) ListWorkers(ctx context.Context) ([]types.Worker, error) {
	keys, err := s.store.Keys(ctx, "workers:*")
	if err != nil {
		return nil, fmt.Errorf("failed to list worker records: %w", err)
	}

	workers := make([]types.Worker, 0, len(keys))
	for _, key := range keys {
		record, err := s.store.GetHash(ctx, key)
		if err != nil {
			if err == store.ErrNotFound {
				continue // expired between Keys and GetHash
			}
			return nil, fmt.Errorf("failed to read worker record %s: %w", key, err)
		}
		workers = append(workers, workerFromRecord(record))
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}

func workerFromRecord(record map[string]string) types.Worker {
	w := types.Worker{
		ID:          record["id"],
		Type:        record["type"],
		Status:      types.WorkerStatus(record["status"]),
		CurrentTask: record["current_task"],
	}
	w.TasksDone, _ = strconv.Atoi(record["tasks_done"])
	w.TasksFailed, _ = strconv.Atoi(record["tasks_failed"])
	w.CPUPercent, _ = strconv.ParseFloat(record["cpu_percent"], 64)
	w.MemoryPercent, _ = strconv.ParseFloat(record["memory_percent"], 64)
	if t, err := time.Parse(time.RFC3339, record["last_heartbeat"]); err == nil {
		w.LastHeartbeat = t
	}
	if t, err := time.Parse(time.RFC3339, record["started_at"]); err == nil {
		w.StartedAt = t
	}
	return w
}

// Statistics is a point-in-time view of the queues and fleet
type Statistics struct {
	Queued       map[string]int64 `json:"queued"`
	QueuedTotal  int64            `json:"queued_total"`
	Delayed      int64            `json:"delayed"`
	Blocked      int64            `json:"blocked"`
	Active       int              `json:"active"`
	DeadLettered int64            `json:"dead_lettered"`
	Workers      int              `json:"workers"`
	IdleWorkers  int              `json:"idle_workers"`
}

// Stats gathers scheduler statistics from the store
func (s *Scheduler) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{Queued: make(map[string]int64)}

	for _, lane := range []types.QueueName{types.QueueHighPriority, types.QueueNormal, types.QueueBackground} {
		n, err := s.store.LLen(ctx, types.QueueKey(lane))
		if err != nil && err != store.ErrNotFound {
			return nil, fmt.Errorf("failed to measure %s lane: %w", lane, err)
		}
		stats.Queued[string(lane)] = n
		stats.QueuedTotal += n
	}

	var err error
	if stats.Delayed, err = s.store.ZCard(ctx, types.DelayedTasksKey); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to measure delayed set: %w", err)
	}
	if stats.Blocked, err = s.store.ZCard(ctx, BlockedTasksKey); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to measure blocked set: %w", err)
	}
	if stats.DeadLettered, err = s.store.ZCard(ctx, types.DeadLetterQueueKey); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("failed to measure dead letter queue: %w", err)
	}

	active, err := s.store.Keys(ctx, "active_tasks:*")
	if err != nil {
		return nil, fmt.Errorf("failed to count active tasks: %w", err)
	}
	stats.Active = len(active)

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	stats.Workers = len(workers)
	for _, wk := range workers {
		if wk.Status == types.WorkerStatusIdle {
			stats.IdleWorkers++
		}
	}
	return stats, nil
}
