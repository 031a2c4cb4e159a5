package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// retryBackoffBase is the first retry delay; it doubles per attempt
const retryBackoffBase = 60 * time.Second

// pauseCheckInterval is how often a paused worker rechecks the fleet flag
const pauseCheckInterval = 500 * time.Millisecond

// Runtime executes tasks pulled from the dispatch lanes, simulating an AI
// inference backend according to its model profile.
type Runtime struct {
	id      string
	profile Profile
	caps    []types.TaskType
	store   store.Store
	bus     *bus.Bus
	cfg     config.WorkerConfig
	logger  zerolog.Logger

	// stepDelay is the base latency per simulation step
	stepDelay time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	mu          sync.RWMutex
	current     map[string]*types.Task
	tasksDone   int
	tasksFailed int
	startedAt   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a worker runtime for the configured model profile
func New(st store.Store, b *bus.Bus, cfg config.WorkerConfig) *Runtime {
	id := cfg.ID
	if id == "" {
		id = "worker-" + uuid.New().String()[:8]
	}
	profile := LookupProfile(cfg.Profile)
	return &Runtime{
		id:        id,
		profile:   profile,
		caps:      capabilitiesForProfile(profile),
		store:     st,
		bus:       b,
		cfg:       cfg,
		logger:    log.WithWorkerID(id),
		stepDelay: 500 * time.Millisecond,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		current:   make(map[string]*types.Task),
		startedAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
	}
}

// ID returns the worker's identifier
func (w *Runtime) ID() string {
	return w.id
}

// Start registers the worker and launches the heartbeat and pull loops
func (w *Runtime) Start() {
	w.logger.Info().
		Str("profile", w.profile.Name).
		Int("concurrency", w.cfg.Concurrency).
		Msg("worker starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.register(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("failed to register worker record")
	}
	cancel()

	w.wg.Add(1)
	go w.heartbeatLoop()

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.pullLoop()
	}
}

// Stop drains the loops and reports the worker offline
func (w *Runtime) Stop() {
	close(w.stopCh)
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.Delete(ctx, types.WorkerKey(w.id)); err != nil && err != store.ErrNotFound {
		w.logger.Warn().Err(err).Msg("failed to remove worker record")
	}
	if err := w.bus.PublishAgentStatus(ctx, w.id, types.WorkerStatusOffline, nil); err != nil {
		w.logger.Warn().Err(err).Msg("failed to publish offline status")
	}
	w.logger.Info().Msg("worker stopped")
}

// heartbeatLoop refreshes the worker record and publishes liveness
func (w *Runtime) heartbeatLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.register(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("heartbeat failed")
			}
			cancel()
		case <-w.stopCh:
			return
		}
	}
}

// register writes the worker record (its TTL doubles as the liveness
// window) and publishes an agent status event with current load.
func (w *Runtime) register(ctx context.Context) error {
	w.mu.RLock()
	status := types.WorkerStatusIdle
	currentTask := ""
	for id := range w.current {
		status = types.WorkerStatusWorking
		currentTask = id
		break
	}
	done, failed := w.tasksDone, w.tasksFailed
	w.mu.RUnlock()

	cpuPct, memPct := hostLoad()

	fields := map[string]string{
		"id":             w.id,
		"type":           w.profile.Name,
		"status":         string(status),
		"current_task":   currentTask,
		"tasks_done":     strconv.Itoa(done),
		"tasks_failed":   strconv.Itoa(failed),
		"cpu_percent":    strconv.FormatFloat(cpuPct, 'f', 1, 64),
		"memory_percent": strconv.FormatFloat(memPct, 'f', 1, 64),
		"last_heartbeat": time.Now().UTC().Format(time.RFC3339),
		"started_at":     w.startedAt.Format(time.RFC3339),
	}
	if err := w.store.SetHash(ctx, types.WorkerKey(w.id), fields, types.WorkerRecordTTL); err != nil {
		return fmt.Errorf("failed to write worker record: %w", err)
	}

	return w.bus.PublishAgentStatus(ctx, w.id, status, map[string]interface{}{
		"worker_type":    w.profile.Name,
		"current_task":   currentTask,
		"tasks_done":     done,
		"tasks_failed":   failed,
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
	})
}

// pullLoop polls the dispatch lanes and executes tasks
func (w *Runtime) pullLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			if w.fleetPaused(ctx) {
				continue
			}
			task, err := w.nextTask(ctx)
			if err != nil {
				w.logger.Warn().Err(err).Msg("failed to pull task")
				continue
			}
			if task == nil {
				continue
			}
			w.execute(ctx, task)
		case <-w.stopCh:
			return
		}
	}
}

// nextTask pops the highest-priority lane holding a task this worker can
// handle. Tasks outside the capability set go back to the lane.
func (w *Runtime) nextTask(ctx context.Context) (*types.Task, error) {
	for _, lane := range []types.QueueName{types.QueueHighPriority, types.QueueNormal, types.QueueBackground} {
		payload, err := w.store.RPop(ctx, types.QueueKey(lane))
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to pop %s lane: %w", lane, err)
		}

		var task types.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			w.logger.Error().Err(err).Str("queue", string(lane)).Msg("dropping malformed task payload")
			continue
		}

		if !w.canHandle(task.Type) {
			// Not ours; return it to the lane for a capable worker
			if err := w.store.LPush(ctx, types.QueueKey(lane), payload); err != nil {
				w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to return task to queue")
			}
			continue
		}
		return &task, nil
	}
	return nil, nil
}

func (w *Runtime) canHandle(t types.TaskType) bool {
	for _, c := range w.caps {
		if c == t {
			return true
		}
	}
	return false
}

// execute runs the simulated step loop for one task
func (w *Runtime) execute(ctx context.Context, task *types.Task) {
	logger := w.logger.With().Str("task_id", task.ID).Logger()

	task.AssignedWorker = w.id
	task.Status = types.TaskStatusAssigned
	task.StartedAt = time.Now().UTC()

	w.mu.Lock()
	w.current[task.ID] = task
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.current, task.ID)
		w.mu.Unlock()
	}()

	// The task is claimed before it runs: record and announce the
	// assignment, then flip to running.
	if err := w.writeActiveRecord(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("failed to write active task record")
	}
	w.publishTaskUpdate(ctx, task.ID, types.TaskStatusAssigned, map[string]interface{}{
		"agent_id":    w.id,
		"worker_type": w.profile.Name,
	})

	task.Status = types.TaskStatusRunning
	if err := w.writeActiveRecord(ctx, task); err != nil {
		logger.Warn().Err(err).Msg("failed to write active task record")
	}
	w.publishTaskUpdate(ctx, task.ID, types.TaskStatusRunning, map[string]interface{}{
		"agent_id":    w.id,
		"worker_type": w.profile.Name,
	})

	w.rngMu.Lock()
	pl := planTask(task.Complexity, w.profile, w.rng)
	w.rngMu.Unlock()

	var deadline time.Time
	if task.TimeoutSeconds > 0 {
		deadline = task.StartedAt.Add(time.Duration(task.TimeoutSeconds) * time.Second)
	}

	logger.Info().Int("steps", pl.steps).Int("complexity", task.Complexity).Msg("task started")

	tokens := 0
	for step := 1; step <= pl.steps; step++ {
		select {
		case <-w.stopCh:
			// Shutting down mid-task: return it to the head of its lane
			// so another worker picks it up.
			w.requeue(task)
			return
		default:
		}

		if !w.waitWhilePaused(ctx, task) {
			w.requeue(task)
			return
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			w.fail(ctx, task, fmt.Sprintf("task timeout exceeded after %ds", task.TimeoutSeconds))
			return
		}

		time.Sleep(w.stepDelay + throttleDelay(w.throttleRate(ctx)))

		if pl.failAt == step {
			w.fail(ctx, task, pl.failCause)
			return
		}

		tokens += pl.stepTokens[step-1]
		metrics.WorkerStepsProcessed.Inc()

		progress := step * 100 / pl.steps
		w.rngMu.Lock()
		msg := statusMessage(progress, w.rng)
		w.rngMu.Unlock()

		w.publishTaskUpdate(ctx, task.ID, types.TaskStatusRunning, map[string]interface{}{
			"agent_id":         w.id,
			"progress":         progress,
			"status_message":   msg,
			"tokens_processed": tokens,
			"estimated_cost":   w.profile.cost(tokens),
		})
	}

	w.complete(ctx, task, pl.steps, tokens)
}

// waitWhilePaused blocks while the fleet pause flag is set. Returns false
// if the worker is stopping and the task should be requeued.
func (w *Runtime) waitWhilePaused(ctx context.Context, task *types.Task) bool {
	paused := false
	for w.fleetPaused(ctx) {
		if !paused {
			paused = true
			w.publishTaskUpdate(ctx, task.ID, types.TaskStatusPaused, map[string]interface{}{
				"agent_id": w.id,
			})
			w.logger.Info().Str("task_id", task.ID).Msg("task paused by fleet flag")
		}
		select {
		case <-w.stopCh:
			return false
		case <-time.After(pauseCheckInterval):
		}
	}
	if paused {
		w.publishTaskUpdate(ctx, task.ID, types.TaskStatusRunning, map[string]interface{}{
			"agent_id": w.id,
		})
		w.logger.Info().Str("task_id", task.ID).Msg("task resumed")
	}
	return true
}

// complete writes the result record and announces completion
func (w *Runtime) complete(ctx context.Context, task *types.Task, steps, tokens int) {
	task.Status = types.TaskStatusCompleted
	task.CompletedAt = time.Now().UTC()
	duration := task.CompletedAt.Sub(task.StartedAt).Seconds()
	if duration <= 0 {
		duration = 0.001
	}

	w.rngMu.Lock()
	quality := qualityScore(task.Complexity, w.profile, w.rng)
	w.rngMu.Unlock()

	result := types.TaskResult{
		TaskID:          task.ID,
		Status:          string(types.TaskStatusCompleted),
		WorkerID:        w.id,
		WorkerType:      w.profile.Name,
		Steps:           steps,
		TokensProcessed: tokens,
		TokensPerSecond: float64(tokens) / duration,
		CostUSD:         w.profile.cost(tokens),
		QualityScore:    quality,
		DurationSeconds: duration,
		CompletedAt:     task.CompletedAt,
	}

	if data, err := json.Marshal(result); err == nil {
		fields := map[string]string{
			"task_id":      task.ID,
			"result":       string(data),
			"worker_id":    w.id,
			"status":       string(types.TaskStatusCompleted),
			"completed_at": task.CompletedAt.Format(time.RFC3339),
		}
		if err := w.store.SetHash(ctx, types.CompletedTaskKey(task.ID), fields, types.CompletedTaskTTL); err != nil {
			w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to write completion record")
		}
	}
	if err := w.store.Delete(ctx, types.ActiveTaskKey(task.ID)); err != nil && err != store.ErrNotFound {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to remove active record")
	}

	w.mu.Lock()
	w.tasksDone++
	w.mu.Unlock()
	metrics.TasksCompleted.Inc()

	w.publishTaskUpdate(ctx, task.ID, types.TaskStatusCompleted, map[string]interface{}{
		"agent_id":          w.id,
		"tokens_processed":  tokens,
		"tokens_per_second": result.TokensPerSecond,
		"cost_usd":          result.CostUSD,
		"quality_score":     quality,
		"duration_seconds":  duration,
	})
	w.logger.Info().
		Str("task_id", task.ID).
		Int("tokens", tokens).
		Float64("quality", quality).
		Float64("duration_s", duration).
		Msg("task completed")
}

// fail records a failed attempt and either schedules a retry with
// exponential backoff or parks the task in the dead letter queue.
func (w *Runtime) fail(ctx context.Context, task *types.Task, cause string) {
	task.Attempts++
	task.Error = cause
	now := time.Now().UTC()
	willRetry := task.Attempts <= task.MaxRetries

	// The status field is how dependency gating tells a retryable
	// failure from a dead task.
	outcome := "dead"
	if willRetry {
		outcome = "retry"
	}
	fields := map[string]string{
		"task_id":     task.ID,
		"error":       cause,
		"retry_count": strconv.Itoa(task.Attempts),
		"failed_at":   now.Format(time.RFC3339),
		"worker_id":   w.id,
		"status":      outcome,
	}
	if err := w.store.SetHash(ctx, types.FailureKey(task.ID), fields, types.FailureRecordTTL); err != nil {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to write failure record")
	}
	if err := w.store.Delete(ctx, types.ActiveTaskKey(task.ID)); err != nil && err != store.ErrNotFound {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to remove active record")
	}

	w.mu.Lock()
	w.tasksFailed++
	w.mu.Unlock()

	if willRetry {
		backoff := retryBackoffBase * time.Duration(1<<(task.Attempts-1))
		task.Status = types.TaskStatusRetry
		task.AssignedWorker = ""
		if data, err := json.Marshal(task); err == nil {
			due := float64(now.Add(backoff).Unix())
			if err := w.store.ZAdd(ctx, types.DelayedTasksKey, due, string(data)); err != nil {
				w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to schedule retry")
			}
		}
		metrics.TasksRetried.Inc()
		w.publishTaskUpdate(ctx, task.ID, types.TaskStatusRetry, map[string]interface{}{
			"agent_id":        w.id,
			"error":           cause,
			"attempt":         task.Attempts,
			"max_retries":     task.MaxRetries,
			"backoff_seconds": backoff.Seconds(),
		})
		w.logger.Warn().
			Str("task_id", task.ID).
			Str("cause", cause).
			Int("attempt", task.Attempts).
			Dur("backoff", backoff).
			Msg("task failed, retry scheduled")
		return
	}

	// Retries exhausted: park a full snapshot in the DLQ
	task.Status = types.TaskStatusFailed
	failure := types.TaskFailure{
		TaskID:     task.ID,
		Error:      cause,
		RetryCount: task.Attempts,
		FailedAt:   now,
		Status:     "dead",
		Task:       task,
	}
	if data, err := json.Marshal(failure); err == nil {
		if err := w.store.ZAdd(ctx, types.DeadLetterQueueKey, float64(now.Unix()), string(data)); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to park task in DLQ")
		}
	}
	metrics.TasksFailed.Inc()
	w.publishTaskUpdate(ctx, task.ID, types.TaskStatusFailed, map[string]interface{}{
		"agent_id": w.id,
		"error":    cause,
		"attempts": task.Attempts,
	})
	w.logger.Error().
		Str("task_id", task.ID).
		Str("cause", cause).
		Int("attempts", task.Attempts).
		Msg("task failed permanently, parked in DLQ")
}

// requeue returns an interrupted task to the head of its lane
func (w *Runtime) requeue(task *types.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task.Status = types.TaskStatusPending
	task.AssignedWorker = ""
	if err := w.store.Delete(ctx, types.ActiveTaskKey(task.ID)); err != nil && err != store.ErrNotFound {
		w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to remove active record")
	}
	if data, err := json.Marshal(task); err == nil {
		if err := w.store.LPush(ctx, types.QueueKey(task.Priority.Queue()), string(data)); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to requeue task on shutdown")
		}
	}
}

func (w *Runtime) writeActiveRecord(ctx context.Context, task *types.Task) error {
	fields := map[string]string{
		"task_id":     task.ID,
		"agent_type":  task.WorkerType,
		"description": task.Description,
		"complexity":  strconv.Itoa(task.Complexity),
		"priority":    string(task.Priority),
		"status":      string(task.Status),
		"started_at":  task.StartedAt.Format(time.RFC3339),
		"worker_id":   w.id,
	}
	return w.store.SetHash(ctx, types.ActiveTaskKey(task.ID), fields, types.ActiveTaskTTL)
}

// publishTaskUpdate publishes best-effort; a bus outage must not stall
// the step loop
func (w *Runtime) publishTaskUpdate(ctx context.Context, taskID string, status types.TaskStatus, data map[string]interface{}) {
	if err := w.bus.PublishTaskUpdate(ctx, w.id, taskID, status, data); err != nil {
		w.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish task update")
	}
}

// fleetPaused checks the cluster-wide pause flag and this worker's own
// pause key
func (w *Runtime) fleetPaused(ctx context.Context) bool {
	ok, err := w.store.Exists(ctx, types.SystemPausedKey)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to check pause flag")
		return false
	}
	if ok {
		return true
	}
	ok, err = w.store.Exists(ctx, types.WorkerPausedKey(w.id))
	if err != nil {
		return false
	}
	return ok
}

// throttleRate reads the fleet throttle multiplier (default 1.0)
func (w *Runtime) throttleRate(ctx context.Context) float64 {
	val, err := w.store.Get(ctx, types.SystemThrottleKey)
	if err != nil {
		return 1.0
	}
	rate, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 1.0
	}
	return rate
}

// hostLoad samples host CPU and memory utilization
func hostLoad() (cpuPct, memPct float64) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}
