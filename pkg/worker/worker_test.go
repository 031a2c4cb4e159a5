package worker

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

func newTestRuntime(t *testing.T, profile Profile) (*Runtime, store.Store) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New(st, config.BusConfig{Retention: time.Hour, CompressionMinSize: 1024})
	w := New(st, b, config.WorkerConfig{
		ID:                "w-test",
		Profile:           "gpt-4",
		Concurrency:       1,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      10 * time.Millisecond,
	})
	w.profile = profile
	w.caps = capabilitiesForProfile(profile)
	w.stepDelay = 0
	w.rng = rand.New(rand.NewSource(42))
	return w, st
}

func testTask(id string) *types.Task {
	return &types.Task{
		ID:         id,
		Type:       types.TaskTypeTextProcessing,
		Priority:   types.TaskPriorityNormal,
		Status:     types.TaskStatusPending,
		Complexity: 3,
		MaxRetries: 3,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestPlanTaskScalesWithComplexity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := Profile{Name: "test", SpeedMultiplier: 1.0, TokenRateMin: 10, TokenRateMax: 20}

	for complexity := 1; complexity <= 10; complexity++ {
		pl := planTask(complexity, p, rng)
		assert.GreaterOrEqual(t, pl.steps, 5, "step floor")
		assert.LessOrEqual(t, pl.steps, complexity*15)
		assert.Len(t, pl.stepTokens, pl.steps)
		for _, tok := range pl.stepTokens {
			assert.GreaterOrEqual(t, tok, 10)
			assert.LessOrEqual(t, tok, 20)
		}
	}
}

func TestPlanTaskFastProfileFewerSteps(t *testing.T) {
	slow := Profile{SpeedMultiplier: 1.0, TokenRateMin: 1, TokenRateMax: 1}
	fast := Profile{SpeedMultiplier: 2.5, TokenRateMin: 1, TokenRateMax: 1}

	slowSteps, fastSteps := 0, 0
	for i := int64(0); i < 20; i++ {
		slowSteps += planTask(8, slow, rand.New(rand.NewSource(i))).steps
		fastSteps += planTask(8, fast, rand.New(rand.NewSource(i))).steps
	}
	assert.Greater(t, slowSteps, fastSteps)
}

func TestPlanTaskAlwaysFailsAtRateOne(t *testing.T) {
	p := Profile{SpeedMultiplier: 1.0, TokenRateMin: 1, TokenRateMax: 1, FailureRate: 1.0}
	pl := planTask(3, p, rand.New(rand.NewSource(7)))
	require.Greater(t, pl.failAt, 0)
	assert.LessOrEqual(t, pl.failAt, pl.steps)
	assert.NotEmpty(t, pl.failCause)
}

func TestLookupProfileFallback(t *testing.T) {
	p := LookupProfile("no-such-model")
	assert.Equal(t, "gpt-4", p.Name)

	p = LookupProfile("claude-3-haiku")
	assert.Equal(t, "claude-3-haiku", p.Name)
}

func TestRecommendProfileCoversComplexity(t *testing.T) {
	p := RecommendProfile(10)
	assert.GreaterOrEqual(t, p.MaxComplexity, 10)

	cheap := RecommendProfile(2)
	assert.GreaterOrEqual(t, cheap.MaxComplexity, 2)
	assert.LessOrEqual(t, cheap.CostPer1KTokens, p.CostPer1KTokens)
}

func TestThrottleDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), throttleDelay(1.0))
	assert.Equal(t, time.Duration(0), throttleDelay(1.5))
	assert.Equal(t, time.Second, throttleDelay(0.5))
	assert.InDelta(t, float64(1800*time.Millisecond), float64(throttleDelay(0.05)), float64(time.Millisecond), "rate clamps at 0.1")
}

func TestCapabilitiesForProfile(t *testing.T) {
	big := capabilitiesForProfile(profiles["gpt-4"])
	assert.Len(t, big, 7)

	small := capabilitiesForProfile(profiles["claude-3-haiku"])
	assert.NotContains(t, small, types.TaskTypeCodeGeneration)
	assert.Contains(t, small, types.TaskTypeTextProcessing)
}

func TestQualityScoreDegradesAboveEnvelope(t *testing.T) {
	p := Profile{MaxComplexity: 4}
	rng := rand.New(rand.NewSource(3))

	within := qualityScore(3, p, rng)
	assert.GreaterOrEqual(t, within, 0.7)
	assert.LessOrEqual(t, within, 1.0)

	over := qualityScore(10, p, rand.New(rand.NewSource(3)))
	assert.Less(t, over, within)
	assert.GreaterOrEqual(t, over, 0.1)
}

func TestExecuteCompletesTask(t *testing.T) {
	w, st := newTestRuntime(t, Profile{
		Name: "test", SpeedMultiplier: 5.0,
		TokenRateMin: 10, TokenRateMax: 10,
		CostPer1KTokens: 0.01, MaxComplexity: 10,
	})
	ctx := context.Background()
	task := testTask("t-ok")

	w.execute(ctx, task)

	record, err := st.GetHash(ctx, types.CompletedTaskKey("t-ok"))
	require.NoError(t, err)
	assert.Equal(t, "completed", record["status"])
	assert.Equal(t, "w-test", record["worker_id"])

	var result types.TaskResult
	require.NoError(t, json.Unmarshal([]byte(record["result"]), &result))
	assert.Equal(t, "t-ok", result.TaskID)
	assert.Greater(t, result.TokensProcessed, 0)
	assert.Greater(t, result.CostUSD, 0.0)

	_, err = st.GetHash(ctx, types.ActiveTaskKey("t-ok"))
	assert.ErrorIs(t, err, store.ErrNotFound, "active record cleaned up")

	w.mu.RLock()
	defer w.mu.RUnlock()
	assert.Equal(t, 1, w.tasksDone)
}

func TestExecuteAnnouncesAssignmentBeforeRunning(t *testing.T) {
	st := store.NewMemory()
	b := bus.New(st, config.BusConfig{Retention: time.Hour, CompressionMinSize: 1024})
	w := New(st, b, config.WorkerConfig{
		ID: "w-test", Profile: "gpt-4", Concurrency: 1,
		HeartbeatInterval: 10 * time.Second, PollInterval: 10 * time.Millisecond,
	})
	w.profile = Profile{
		Name: "test", SpeedMultiplier: 5.0,
		TokenRateMin: 10, TokenRateMax: 10,
		CostPer1KTokens: 0.01, MaxComplexity: 10,
	}
	w.caps = capabilitiesForProfile(w.profile)
	w.stepDelay = 0
	w.rng = rand.New(rand.NewSource(42))
	ctx := context.Background()

	w.execute(ctx, testTask("t-claim"))

	events, err := b.Recent(ctx, bus.ChannelTasks, 100)
	require.NoError(t, err)

	// Recent returns newest first; walk oldest to newest
	var statuses []string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Data["task_id"] == "t-claim" {
			statuses = append(statuses, events[i].Data["status"].(string))
		}
	}
	require.NotEmpty(t, statuses)
	assert.Equal(t, string(types.TaskStatusAssigned), statuses[0], "claim announced first")
	require.Greater(t, len(statuses), 1)
	assert.Equal(t, string(types.TaskStatusRunning), statuses[1])
	assert.Equal(t, string(types.TaskStatusCompleted), statuses[len(statuses)-1])
}

func TestExecuteFailureSchedulesRetry(t *testing.T) {
	w, st := newTestRuntime(t, Profile{
		Name: "flaky", SpeedMultiplier: 5.0,
		TokenRateMin: 1, TokenRateMax: 1,
		FailureRate: 1.0, MaxComplexity: 10,
	})
	ctx := context.Background()
	task := testTask("t-retry")

	w.execute(ctx, task)

	// Failure record written
	failure, err := st.GetHash(ctx, types.FailureKey("t-retry"))
	require.NoError(t, err)
	assert.Equal(t, "1", failure["retry_count"])
	assert.NotEmpty(t, failure["error"])

	// Retry parked in the delayed set with a future due time
	entries, err := st.ZRangeByScore(ctx, types.DelayedTasksKey, 0, math.MaxFloat64)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var retried types.Task
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &retried))
	assert.Equal(t, types.TaskStatusRetry, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
	assert.Empty(t, retried.AssignedWorker)

	// Nothing before the backoff elapses
	due, err := st.ZRangeByScore(ctx, types.DelayedTasksKey, 0, float64(time.Now().Add(30*time.Second).Unix()))
	require.NoError(t, err)
	assert.Empty(t, due, "first backoff is 60s")
}

func TestExecuteExhaustedRetriesGoToDLQ(t *testing.T) {
	w, st := newTestRuntime(t, Profile{
		Name: "flaky", SpeedMultiplier: 5.0,
		TokenRateMin: 1, TokenRateMax: 1,
		FailureRate: 1.0, MaxComplexity: 10,
	})
	ctx := context.Background()
	task := testTask("t-dead")
	task.MaxRetries = 2
	task.Attempts = 2 // this attempt is the last

	w.execute(ctx, task)

	n, err := st.ZCard(ctx, types.DeadLetterQueueKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := st.ZRangeByScore(ctx, types.DeadLetterQueueKey, 0, math.MaxFloat64)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var failure types.TaskFailure
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &failure))
	assert.Equal(t, "t-dead", failure.TaskID)
	assert.Equal(t, "dead", failure.Status)
	assert.Equal(t, 3, failure.RetryCount)
	require.NotNil(t, failure.Task, "DLQ entry carries the full task snapshot")
	assert.Equal(t, types.TaskStatusFailed, failure.Task.Status)

	delayed, err := st.ZCard(ctx, types.DelayedTasksKey)
	require.NoError(t, err)
	assert.Zero(t, delayed, "no retry after exhaustion")
}

func TestExecuteTimeoutFailsTask(t *testing.T) {
	w, st := newTestRuntime(t, Profile{
		Name: "slow", SpeedMultiplier: 0.5,
		TokenRateMin: 1, TokenRateMax: 1, MaxComplexity: 10,
	})
	// complexity 10 at 0.5x speed is at least 160 steps; 10ms per step
	// guarantees the 1s deadline fires first
	w.stepDelay = 10 * time.Millisecond
	ctx := context.Background()

	task := testTask("t-slow")
	task.Complexity = 10
	task.MaxRetries = 0
	task.TimeoutSeconds = 1

	w.execute(ctx, task)

	assert.Equal(t, types.TaskStatusFailed, task.Status)
	failure, err := st.GetHash(ctx, types.FailureKey("t-slow"))
	require.NoError(t, err)
	assert.Contains(t, failure["error"], "timeout")
}

func TestNextTaskPrefersHighPriorityLane(t *testing.T) {
	w, st := newTestRuntime(t, profiles["gpt-4"])
	ctx := context.Background()

	normal := testTask("t-normal")
	urgent := testTask("t-urgent")
	urgent.Priority = types.TaskPriorityHigh

	for _, task := range []*types.Task{normal, urgent} {
		data, err := json.Marshal(task)
		require.NoError(t, err)
		require.NoError(t, st.LPush(ctx, types.QueueKey(task.Priority.Queue()), string(data)))
	}

	got, err := w.nextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t-urgent", got.ID)

	got, err = w.nextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t-normal", got.ID)

	got, err = w.nextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "lanes drained")
}

func TestNextTaskReturnsIncapableTaskToLane(t *testing.T) {
	w, st := newTestRuntime(t, profiles["claude-3-haiku"]) // no code_generation
	ctx := context.Background()

	task := testTask("t-code")
	task.Type = types.TaskTypeCodeGeneration
	data, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, st.LPush(ctx, types.QueueKey(types.QueueNormal), string(data)))

	got, err := w.nextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := st.LLen(ctx, types.QueueKey(types.QueueNormal))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "task stays in the lane for a capable worker")
}

func TestRegisterWritesWorkerRecord(t *testing.T) {
	w, st := newTestRuntime(t, profiles["gpt-4"])
	ctx := context.Background()

	require.NoError(t, w.register(ctx))

	record, err := st.GetHash(ctx, types.WorkerKey("w-test"))
	require.NoError(t, err)
	assert.Equal(t, "w-test", record["id"])
	assert.Equal(t, "gpt-4", record["type"])
	assert.Equal(t, "idle", record["status"])
	assert.NotEmpty(t, record["last_heartbeat"])
}

func TestFleetPauseFlag(t *testing.T) {
	w, st := newTestRuntime(t, profiles["gpt-4"])
	ctx := context.Background()

	assert.False(t, w.fleetPaused(ctx))

	require.NoError(t, st.Set(ctx, types.SystemPausedKey, "1", types.PauseTTL))
	assert.True(t, w.fleetPaused(ctx))

	require.NoError(t, st.Delete(ctx, types.SystemPausedKey))
	assert.False(t, w.fleetPaused(ctx))
}

func TestThrottleRateDefaultsToFullSpeed(t *testing.T) {
	w, st := newTestRuntime(t, profiles["gpt-4"])
	ctx := context.Background()

	assert.Equal(t, 1.0, w.throttleRate(ctx))

	require.NoError(t, st.Set(ctx, types.SystemThrottleKey, "0.25", 0))
	assert.Equal(t, 0.25, w.throttleRate(ctx))

	require.NoError(t, st.Set(ctx, types.SystemThrottleKey, "garbage", 0))
	assert.Equal(t, 1.0, w.throttleRate(ctx))
}

func TestStartStopLifecycle(t *testing.T) {
	w, st := newTestRuntime(t, Profile{
		Name: "test", SpeedMultiplier: 5.0,
		TokenRateMin: 1, TokenRateMax: 1, MaxComplexity: 10,
	})
	ctx := context.Background()

	task := testTask("t-live")
	data, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, st.LPush(ctx, types.QueueKey(types.QueueNormal), string(data)))

	w.Start()

	require.Eventually(t, func() bool {
		_, err := st.GetHash(ctx, types.CompletedTaskKey("t-live"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "queued task completes")

	w.Stop()

	_, err = st.GetHash(ctx, types.WorkerKey("w-test"))
	assert.ErrorIs(t, err, store.ErrNotFound, "worker record removed on stop")
}
