package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/scheduler"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/stream"
	"github.com/droverhq/drover/pkg/types"
)

func newTestServer(t *testing.T) (*Server, store.Store, *bus.Bus) {
	t.Helper()

	st := store.NewMemory()
	b := bus.New(st, config.BusConfig{Retention: time.Hour, CompressionMinSize: 1024})
	sched := scheduler.New(st, b)
	streams := stream.NewManager(b, config.StreamConfig{
		HeartbeatInterval: 30 * time.Second,
		MaxConnections:    10,
		ReplayCount:       5,
	})
	collector := metrics.NewCollector(st, nil, time.Minute)

	cfg := config.ServerConfig{
		ListenAddr:         ":0",
		RateLimitPerMinute: 6000,
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
	return NewServer(cfg, st, b, sched, streams, collector), st, b
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitTaskCreates(t *testing.T) {
	s, st, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		Type:       types.TaskTypeTextProcessing,
		Complexity: 3,
		Priority:   types.TaskPriorityHigh,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var task types.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, types.TaskStatusPending, task.Status)

	n, err := st.LLen(context.Background(), types.QueueKey(types.QueueHighPriority))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitTaskRejectsInvalid(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		Type:       types.TaskTypeTextProcessing,
		Complexity: 42,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "complexity")
}

func TestSubmitTaskWhileAdmissionStopped(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/system/stop-new", map[string]bool{"stop": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		Type:       types.TaskTypeTextProcessing,
		Complexity: 2,
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitRateLimited(t *testing.T) {
	s, _, _ := newTestServer(t)
	// One token, refilled far too slowly for this test to see
	s.limiter.SetLimit(0.001)
	s.limiter.SetBurst(1)

	task := &types.Task{Type: types.TaskTypeTextProcessing, Complexity: 1}
	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", task)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/tasks", task)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSubmitBatchDetectsCycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	batch := []*types.Task{
		{ID: "a", Type: types.TaskTypeTextProcessing, Complexity: 1, DependsOn: []string{"b"}},
		{ID: "b", Type: types.TaskTypeTextProcessing, Complexity: 1, DependsOn: []string{"a"}},
	}
	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks/batch", batch)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "cycle")
}

func TestListTasksShowsLanes(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		Type:       types.TaskTypeTextProcessing,
		Complexity: 1,
		Priority:   types.TaskPriorityHigh,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Queued  map[string][]*types.Task `json:"queued"`
		Delayed []*types.Task            `json:"delayed"`
		Blocked []*types.Task            `json:"blocked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Queued["high_priority"], 1)
	assert.Empty(t, body.Queued["normal"])
	assert.Empty(t, body.Delayed)
	assert.Empty(t, body.Blocked)
}

func TestGetTaskReportsCompletion(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	result := types.TaskResult{TaskID: "t-1", Status: "completed", TokensProcessed: 512}
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, st.SetHash(ctx, types.CompletedTaskKey("t-1"), map[string]string{
		"task_id": "t-1",
		"result":  string(data),
		"status":  "completed",
	}, time.Hour))

	w := doJSON(t, s, http.MethodGet, "/api/v1/tasks/t-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "completed", body["state"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/tasks/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelTask(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		ID:         "cancel-me",
		Type:       types.TaskTypeTextProcessing,
		Complexity: 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/tasks/cancel-me", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/tasks/cancel-me/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRunningTaskConflicts(t *testing.T) {
	s, st, _ := newTestServer(t)

	require.NoError(t, st.SetHash(context.Background(), types.ActiveTaskKey("busy"), map[string]string{
		"task_id": "busy", "status": "running",
	}, time.Hour))

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks/busy/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReassignTask(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks", &types.Task{
		ID:         "move-me",
		Type:       types.TaskTypeTextProcessing,
		Complexity: 1,
		WorkerType: "gpt-4",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/tasks/move-me/reassign", map[string]string{
		"agent_id": "claude-3-opus",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "claude-3-opus", body["agent_id"])

	w = doJSON(t, s, http.MethodPost, "/api/v1/tasks/move-me/reassign", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrchestrateEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	var batch []*types.Task
	for i := 0; i < 3; i++ {
		batch = append(batch, &types.Task{
			Type:       types.TaskTypeTextProcessing,
			Complexity: 2,
		})
	}
	w := doJSON(t, s, http.MethodPost, "/api/v1/tasks/orchestrate", batch)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var orch types.Orchestration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orch))
	require.NotEmpty(t, orch.ID)
	assert.Len(t, orch.TaskIDs, 3)

	w = doJSON(t, s, http.MethodGet, "/api/v1/orchestrations/"+orch.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/orchestrations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemStatusEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, false, body["paused"])
	assert.Equal(t, false, body["stop_new"])
	assert.Equal(t, 1.0, body["throttle_rate"])
}

func TestPauseAndResumeAll(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.SetHash(ctx, types.ActiveTaskKey("busy-1"), map[string]string{
		"task_id": "busy-1",
	}, time.Hour))

	w := doJSON(t, s, http.MethodPost, "/api/v1/system/pause-all", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decodeBody(t, w)["active_tasks_affected"])
	paused, err := st.Exists(ctx, types.SystemPausedKey)
	require.NoError(t, err)
	assert.True(t, paused)

	w = doJSON(t, s, http.MethodPost, "/api/v1/system/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	paused, err = st.Exists(ctx, types.SystemPausedKey)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestThrottleEndpointValidatesRange(t *testing.T) {
	s, st, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/system/throttle", map[string]float64{"rate": 5.0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/system/throttle", map[string]float64{"rate": 0.5})
	require.Equal(t, http.StatusOK, w.Code)

	raw, err := st.Get(context.Background(), types.SystemThrottleKey)
	require.NoError(t, err)
	rate, err := strconv.ParseFloat(raw, 64)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rate)
}

func TestAgentEndpoints(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	w := doJSON(t, s, http.MethodPost, "/api/v1/agents/ghost/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, st.SetHash(ctx, types.WorkerKey("w-1"), map[string]string{
		"id": "w-1", "type": "gpt-4", "status": "idle",
	}, time.Minute))

	w = doJSON(t, s, http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decodeBody(t, w)["count"])

	w = doJSON(t, s, http.MethodPost, "/api/v1/agents/w-1/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	flagged, err := st.Exists(ctx, types.WorkerPausedKey("w-1"))
	require.NoError(t, err)
	assert.True(t, flagged)

	w = doJSON(t, s, http.MethodPost, "/api/v1/agents/w-1/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	flagged, err = st.Exists(ctx, types.WorkerPausedKey("w-1"))
	require.NoError(t, err)
	assert.False(t, flagged)

	w = doJSON(t, s, http.MethodPost, "/api/v1/agents/w-1/heartbeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	record, err := st.GetHash(ctx, types.WorkerKey("w-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, record["last_heartbeat"])

	w = doJSON(t, s, http.MethodPost, "/api/v1/agents/ghost/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	failure := types.TaskFailure{
		TaskID:     "dead-1",
		Error:      "connection timeout to model endpoint",
		RetryCount: 2,
		FailedAt:   time.Now().UTC(),
		Status:     "dead",
		Task: &types.Task{
			ID:         "dead-1",
			Type:       types.TaskTypeTextProcessing,
			Complexity: 1,
			Priority:   types.TaskPriorityNormal,
		},
	}
	data, err := json.Marshal(failure)
	require.NoError(t, err)
	require.NoError(t, st.ZAdd(ctx, types.DeadLetterQueueKey, float64(time.Now().Unix()), string(data)))

	w := doJSON(t, s, http.MethodGet, "/api/v1/system/dlq?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decodeBody(t, w)["count"])

	w = doJSON(t, s, http.MethodPost, "/api/v1/system/dlq/dead-1/requeue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	n, err := st.LLen(ctx, types.QueueKey(types.QueueNormal))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	w = doJSON(t, s, http.MethodPost, "/api/v1/system/dlq/dead-1/requeue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBroadcastEndpoint(t *testing.T) {
	s, _, b := newTestServer(t)
	ctx := context.Background()

	streamSub, err := b.Subscribe(ctx, "broadcast")
	require.NoError(t, err)
	defer streamSub.Close()

	w := doJSON(t, s, http.MethodPost, "/api/v1/stream/broadcast", map[string]any{
		"message": "maintenance window at midnight",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case evt := <-streamSub.Events():
		assert.Equal(t, "maintenance window at midnight", evt.Data["message"])
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the bus")
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/stream/broadcast", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/system/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "current")

	w = doJSON(t, s, http.MethodGet, "/api/v1/system/metrics?window=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamStatsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/stream/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, decodeBody(t, w)["connections"])
}

func TestOperationalEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "drover_")

	w = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
