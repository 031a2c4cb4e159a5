package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/droverhq/drover/pkg/scheduler"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := decodeJSON(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "malformed task: "+err.Error())
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.Submit(ctx, &task); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrAdmissionClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, &task)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var tasks []*types.Task
	if err := decodeJSON(r, &tasks); err != nil {
		writeError(w, http.StatusBadRequest, "malformed batch: "+err.Error())
		return
	}
	if len(tasks) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.SubmitBatch(ctx, tasks); err != nil {
		if errors.Is(err, scheduler.ErrAdmissionClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"submitted": len(tasks),
		"tasks":     tasks,
	})
}

// listTasks returns everything waiting to run: the three lanes in
// dispatch order plus the delayed and blocked sets
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	queued := make(map[string][]*types.Task)
	for _, lane := range []types.QueueName{types.QueueHighPriority, types.QueueNormal, types.QueueBackground} {
		entries, err := s.store.LRange(ctx, types.QueueKey(lane), 0, -1)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		tasks := make([]*types.Task, 0, len(entries))
		for _, raw := range entries {
			var task types.Task
			if err := json.Unmarshal([]byte(raw), &task); err == nil {
				tasks = append(tasks, &task)
			}
		}
		queued[string(lane)] = tasks
	}

	horizon := float64(time.Now().AddDate(1, 0, 0).Unix())
	delayed := s.readTaskSet(ctx, types.DelayedTasksKey, horizon)
	blocked := s.readTaskSet(ctx, scheduler.BlockedTasksKey, horizon)

	writeJSON(w, http.StatusOK, map[string]any{
		"queued":  queued,
		"delayed": delayed,
		"blocked": blocked,
	})
}

func (s *Server) readTaskSet(ctx context.Context, key string, horizon float64) []*types.Task {
	tasks := []*types.Task{}
	entries, err := s.store.ZRangeByScore(ctx, key, 0, horizon)
	if err != nil {
		return tasks
	}
	for _, raw := range entries {
		var task types.Task
		if err := json.Unmarshal([]byte(raw), &task); err == nil {
			tasks = append(tasks, &task)
		}
	}
	return tasks
}

// getTask reports where a task currently is: running, completed, or
// failed. Tasks still sitting in a queue are not indexed by ID, so a
// miss here means pending-or-unknown.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	if record, err := s.store.GetHash(ctx, types.ActiveTaskKey(id)); err == nil && len(record) > 0 {
		state := record["status"]
		if state == "" {
			state = "running"
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state, "record": record})
		return
	}
	if record, err := s.store.GetHash(ctx, types.CompletedTaskKey(id)); err == nil && len(record) > 0 {
		var result types.TaskResult
		if err := json.Unmarshal([]byte(record["result"]), &result); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"state": "completed", "result": result})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": "completed", "record": record})
		return
	}
	if record, err := s.store.GetHash(ctx, types.FailureKey(id)); err == nil && len(record) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"state": "failed", "record": record})
		return
	}
	writeError(w, http.StatusNotFound, "no record for task "+id)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.Cancel(ctx, id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrTaskRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, scheduler.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "cancelled"})
}

func (s *Server) reassignTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.Reassign(ctx, id, req.AgentID); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id":  id,
		"agent_id": req.AgentID,
	})
}

func (s *Server) taskStatistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	stats, err := s.scheduler.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) orchestrate(w http.ResponseWriter, r *http.Request) {
	var tasks []*types.Task
	if err := decodeJSON(r, &tasks); err != nil {
		writeError(w, http.StatusBadRequest, "malformed task list: "+err.Error())
		return
	}
	if len(tasks) == 0 {
		writeError(w, http.StatusBadRequest, "empty task list")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	orch, err := s.scheduler.Orchestrate(ctx, tasks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, orch)
}

func (s *Server) getOrchestration(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	orch, err := s.scheduler.GetOrchestration(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "orchestration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orch)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	ctx, cancel := requestContext(r)
	defer cancel()

	entries, err := s.scheduler.ListDeadLetters(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.RequeueDeadLetter(ctx, id); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": "requeued"})
}
