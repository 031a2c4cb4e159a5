package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/droverhq/drover/pkg/health"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/scheduler"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	status, err := s.scheduler.Status(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{
		"paused":        status.Paused,
		"stop_new":      status.StopNew,
		"throttle_rate": status.ThrottleRate,
		"queues":        status.Statistics,
	}
	if stamp, err := health.Heartbeat(ctx, s.store); err == nil {
		resp["last_heartbeat"] = stamp
	}
	if record, err := s.store.GetHash(ctx, types.SystemHealthKey); err == nil && len(record) > 0 {
		resp["health"] = record
	}
	writeJSON(w, http.StatusOK, resp)
}

// systemMetrics returns a fresh sample plus recent history. The window
// query parameter takes a duration like "1h"; default 15 minutes.
func (s *Server) systemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	window := 15 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > metrics.HistoryWindow {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}

	current := s.collector.Sample(ctx)

	var history []*types.SystemMetrics
	since := float64(time.Now().Add(-window).Unix())
	entries, err := s.store.ZRangeByScore(ctx, metrics.HistoryKey, since, float64(time.Now().Unix()))
	if err == nil {
		for _, raw := range entries {
			var snap types.SystemMetrics
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				history = append(history, &snap)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"current": current,
		"history": history,
	})
}

func (s *Server) pauseAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.PauseAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	affected := 0
	if keys, err := s.store.Keys(ctx, "active_tasks:*"); err == nil {
		affected = len(keys)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "paused",
		"active_tasks_affected": affected,
	})
}

func (s *Server) resumeAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.ResumeAll(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) stopNew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stop bool `json:"stop"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.StopNew(ctx, req.Stop); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stop_new": req.Stop})
}

func (s *Server) setThrottle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.SetThrottle(ctx, req.Rate); err != nil {
		if errors.Is(err, scheduler.ErrInvalidThrottle) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"throttle_rate": req.Rate})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	workers, err := s.scheduler.ListWorkers(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(workers),
		"agents": workers,
	})
}

func (s *Server) pauseAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.PauseWorker(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no live worker "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "paused"})
}

func (s *Server) resumeAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.scheduler.ResumeWorker(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "resumed"})
}

// touchAgent refreshes a worker's liveness record. Workers normally
// heartbeat on their own; this lets an external supervisor keep a
// record alive across a worker restart.
func (s *Server) touchAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := requestContext(r)
	defer cancel()

	record, err := s.store.GetHash(ctx, types.WorkerKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no live worker "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	record["last_heartbeat"] = time.Now().UTC().Format(time.RFC3339)
	if err := s.store.SetHash(ctx, types.WorkerKey(id), record, types.WorkerRecordTTL); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id":       id,
		"last_heartbeat": record["last_heartbeat"],
	})
}

func (s *Server) streamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.streams.Stats())
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Targets []string `json:"targets,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if err := s.bus.PublishBroadcast(ctx, "api", req.Message, req.Targets); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "broadcast",
		"targets": len(req.Targets),
	})
}

// parseLimit is shared by list endpoints that take ?limit=
func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return def
}
