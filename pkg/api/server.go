package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/scheduler"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/stream"
)

// Server exposes the control plane over HTTP: task admission and
// control, fleet operations, the live event stream, and the usual
// health and metrics endpoints.
type Server struct {
	cfg       config.ServerConfig
	store     store.Store
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	streams   *stream.Manager
	collector *metrics.Collector
	logger    zerolog.Logger

	// admission limiter covers the write paths that create tasks
	limiter *rate.Limiter

	http *http.Server
}

// NewServer wires the HTTP layer over the given components
func NewServer(cfg config.ServerConfig, st store.Store, b *bus.Bus, sched *scheduler.Scheduler, streams *stream.Manager, collector *metrics.Collector) *Server {
	perSecond := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	burst := cfg.RateLimitPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	s := &Server{
		cfg:       cfg,
		store:     st,
		bus:       b,
		scheduler: sched,
		streams:   streams,
		collector: collector,
		logger:    log.WithComponent("api"),
		limiter:   rate.NewLimiter(perSecond, burst),
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the request mux. Streaming endpoints are registered
// without the instrumentation wrapper: the recorder would hide the
// Flusher and Hijacker interfaces they need.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Task lifecycle
	mux.HandleFunc("POST /api/v1/tasks", s.instrument(s.rateLimited(s.submitTask)))
	mux.HandleFunc("GET /api/v1/tasks", s.instrument(s.listTasks))
	mux.HandleFunc("POST /api/v1/tasks/batch", s.instrument(s.rateLimited(s.submitBatch)))
	mux.HandleFunc("POST /api/v1/tasks/orchestrate", s.instrument(s.rateLimited(s.orchestrate)))
	mux.HandleFunc("GET /api/v1/tasks/statistics", s.instrument(s.taskStatistics))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.instrument(s.getTask))
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.instrument(s.cancelTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.instrument(s.cancelTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/reassign", s.instrument(s.reassignTask))
	mux.HandleFunc("GET /api/v1/orchestrations/{id}", s.instrument(s.getOrchestration))

	// Fleet
	mux.HandleFunc("GET /api/v1/agents", s.instrument(s.listAgents))
	mux.HandleFunc("POST /api/v1/agents/{id}/pause", s.instrument(s.pauseAgent))
	mux.HandleFunc("POST /api/v1/agents/{id}/resume", s.instrument(s.resumeAgent))
	mux.HandleFunc("POST /api/v1/agents/{id}/heartbeat", s.instrument(s.touchAgent))

	// System controls
	mux.HandleFunc("GET /api/v1/system/status", s.instrument(s.systemStatus))
	mux.HandleFunc("GET /api/v1/system/metrics", s.instrument(s.systemMetrics))
	mux.HandleFunc("POST /api/v1/system/pause-all", s.instrument(s.pauseAll))
	mux.HandleFunc("POST /api/v1/system/run", s.instrument(s.resumeAll))
	mux.HandleFunc("POST /api/v1/system/stop-new", s.instrument(s.stopNew))
	mux.HandleFunc("POST /api/v1/system/throttle", s.instrument(s.setThrottle))
	mux.HandleFunc("GET /api/v1/system/dlq", s.instrument(s.listDeadLetters))
	mux.HandleFunc("POST /api/v1/system/dlq/{id}/requeue", s.instrument(s.requeueDeadLetter))

	// Live streams (no instrumentation wrapper, see above)
	mux.HandleFunc("GET /api/v1/stream", s.streams.SSEHandler())
	mux.HandleFunc("GET /api/v1/websocket", s.streams.WebSocketHandler())
	mux.HandleFunc("GET /api/v1/stream/stats", s.instrument(s.streamStats))
	mux.HandleFunc("POST /api/v1/stream/broadcast", s.instrument(s.broadcast))

	// Operational endpoints
	mux.HandleFunc("GET /health", metrics.HealthHandler())
	mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// Start begins serving. Blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	return s.http.Shutdown(ctx)
}

// statusRecorder captures the response code for instrumentation
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request counting and latency
// observation
func (s *Server) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()

		next(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(r.Method))
	}
}

// rateLimited rejects admission requests beyond the configured rate
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "admission rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeJSON reads a bounded request body into v
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// requestContext bounds handler work independently of the client
// connection lifetime
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 15*time.Second)
}
