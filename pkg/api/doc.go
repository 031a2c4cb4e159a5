/*
Package api exposes the Drover control plane over HTTP.

# Architecture

	                      ┌──────────── Server ────────────┐
	  POST /tasks ──────▶ │ rate limit ─▶ scheduler.Submit │
	  POST /orchestrate ▶ │ rate limit ─▶ Orchestrate      │
	  GET  /stream ─────▶ │ stream.Manager (SSE)           │
	  GET  /websocket ──▶ │ stream.Manager (WebSocket)     │
	  /system/* ────────▶ │ scheduler controls             │
	  /agents/* ────────▶ │ fleet records + pause flags    │
	  /health /ready ───▶ │ component health registry      │
	  /metrics ─────────▶ │ Prometheus registry            │
	                      └────────────────────────────────┘

Routing uses method-qualified patterns on the standard mux; handlers
return JSON envelopes and map component errors onto HTTP status codes
(admission closed → 503, running task → 409, unknown task → 404,
invalid input → 400).

# Admission rate limiting

Task-creating endpoints share one token bucket sized from the
configured per-minute rate with a burst of one tenth of it. Reads,
controls, and the live streams are never limited; a flooded dashboard
should still be able to pause the fleet.

# Instrumentation

Every handler except the two streaming endpoints is wrapped with a
request counter and a latency histogram. The streams stay unwrapped
because the recorder would mask the Flusher and Hijacker interfaces
SSE flushing and the WebSocket upgrade depend on.

# Endpoints

	POST /api/v1/tasks                       submit one task
	GET  /api/v1/tasks                       queued, delayed, and blocked tasks
	POST /api/v1/tasks/batch                 submit a dependency-aware batch
	POST /api/v1/tasks/orchestrate           wave-staggered batch admission
	GET  /api/v1/tasks/statistics            queue and fleet counters
	GET  /api/v1/tasks/{id}                  running / completed / failed record
	DELETE /api/v1/tasks/{id}                remove a queued task (alias: POST .../cancel)
	POST /api/v1/tasks/{id}/reassign         retarget a queued task
	GET  /api/v1/orchestrations/{id}         orchestration record
	GET  /api/v1/agents                      live worker fleet
	POST /api/v1/agents/{id}/pause           pause one worker
	POST /api/v1/agents/{id}/resume          resume one worker
	POST /api/v1/agents/{id}/heartbeat       refresh a worker's liveness record
	GET  /api/v1/system/status               control flags + queue statistics
	GET  /api/v1/system/metrics?window=15m   fresh sample + history
	POST /api/v1/system/pause-all            pause the whole fleet
	POST /api/v1/system/run                  resume the fleet
	POST /api/v1/system/stop-new             toggle admission
	POST /api/v1/system/throttle             set the rate multiplier [0.1, 2.0]
	GET  /api/v1/system/dlq                  dead letter entries
	POST /api/v1/system/dlq/{id}/requeue     manual dead letter requeue
	GET  /api/v1/stream                      SSE event stream
	GET  /api/v1/websocket                   WebSocket event stream
	POST /api/v1/stream/broadcast            operator broadcast
	GET  /api/v1/stream/stats                fan-out connection stats
	GET  /health, /ready, /metrics           operational endpoints
*/
package api
