/*
Package metrics provides Prometheus metrics collection and exposition for Drover.

The metrics package defines and registers all Drover metrics using the
Prometheus client library, runs the periodic host/fleet sampler, and carries
the process-level health checker behind the /health and /ready endpoints.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │         Prometheus Collectors               │          │
	│  │  - Package-level vars, registered in init() │          │
	│  │  - Tasks: submitted/completed/failed/retried│          │
	│  │  - Queues: depth per lane, DLQ size         │          │
	│  │  - Bus: published per channel, failures     │          │
	│  │  - Stream: connections, sent, dropped       │          │
	│  │  - API: request counts and latency          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Collector                      │          │
	│  │  60s loop: gopsutil CPU/mem/disk sample    │          │
	│  │  + fleet counts from the state store        │          │
	│  │  → metrics_history zset (7d window)         │          │
	│  │  → metrics_data event on the bus            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Health Checker                    │          │
	│  │  Components report healthy/unhealthy;       │          │
	│  │  readiness gates on store, bus, scheduler   │          │
	│  └────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────┘

# Metric Naming

All metrics use the drover_ prefix:

	drover_tasks_total{status}              gauge
	drover_tasks_submitted_total            counter
	drover_tasks_completed_total            counter
	drover_tasks_failed_total               counter
	drover_tasks_retried_total              counter
	drover_queue_depth{queue}               gauge
	drover_dead_letter_queue_size           gauge
	drover_scheduling_latency_seconds       histogram
	drover_events_published_total{channel}  counter
	drover_event_publish_failures_total     counter
	drover_events_aggregated_total{strategy} counter
	drover_stream_connections{transport}    gauge
	drover_stream_events_sent_total{transport} counter
	drover_stream_events_dropped_total      counter
	drover_workers_active                   gauge
	drover_worker_steps_total               counter
	drover_api_requests_total{method,status} counter
	drover_api_request_duration_seconds{method} histogram

# Usage

Incrementing counters:

	metrics.TasksSubmitted.Inc()
	metrics.EventsPublished.WithLabelValues("tasks").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	dispatch(task)
	timer.ObserveDuration(metrics.SchedulingLatency)

Running the sampler:

	collector := metrics.NewCollector(st, eventBus, 60*time.Second)
	collector.Start()
	defer collector.Stop()

Reporting component health:

	metrics.RegisterComponent("store", true, "connected")
	metrics.UpdateComponent("bus", false, "publish failures rising")

# Exposition

Handler() returns the promhttp handler; the API server mounts it at /metrics.
HealthHandler and ReadyHandler back /health and /ready with the component
registry: health is the AND of every registered component, readiness is the
AND of the critical set (store, bus, scheduler).

# See Also

  - pkg/health for threshold-based alerting on the sampled values
  - pkg/api for the endpoints that expose these collectors
*/
package metrics
