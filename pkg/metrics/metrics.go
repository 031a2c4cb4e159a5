package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_tasks_total",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_submitted_total",
			Help: "Total number of tasks accepted for dispatch",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_failed_total",
			Help: "Total number of tasks that exhausted their retries",
		},
	)

	TasksRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_tasks_retried_total",
			Help: "Total number of retry attempts scheduled",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_queue_depth",
			Help: "Number of tasks waiting per dispatch lane",
		},
		[]string{"queue"},
	)

	DLQSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_dead_letter_queue_size",
			Help: "Number of task snapshots parked in the dead letter queue",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_scheduling_latency_seconds",
			Help:    "Time from task submission to dispatch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_events_published_total",
			Help: "Total number of events published by channel",
		},
		[]string{"channel"},
	)

	EventPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_event_publish_failures_total",
			Help: "Total number of events that failed to publish",
		},
	)

	EventsAggregated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_events_aggregated_total",
			Help: "Total number of events absorbed by aggregation, by strategy",
		},
		[]string{"strategy"},
	)

	// Fan-out metrics
	StreamConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_stream_connections",
			Help: "Active fan-out connections by transport",
		},
		[]string{"transport"},
	)

	StreamEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_stream_events_dropped_total",
			Help: "Events dropped at full client queues (drop-oldest)",
		},
	)

	StreamEventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_stream_events_sent_total",
			Help: "Events delivered to clients by transport",
		},
		[]string{"transport"},
	)

	// Worker metrics
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_workers_active",
			Help: "Number of workers with a live heartbeat",
		},
	)

	WorkerStepsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_worker_steps_total",
			Help: "Total simulation steps processed across all workers",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksByStatus)
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksRetried)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DLQSize)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventPublishFailures)
	prometheus.MustRegister(EventsAggregated)
	prometheus.MustRegister(StreamConnections)
	prometheus.MustRegister(StreamEventsDropped)
	prometheus.MustRegister(StreamEventsSent)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(WorkerStepsProcessed)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
