package types

import "time"

// Store key conventions shared by the dispatcher, workers, and sweeps.
// Keeping them here means every component names the same records.
const (
	DelayedTasksKey     = "delayed_tasks"
	DeadLetterQueueKey  = "dead_letter_queue"
	SystemPausedKey     = "system_paused"
	SystemThrottleKey   = "system_throttle_rate"
	SystemStopNewKey    = "system_stop_new"
	SystemHeartbeatKey  = "system_heartbeat"
	SystemHealthKey     = "system_health"
)

// Record TTLs
const (
	ActiveTaskTTL       = 2 * time.Hour
	CompletedTaskTTL    = 24 * time.Hour
	FailureRecordTTL    = 24 * time.Hour
	ArchivedRecordTTL   = 7 * 24 * time.Hour
	PermanentFailureTTL = 7 * 24 * time.Hour
	OrchestrationTTL    = 24 * time.Hour
	PauseTTL            = time.Hour
	WorkerRecordTTL     = 30 * time.Second
	SystemHealthTTL     = 5 * time.Minute
)

func QueueKey(q QueueName) string         { return "task_queue:" + string(q) }
func ActiveTaskKey(id string) string      { return "active_tasks:" + id }
func CompletedTaskKey(id string) string   { return "completed_tasks:" + id }
func FailureKey(id string) string         { return "task_failures:" + id }
func ArchivedTaskKey(id string) string    { return "archived_tasks:" + id }
func PermanentFailureKey(id string) string { return "permanent_failures:" + id }
func OrchestrationKey(id string) string   { return "orchestrations:" + id }
func WorkerKey(id string) string          { return "workers:" + id }
func WorkerPausedKey(id string) string    { return "worker_paused:" + id }
