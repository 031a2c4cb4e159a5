package types

import (
	"fmt"
	"time"
)

// Task represents a unit of inference work dispatched to a worker
type Task struct {
	ID              string            `json:"id"`
	Type            TaskType          `json:"type"`
	Description     string            `json:"description"`
	Priority        TaskPriority      `json:"priority"`
	Status          TaskStatus        `json:"status"`
	Complexity      int               `json:"complexity"`       // 1-10, drives step count and duration
	WorkerType      string            `json:"worker_type"`      // model profile name (e.g. "gpt-4", "claude-3-opus")
	PreferredWorker string            `json:"preferred_worker"` // advisory; balancer may override
	AssignedWorker  string            `json:"assigned_worker"`
	DependsOn       []string          `json:"depends_on,omitempty"`
	MaxRetries      int               `json:"max_retries"`
	Attempts        int               `json:"attempts"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	OrchestrationID string            `json:"orchestration_id,omitempty"`
	BatchID         string            `json:"batch_id,omitempty"`
	Error           string            `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ScheduledAt     time.Time         `json:"scheduled_at,omitempty"`
	StartedAt       time.Time         `json:"started_at,omitempty"`
	CompletedAt     time.Time         `json:"completed_at,omitempty"`
}

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRetry     TaskStatus = "retry"
)

// Terminal reports whether the status admits no further transitions
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// ValidTaskStatus reports whether s is a known task status
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning, TaskStatusPaused,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusRetry:
		return true
	}
	return false
}

// TaskPriority defines queue placement for a task
type TaskPriority string

const (
	TaskPriorityCritical TaskPriority = "critical"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityNormal   TaskPriority = "normal"
	TaskPriorityLow      TaskPriority = "low"
)

// ValidTaskPriority reports whether p is a known priority
func ValidTaskPriority(p TaskPriority) bool {
	switch p {
	case TaskPriorityCritical, TaskPriorityHigh, TaskPriorityNormal, TaskPriorityLow:
		return true
	}
	return false
}

// Queue maps a priority to its dispatch lane
func (p TaskPriority) Queue() QueueName {
	switch p {
	case TaskPriorityCritical, TaskPriorityHigh:
		return QueueHighPriority
	case TaskPriorityLow:
		return QueueBackground
	default:
		return QueueNormal
	}
}

// QueueName identifies a dispatch lane
type QueueName string

const (
	QueueHighPriority QueueName = "high_priority"
	QueueNormal       QueueName = "normal"
	QueueBackground   QueueName = "background"
)

// TaskType categorizes the kind of work a task performs
type TaskType string

const (
	TaskTypeTextProcessing TaskType = "text_processing"
	TaskTypeCodeGeneration TaskType = "code_generation"
	TaskTypeDataAnalysis   TaskType = "data_analysis"
	TaskTypeWebScraping    TaskType = "web_scraping"
	TaskTypeAPICall        TaskType = "api_call"
	TaskTypeFileProcessing TaskType = "file_processing"
	TaskTypeComputation    TaskType = "computation"
)

// ValidTaskType reports whether t is a known task type
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeTextProcessing, TaskTypeCodeGeneration, TaskTypeDataAnalysis,
		TaskTypeWebScraping, TaskTypeAPICall, TaskTypeFileProcessing, TaskTypeComputation:
		return true
	}
	return false
}

// Validate checks the task's fields against the submission rules
func (t *Task) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if !ValidTaskType(t.Type) {
		return fmt.Errorf("unknown task type: %s", t.Type)
	}
	if t.Priority != "" && !ValidTaskPriority(t.Priority) {
		return fmt.Errorf("unknown task priority: %s", t.Priority)
	}
	if t.Complexity < 1 || t.Complexity > 10 {
		return fmt.Errorf("complexity must be between 1 and 10, got %d", t.Complexity)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", t.MaxRetries)
	}
	if t.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be non-negative, got %d", t.TimeoutSeconds)
	}
	for _, dep := range t.DependsOn {
		if dep == t.ID {
			return fmt.Errorf("task cannot depend on itself")
		}
	}
	return nil
}

// TaskResult carries the outcome of a completed task
type TaskResult struct {
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	WorkerID        string    `json:"worker_id"`
	WorkerType      string    `json:"worker_type"`
	Steps           int       `json:"steps"`
	TokensProcessed int       `json:"tokens_processed"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	CostUSD         float64   `json:"cost_usd"`
	QualityScore    float64   `json:"quality_score"`
	DurationSeconds float64   `json:"duration_seconds"`
	CompletedAt     time.Time `json:"completed_at"`
}

// TaskFailure records a failed attempt for retry accounting and the DLQ
type TaskFailure struct {
	TaskID     string    `json:"task_id"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
	Status     string    `json:"status"`
	Task       *Task     `json:"task_data,omitempty"`
}

// WorkerStatus represents the state a worker reports for itself
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
	WorkerStatusPaused  WorkerStatus = "paused"
	WorkerStatusError   WorkerStatus = "error"
	WorkerStatusOffline WorkerStatus = "offline"
)

// Worker describes a registered worker and its last reported state
type Worker struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"` // model profile name
	Status        WorkerStatus `json:"status"`
	Capabilities  []TaskType   `json:"capabilities"`
	CurrentTask   string       `json:"current_task,omitempty"`
	TasksDone     int          `json:"tasks_done"`
	TasksFailed   int          `json:"tasks_failed"`
	CPUPercent    float64      `json:"cpu_percent"`
	MemoryPercent float64      `json:"memory_percent"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	StartedAt     time.Time    `json:"started_at"`
}

// CanHandle reports whether the worker's capabilities include the task type
func (w *Worker) CanHandle(t TaskType) bool {
	if len(w.Capabilities) == 0 {
		return true
	}
	for _, c := range w.Capabilities {
		if c == t {
			return true
		}
	}
	return false
}

// Orchestration groups a batch of tasks submitted together
type Orchestration struct {
	ID          string    `json:"id"`
	TaskIDs     []string  `json:"task_ids"`
	BatchSize   int       `json:"batch_size"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SystemMetrics is a point-in-time snapshot of host and fleet load
type SystemMetrics struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	ActiveTasks    int       `json:"active_tasks"`
	QueuedTasks    int       `json:"queued_tasks"`
	ActiveWorkers  int       `json:"active_workers"`
	TasksCompleted int64     `json:"tasks_completed"`
	TasksFailed    int64     `json:"tasks_failed"`
	Timestamp      time.Time `json:"timestamp"`
}
