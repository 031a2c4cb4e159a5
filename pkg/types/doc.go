/*
Package types defines the core data model shared across Drover components.

The types package holds the task, worker, and event structures plus their
string-typed enums. It has no dependencies on other Drover packages so that
every component (scheduler, worker runtime, bus, fan-out, API) can exchange
values without import cycles.

# Architecture

	┌──────────────────── TYPE HIERARCHY ────────────────────┐
	│                                                          │
	│  Task ──────────── unit of inference work                │
	│    ├─ TaskStatus      pending/assigned/running/paused/   │
	│    │                  completed/failed/cancelled/retry   │
	│    ├─ TaskPriority    critical/high/normal/low           │
	│    ├─ TaskType        text_processing, code_generation,  │
	│    │                  data_analysis, web_scraping, ...   │
	│    └─ QueueName       high_priority/normal/background    │
	│                                                          │
	│  Worker ─────────── registered fleet member              │
	│    ├─ WorkerStatus    idle/working/paused/error/offline  │
	│    └─ Capabilities    []TaskType (empty = handles all)   │
	│                                                          │
	│  Event ──────────── unit of bus traffic                  │
	│    ├─ EventType       agent_status, task_update,         │
	│    │                  metrics_data, system_alert, ...    │
	│    └─ EventPriority   low=1 medium=2 high=3 critical=4   │
	│                                                          │
	│  Supporting:                                             │
	│    TaskResult, TaskFailure, Orchestration,               │
	│    SystemMetrics                                         │
	└──────────────────────────────────────────────────────────┘

# Core Types

Task:
  - A unit of inference work with priority, complexity (1-10), optional
    dependencies, and a retry envelope (MaxRetries, Attempts,
    TimeoutSeconds)
  - Lifecycle: pending → assigned → running → completed/failed/cancelled,
    with paused and retry as recoverable detours
  - Validate() enforces the submission rules (known enums, complexity
    bounds, no self-dependency)

Worker:
  - A registered fleet member with capabilities, a model profile name,
    and last reported heartbeat/load
  - CanHandle() treats an empty capability list as "handles everything"

Event:
  - The unit of traffic on the pub/sub bus: typed, prioritized, with a
    free-form data payload, optional per-client targeting, and optional
    expiry
  - NewEvent() assigns a UUID and a UTC timestamp

# Enum Validation

Enums are string-typed for readable wire formats. ValidTaskStatus,
ValidTaskPriority, and ValidTaskType reject unknown values at the admission
boundary; everything past submission can assume enum values are well formed.

# Queue Mapping

TaskPriority.Queue() maps the four priorities onto the three dispatch lanes:
critical and high share the high_priority lane, normal maps to normal, and
low maps to background. Priority still matters within a lane (the fan-out
and aggregation layers use EventPriority for ordering), but the dispatcher
only distinguishes lanes.

# Usage

	task := &types.Task{
		ID:         uuid.New().String(),
		Type:       types.TaskTypeCodeGeneration,
		Priority:   types.TaskPriorityHigh,
		Complexity: 5,
		MaxRetries: 3,
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("failed to validate task: %w", err)
	}

	evt := types.NewEvent(types.EventTaskUpdate, "scheduler", map[string]interface{}{
		"task_id": task.ID,
		"status":  string(types.TaskStatusPending),
	})

# See Also

  - pkg/scheduler for the task state machine transitions
  - pkg/bus for event publication and replay
  - pkg/stream for event filtering by type, priority, and agent
*/
package types
