/*
Package log provides structured logging for Drover using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("scheduler")               │          │
	│  │  - WithWorkerID("worker-abc123")            │          │
	│  │  - WithTaskID("task-def456")                │          │
	│  │  - WithConnectionID("conn-789")             │          │
	│  │  - WithChannel("tasks")                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "scheduler",                │          │
	│  │    "time": "2026-08-24T10:30:00Z",         │          │
	│  │    "message": "task dispatched"             │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF task dispatched component=scheduler │     │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Drover packages
  - Thread-safe concurrent writes

Configuration:
  - Level: debug, info, warn, error (default: info)
  - JSONOutput: machine-readable JSON vs console format
  - Output: defaults to stdout, accepts any io.Writer

Child Loggers:
  - WithComponent attaches a component field for subsystem filtering
  - WithWorkerID / WithTaskID / WithConnectionID / WithChannel attach
    the identifiers operators grep for when tracing a single task,
    worker, or stream connection across components

# Usage

Initialization (once, at startup):

	import "github.com/droverhq/drover/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component logging:

	logger := log.WithComponent("scheduler")
	logger.Info().
		Str("task_id", task.ID).
		Str("queue", string(queue)).
		Msg("task enqueued")

Error logging with wrapped errors:

	if err := store.SetHash(ctx, key, fields); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("failed to persist task record")
	}

# Level Guidance

  - Debug: per-event and per-step detail (step progress, filter decisions)
  - Info: lifecycle transitions (task dispatched, worker registered,
    connection opened)
  - Warn: recoverable anomalies (dropped events, stale heartbeats,
    retry scheduled)
  - Error: failed operations that surface to callers or the DLQ

# See Also

  - zerolog documentation: https://github.com/rs/zerolog
  - pkg/config for wiring the log level from the config file
*/
package log
