/*
Package scheduler is the Drover control-plane brain: task admission,
dependency gating, retry promotion, dead letter reprocessing, fleet
controls, and record hygiene.

# Architecture

	                 Submit / SubmitBatch / Orchestrate
	                              │
	            validate, defaults, cycle detection
	                              │
	         ┌────────────────────┼──────────────────────┐
	         │ deps unmet         │ ready                │ later waves
	         ▼                    ▼                      ▼
	   blocked_tasks       task_queue:<lane>       delayed_tasks
	   (zset, submit       high_priority /         (zset scored by
	    time scored)       normal / background      due time)
	         │                    ▲                      │
	         │ deps complete      │ due                  │
	         └────────────────────┴──────────────────────┘
	                    dispatch loop (1s)

	   maintenance loop (5m): DLQ reprocess, archive sweep,
	   stale-active detection, timeline/history trims

# Admission

Submit validates the task, fills defaults (priority normal, three
retries), and refuses work while the stop-new flag is set. Tasks naming
unfinished dependencies park in the blocked set; the dispatch loop
releases them when every dependency has a completion record, and fails
them outright when a dependency dies. SubmitBatch and Orchestrate reject
dependency cycles among batch members before admitting anything.

Orchestrate admits large batches in waves: the first wave enters the
lanes immediately and later waves are staged through the delayed set
five seconds apart. When host CPU or the active-task count crosses the
load thresholds the wave size halves. Untyped tasks get a model profile
from the live fleet (least-busy capable type) or the roster
recommendation when no suitable worker is up.

# Retry promotion

Workers park failed attempts in delayed_tasks scored by their backoff
due time. The dispatch loop promotes due entries back into their lanes;
the worker owns the backoff arithmetic, the scheduler just honors the
score.

# Dead letter reprocessing

Every five minutes the reprocessor walks the DLQ window (24h):

  - transient causes (timeout, connection, network, rate limit,
    overload, busy, unavailable) with a small retry count are requeued
    one priority band down with exactly one more attempt
  - entries past the permanent threshold, and entries that age out of
    the window, become permanent_failures records (7d retention)
  - everything else stays parked for manual inspection

RequeueDeadLetter lets an operator override transience entirely.

# Fleet controls

PauseAll/ResumeAll toggle the fleet pause flag (1h TTL so a forgotten
pause lifts itself), PauseWorker targets one runtime, SetThrottle sets
the execution rate multiplier in [0.1, 2.0], and StopNew closes
admission without touching queued or running work.

# Hygiene

The sweep archives completion and failure records older than a day to
the archived prefix (7d retention), fails active records whose worker
stopped reporting long ago, and trims the event timeline and metrics
history indexes.

# Usage

	sched := scheduler.New(st, eventBus)
	sched.Start()
	defer sched.Stop()

	err := sched.Submit(ctx, &types.Task{
		Type:       types.TaskTypeCodeGeneration,
		Complexity: 7,
		Priority:   types.TaskPriorityHigh,
	})

# See Also

  - pkg/worker for the execution side of the lanes
  - pkg/types for the shared key and TTL conventions
*/
package scheduler
