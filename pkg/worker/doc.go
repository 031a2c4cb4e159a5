/*
Package worker implements the Drover worker runtime that executes simulated
inference tasks.

The worker is the data plane of Drover. Each runtime models one AI backend
(a profile from the model roster), pulls tasks from the shared dispatch
lanes, and streams per-step progress over the event bus. Workers are
stateless: everything durable lives in the store, so a worker can die
mid-task and another picks the work back up.

# Architecture

	┌─────────────────────── WORKER RUNTIME ─────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐           │
	│  │              Runtime                         │           │
	│  │  - Heartbeat loop (10s, record TTL 30s)      │           │
	│  │  - N pull loops (one per concurrency slot)   │           │
	│  │  - Pause / throttle flag checks              │           │
	│  └──────┬──────────────────────────┬────────────┘           │
	│         │                          │                        │
	│  ┌──────▼───────┐          ┌───────▼──────────┐             │
	│  │  Simulator   │          │  Store records   │             │
	│  │  - Profile   │          │  - workers:<id>  │             │
	│  │  - Step plan │          │  - active_tasks  │             │
	│  │  - Tokens    │          │  - completed     │             │
	│  │  - Failures  │          │  - failures      │             │
	│  └──────┬───────┘          └──────────────────┘             │
	│         │                                                   │
	│  ┌──────▼──────────────────────────────────────┐            │
	│  │          Event bus                          │            │
	│  │  - agent_status (heartbeats, load)          │            │
	│  │  - task_update (per-step progress)          │            │
	│  └─────────────────────────────────────────────┘            │
	└─────────────────────────────────────────────────────────────┘

# Execution model

A task's shape is rolled up front: the step count scales with complexity
and shrinks for faster profiles (floor of 5 so every task streams some
progress), each step carries a token draw from the profile's rate band,
and a failure draw against the profile's rate may plant a transient
failure at a random step.

Each step sleeps the base step delay plus the fleet throttle penalty,
re-checks the pause flag (a paused task blocks in place and resumes where
it left off), and publishes a task_update with progress, a phase message,
tokens processed, and estimated cost so far.

# Failure handling

A failed attempt is recorded under task_failures:<id> and then either:

  - attempts <= max_retries: the task is parked in the delayed_tasks set
    scored by its due time (60s backoff, doubling per attempt) for the
    dispatcher to promote, or
  - retries exhausted: a full snapshot goes to the dead_letter_queue set
    for the DLQ reprocessor to inspect.

Shutdown mid-task returns the task to the head of its lane instead.

# Liveness

The heartbeat loop rewrites workers:<id> every 10 seconds with a 30
second TTL. A worker that stops heartbeating simply ages out of the
fleet view; no explicit deregistration protocol is needed. Host CPU and
memory ride along on each heartbeat for the balancer.

# Usage

	st, _ := store.NewRedis(ctx, cfg.Redis)
	b := bus.New(st, cfg.Bus)

	w := worker.New(st, b, cfg.Worker)
	w.Start()
	defer w.Stop()

# See Also

  - pkg/scheduler for lane admission and delayed-task promotion
  - pkg/bus for the event channels workers publish on
*/
package worker
