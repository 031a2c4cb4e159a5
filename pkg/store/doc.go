/*
Package store provides the shared state store backing the Drover control plane.

The store package defines a small primitive-oriented Store interface (keys,
hashes, sorted sets, lists, pub/sub) and two implementations: a Redis-backed
store for production and an in-memory store for tests and single-binary dev
mode. Every other component — dispatcher, worker runtime, event bus, fan-out —
talks to the fleet exclusively through this interface, so a node can be
restarted without losing queue or task state.

# Architecture

	┌──────────────────── STATE STORE ─────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Store Interface                │          │
	│  │  KV · Hash · ZSet · List · Pub/Sub          │          │
	│  └──────┬──────────────────────────┬──────────┘          │
	│         │                          │                      │
	│  ┌──────▼──────────┐      ┌────────▼─────────┐          │
	│  │   redisStore    │      │     memStore      │          │
	│  │  go-redis v9    │      │  maps + RWMutex   │          │
	│  │  pooled client  │      │  lazy TTL expiry  │          │
	│  └─────────────────┘      └──────────────────┘          │
	│                                                            │
	│  Key families:                                            │
	│    task_queue:<lane>        dispatch lanes (lists)        │
	│    active_tasks:<id>        running task records (hash)   │
	│    completed_tasks:<id>     results, 24h TTL (hash)       │
	│    task_failures:<id>       failure records, 24h (hash)   │
	│    dead_letter_queue        DLQ snapshots (zset)          │
	│    buffer:<channel>         event replay buffers (list)   │
	│    event_timeline           24h event index (zset)        │
	│    metrics_history          7d metrics samples (zset)     │
	│    system_paused            pause flag, 1h TTL (kv)       │
	│    system_throttle_rate     throttle multiplier (kv)      │
	└──────────────────────────────────────────────────────────┘

# TTL Semantics

A zero TTL means no expiry. The Redis implementation delegates expiry to the
server; the in-memory implementation stores a deadline per key and reaps
lazily on access, which is close enough for the sweep intervals the control
plane uses.

# Error Handling

Missing keys, hash fields, and empty list pops return ErrNotFound so callers
can distinguish absence from infrastructure failure. All other errors are
wrapped with the failing key for operator-grade messages.

# Pub/Sub

Subscribe establishes the subscription before returning, so events published
immediately afterwards are not missed. Deliveries go through a buffered
channel per subscriber; the in-memory implementation drops messages for
subscribers whose buffer is full rather than blocking the publisher, which
matches how the fan-out layer treats slow consumers.

# Usage

	st, err := store.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer st.Close()

	if err := st.SetHash(ctx, "active_tasks:"+task.ID, fields, 2*time.Hour); err != nil {
		return err
	}

	sub, err := st.Subscribe(ctx, "tasks", "agents")
	if err != nil {
		return err
	}
	defer sub.Close()
	for msg := range sub.Messages() {
		handle(msg)
	}

# See Also

  - pkg/bus for the event envelope layered on Publish/Subscribe
  - pkg/scheduler for the queue and DLQ key conventions
*/
package store
