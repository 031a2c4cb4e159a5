/*
Package bus implements Drover's pub/sub event bus on top of the shared store.

The bus routes typed events onto named channels, keeps a bounded replay
buffer per channel so late subscribers can catch up, and maintains a 24-hour
timeline index of everything published. Publishing is fire-and-forget for
observers but returns an error when the store itself is unreachable, so
callers on the control path can react.

# Architecture

	┌──────────────────── EVENT BUS ───────────────────────────┐
	│                                                            │
	│  Publish(evt)                                              │
	│     │  resolve channel from event type                     │
	│     │  encode JSON (+gzip ≥1KiB when enabled)              │
	│     ├──▶ store.Publish(channel, payload)    live fan-out   │
	│     ├──▶ LPUSH buffer:<channel> + LTRIM     replay buffer  │
	│     │        (cap per channel, retention TTL)              │
	│     └──▶ ZADD event_timeline                24h index      │
	│                                                            │
	│  Channels and replay caps:                                 │
	│    agents 500 · tasks 1000 · metrics 200 · alerts 100     │
	│    collaboration 300 · broadcast 50 · heartbeat 10        │
	│    performance 100 · logs 2000                            │
	│                                                            │
	│  Subscribe(channels...) → EventStream                      │
	│     decoded *types.Event values, expired events dropped    │
	│                                                            │
	│  Recent(channel, n) → last n buffered events, newest first │
	└──────────────────────────────────────────────────────────┘

# Compression

When enabled, payloads at or above the configured threshold are gzipped.
The replay buffers can therefore hold a mix of plain and compressed entries;
Decode sniffs the gzip magic header (0x1f 0x8b) per payload, so readers never
need to know what the writer decided.

# Delivery Semantics

Delivery to live subscribers is best effort: the store layer drops messages
for subscribers that cannot keep up rather than blocking the publisher. The
replay buffer is the catch-up mechanism — a reconnecting client reads Recent
and then follows the live stream. Buffer writes and timeline writes are
non-fatal: a failed LPUSH logs a warning but the publish still counts as
delivered if the pub/sub send succeeded.

# Usage

	b := bus.New(st, cfg.Bus)

	err := b.PublishTaskUpdate(ctx, "scheduler", task.ID, types.TaskStatusRunning, map[string]interface{}{
		"worker_id": workerID,
	})

	stream, err := b.Subscribe(ctx, bus.ChannelTasks, bus.ChannelAlerts)
	if err != nil {
		return err
	}
	defer stream.Close()
	for evt := range stream.Events() {
		handle(evt)
	}

Typed helpers cover the common producers: PublishAgentStatus,
PublishTaskUpdate, PublishMetrics, PublishSystemAlert, PublishBroadcast,
PublishLog. Each sets a sensible priority (alerts escalate with severity,
metrics and logs default low).

# See Also

  - pkg/store for the underlying pub/sub and list primitives
  - pkg/aggregate for the batching layer between bus and fan-out
  - pkg/stream for client-facing delivery with per-client filtering
*/
package bus
