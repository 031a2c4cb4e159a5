/*
Package aggregate batches event bus traffic before client fan-out.

High-frequency producers (per-step task updates, metrics samples, log lines)
would overwhelm browser clients if forwarded raw. The aggregator sits between
the bus and the stream layer and applies a per-event-type strategy that
collapses, batches, or forwards traffic.

# Strategies

	latest_only      keep only the newest event per entity (dedup key),
	                 emit when the delay window closes
	sliding_window   batch over a fixed window, emit one merged event
	                 with numeric field statistics
	count_based      batch until a count threshold or delay cap
	priority_queue   high/critical forwarded immediately, the rest
	                 batched briefly (container/heap ordered)
	no_aggregation   pass-through

# Flow

	bus events ──▶ Process(evt)
	                 │ config lookup by event type
	                 │ (missing type → pass through)
	                 ▼
	          strategy-specific pending state
	                 │
	   size trigger ─┤─ 1s flush loop (time triggers)
	                 ▼
	            merge(batch) ──▶ Sink ──▶ stream layer

Batches of one skip merging entirely. A merged event is recognizable by its
payload: aggregated=true, batch_size, time_span{start,end}, event_ids, and
per-numeric-field {sum, avg, min, max, count}; non-numeric fields carry the
latest raw value. Its ID is "aggregated_<last member id>", its source
"aggregator_<last member source>", and its priority the maximum of the batch
so a critical member escalates the whole merge.

# Deduplication

When a config names DedupKeyFields, events sharing the composite key
(type:field1:field2...) collapse to the newest within the pending window —
twenty progress updates for one task become one entry in the next batch. The
pseudo-field "source" reads the event's source instead of the payload, which
is how heartbeats dedupe. Key sightings are remembered for twice the flush
delay and evicted lazily on the flush tick.

# Shutdown

Stop() drains every pending batch through the sink before returning, so no
buffered event is lost on a clean shutdown.

# Usage

	agg := aggregate.New(nil, func(evt *types.Event) {
		streamManager.Dispatch(evt)
	})
	agg.Start()
	defer agg.Stop()

	stream, _ := eventBus.Subscribe(ctx)
	go func() {
		for evt := range stream.Events() {
			agg.Process(evt)
		}
	}()

# See Also

  - pkg/bus for the upstream event source
  - pkg/stream for the downstream per-client queues
*/
package aggregate
