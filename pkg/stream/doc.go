/*
Package stream fans aggregated events out to dashboard clients over
Server-Sent Events and WebSocket.

# Architecture

	bus ──▶ aggregator ──▶ Manager.Dispatch
	                            │
	              per-connection filter chain
	     (target → channel → type → priority → agent → data)
	                            │
	              bounded queue, drop-oldest
	                 │                    │
	             SSE writer          WebSocket writer
	          (event:/id:/data:)    (JSON frames, writeMu)

# Backpressure

Every connection owns a bounded queue sized by the client's buffer_size
parameter (default twice the replay count, floor 100). When a slow
client falls behind, Offer drops the oldest queued
event rather than blocking the dispatcher: a stale dashboard frame is
worthless, and one stuck browser must never stall the fleet's event
flow. Drops are counted per connection and in the stream metrics.

# Filters

Connections filter by channel, event type, minimum priority, agent ID,
and payload field equality, in that order. Events carrying TargetClients
reach only the named connections. Heartbeats bypass the filter chain so
even an aggressively filtered stream shows liveness. SSE clients pass
filters on the query string; WebSocket clients adjust them live with
subscribe/unsubscribe/configure messages. Query parameters: channels,
event_types, min_priority, agent_ids, replay, buffer_size, compression.
Connections that opt into compression get payloads of 1 KiB and up
gzipped and base64-framed per event.

# Replay

New connections are backfilled from the bus channel buffers (oldest
first, capped by the configured replay count) so a freshly opened
dashboard is not blank.

# WebSocket protocol

Client frames: ping, subscribe, unsubscribe, configure (types, minimum
priority, agent IDs, data filters, compression), publish. Server frames:
connection_established, event, pong, subscription_updated,
configuration_updated, publish_result, error. Writes are serialized
through a mutex; liveness uses control pings with a 90s pong deadline.

# Usage

	mgr := stream.NewManager(eventBus, cfg.Stream)
	mgr.Start()
	defer mgr.Stop()

	agg := aggregate.New(nil, mgr.Dispatch)

	mux.HandleFunc("GET /stream", mgr.SSEHandler())
	mux.HandleFunc("GET /websocket", mgr.WebSocketHandler())

# See Also

  - pkg/aggregate for the batching stage upstream
  - pkg/bus for the channel buffers replay reads from
*/
package stream
