/*
Package health watches the host, the state store, and the worker fleet,
and raises alerts on the event bus when something degrades.

# Architecture

	┌──────────────────── Monitor (30s loop) ────────────────────┐
	│                                                            │
	│  ┌──────────┐   ┌───────────┐   ┌──────────────┐           │
	│  │   Host   │   │   Store   │   │    Fleet     │           │
	│  │ cpu/mem/ │   │   ping    │   │ worker count │           │
	│  │   disk   │   │ (3 fails  │   │  hot workers │           │
	│  │          │   │  to trip) │   │              │           │
	│  └────┬─────┘   └─────┬─────┘   └──────┬───────┘           │
	│       └───────────────┼────────────────┘                   │
	│                       ▼                                    │
	│        per-component Status (consecutive counts)           │
	│                       │                                    │
	│        ┌──────────────┼──────────────┐                     │
	│        ▼              ▼              ▼                     │
	│  system_health   system_heartbeat  alerts with 5m          │
	│  hash (5m TTL)   key (30s TTL)     per-component cooldown  │
	└────────────────────────────────────────────────────────────┘

# Grading

Host utilization grades info below 80%, warning from 80%, critical from
95% (disk warns at 90%). An empty worker fleet is critical outright. A
worker whose heartbeat reports critical-level CPU gets a performance
alert naming it.

# Alert discipline

One alert per component and severity per five minutes; a blip that
recovers before the store's three-failure budget never alerts at all.
Worker findings go to the performance channel, everything else to the
system alerts channel with severity-mapped priority.

# See Also

  - pkg/metrics for the liveness/readiness HTTP endpoints
  - pkg/bus for the alert channels
*/
package health
