package aggregate

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// flushInterval is how often time-based flush conditions are evaluated
const flushInterval = time.Second

// Sink receives events leaving the aggregator. It must not block for long:
// the fan-out layer hands events to buffered per-client queues.
type Sink func(*types.Event)

// pendingEntry is one deduplicated slot in a latest_only group
type pendingEntry struct {
	event   *types.Event
	firstAt time.Time
}

// group accumulates events of one type for batch strategies
type group struct {
	events  []*types.Event
	byKey   map[string]int // dedup key -> index into events
	firstAt time.Time
}

// Stats is a snapshot of aggregator throughput
type Stats struct {
	Received   int64            `json:"received"`
	Emitted    int64            `json:"emitted"`
	Absorbed   int64            `json:"absorbed"`
	ByStrategy map[string]int64 `json:"by_strategy"`
}

// Aggregator batches bus traffic per event type before client fan-out.
// Each event type has a strategy; unknown types pass straight through.
type Aggregator struct {
	configs map[types.EventType]Config
	sink    Sink
	logger  zerolog.Logger

	mu     sync.Mutex
	latest map[types.EventType]map[string]*pendingEntry
	groups map[types.EventType]*group
	heaps  map[types.EventType]*eventHeap
	dedup  map[string]time.Time

	received   int64
	emitted    int64
	byStrategy map[string]int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an aggregator with the given per-type configs. A nil configs
// map gets the production defaults.
func New(configs map[types.EventType]Config, sink Sink) *Aggregator {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &Aggregator{
		configs:    configs,
		sink:       sink,
		logger:     log.WithComponent("aggregator"),
		latest:     make(map[types.EventType]map[string]*pendingEntry),
		groups:     make(map[types.EventType]*group),
		heaps:      make(map[types.EventType]*eventHeap),
		dedup:      make(map[string]time.Time),
		byStrategy: make(map[string]int64),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the periodic flush loop
func (a *Aggregator) Start() {
	go a.run()
}

// Stop flushes all pending batches and stops the flush loop
func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

func (a *Aggregator) run() {
	defer close(a.doneCh)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.emitAll(a.flushDue(time.Now()))
		case <-a.stopCh:
			a.emitAll(a.flushEverything())
			return
		}
	}
}

// Process routes one event through its type's strategy. Events that bypass
// or close a batch are handed to the sink before Process returns.
func (a *Aggregator) Process(evt *types.Event) {
	now := time.Now()

	a.mu.Lock()
	a.received++
	cfg, ok := a.configs[evt.Type]
	if !ok || cfg.Strategy == NoAggregation {
		a.byStrategy[string(NoAggregation)]++
		metrics.EventsAggregated.WithLabelValues(string(NoAggregation)).Inc()
		a.mu.Unlock()
		a.emit(evt)
		return
	}
	a.byStrategy[string(cfg.Strategy)]++
	metrics.EventsAggregated.WithLabelValues(string(cfg.Strategy)).Inc()

	var out []*types.Event
	switch cfg.Strategy {
	case LatestOnly:
		a.processLatest(evt, cfg, now)
	case SlidingWindow, CountBased:
		out = a.processBatch(evt, cfg, now)
	case PriorityQueue:
		out = a.processPriority(evt, cfg, now)
	default:
		// Unknown strategy degrades to pass-through
		a.logger.Warn().Str("strategy", string(cfg.Strategy)).Str("type", string(evt.Type)).Msg("unknown aggregation strategy, passing through")
		out = []*types.Event{evt}
	}
	a.mu.Unlock()

	a.emitAll(out)
}

// processLatest keeps the newest event per dedup key. Caller holds mu.
func (a *Aggregator) processLatest(evt *types.Event, cfg Config, now time.Time) {
	key := dedupKey(evt, cfg.DedupKeyFields)
	slots, ok := a.latest[evt.Type]
	if !ok {
		slots = make(map[string]*pendingEntry)
		a.latest[evt.Type] = slots
	}
	if entry, ok := slots[key]; ok {
		entry.event = evt // replace, keep the flush deadline
		return
	}
	if a.isDuplicate(key, now) {
		return // key flushed recently, absorb the repeat
	}
	slots[key] = &pendingEntry{event: evt, firstAt: now}
	a.rememberDedup(key, cfg, now)
}

// processBatch handles sliding_window and count_based. Caller holds mu.
func (a *Aggregator) processBatch(evt *types.Event, cfg Config, now time.Time) []*types.Event {
	g, ok := a.groups[evt.Type]
	if !ok {
		g = &group{byKey: make(map[string]int)}
		a.groups[evt.Type] = g
	}
	if len(g.events) == 0 {
		g.firstAt = now
	}

	if len(cfg.DedupKeyFields) > 0 {
		key := dedupKey(evt, cfg.DedupKeyFields)
		if idx, seen := g.byKey[key]; seen {
			g.events[idx] = evt // newest update per entity wins within a batch
			return nil
		}
		if a.isDuplicate(key, now) {
			return nil
		}
		g.byKey[key] = len(g.events)
		a.rememberDedup(key, cfg, now)
	}
	g.events = append(g.events, evt)

	if cfg.MaxBatchSize > 0 && len(g.events) >= cfg.MaxBatchSize {
		return a.closeGroup(evt.Type, cfg)
	}
	return nil
}

// processPriority forwards urgent events and defers the rest. Caller holds mu.
func (a *Aggregator) processPriority(evt *types.Event, cfg Config, now time.Time) []*types.Event {
	if evt.Priority >= types.PriorityHigh {
		return []*types.Event{evt}
	}
	h, ok := a.heaps[evt.Type]
	if !ok {
		h = &eventHeap{}
		a.heaps[evt.Type] = h
	}
	h.push(evt, now)

	if cfg.MaxBatchSize > 0 && h.Len() >= cfg.MaxBatchSize {
		return []*types.Event{merge(h.drain(), cfg.MergeDataFields)}
	}
	return nil
}

// closeGroup merges and clears a batch group. Caller holds mu.
func (a *Aggregator) closeGroup(typ types.EventType, cfg Config) []*types.Event {
	g := a.groups[typ]
	if g == nil || len(g.events) == 0 {
		return nil
	}
	batch := g.events
	g.events = nil
	g.byKey = make(map[string]int)
	return []*types.Event{merge(batch, cfg.MergeDataFields)}
}

// flushDue emits batches whose time condition has expired
func (a *Aggregator) flushDue(now time.Time) []*types.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*types.Event

	for typ, slots := range a.latest {
		cfg := a.configs[typ]
		for key, entry := range slots {
			if now.Sub(entry.firstAt) >= cfg.MaxDelay {
				out = append(out, entry.event)
				delete(slots, key)
			}
		}
	}

	for typ, g := range a.groups {
		if len(g.events) == 0 {
			continue
		}
		cfg := a.configs[typ]
		deadline := cfg.MaxDelay
		if cfg.Strategy == SlidingWindow {
			deadline = cfg.WindowDuration
		}
		if deadline > 0 && now.Sub(g.firstAt) >= deadline {
			out = append(out, a.closeGroup(typ, cfg)...)
		}
	}

	for typ, h := range a.heaps {
		cfg := a.configs[typ]
		if oldest, ok := h.oldest(); ok && now.Sub(oldest) >= cfg.MaxDelay {
			out = append(out, merge(h.drain(), cfg.MergeDataFields))
		}
	}

	a.evictDedup(now)
	return out
}

// flushEverything drains all pending state, used at shutdown
func (a *Aggregator) flushEverything() []*types.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*types.Event
	for typ, slots := range a.latest {
		for key, entry := range slots {
			out = append(out, entry.event)
			delete(slots, key)
		}
		delete(a.latest, typ)
	}
	for typ := range a.groups {
		out = append(out, a.closeGroup(typ, a.configs[typ])...)
	}
	for typ, h := range a.heaps {
		if h.Len() > 0 {
			out = append(out, merge(h.drain(), a.configs[typ].MergeDataFields))
		}
	}
	return out
}

func (a *Aggregator) emit(evt *types.Event) {
	a.mu.Lock()
	a.emitted++
	a.mu.Unlock()
	a.sink(evt)
}

func (a *Aggregator) emitAll(events []*types.Event) {
	for _, evt := range events {
		a.emit(evt)
	}
}

// rememberDedup records a dedup key with a TTL of twice the flush delay.
// Caller holds mu.
func (a *Aggregator) rememberDedup(key string, cfg Config, now time.Time) {
	ttl := 2 * cfg.MaxDelay
	if ttl <= 0 {
		ttl = 2 * flushInterval
	}
	a.dedup[key] = now.Add(ttl)
}

// isDuplicate reports whether the key is still inside its dedup TTL.
// Expired entries are evicted on lookup. Caller holds mu.
func (a *Aggregator) isDuplicate(key string, now time.Time) bool {
	expiry, ok := a.dedup[key]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(a.dedup, key)
		return false
	}
	return true
}

// evictDedup lazily drops expired dedup keys. Caller holds mu.
func (a *Aggregator) evictDedup(now time.Time) {
	for key, expiry := range a.dedup {
		if now.After(expiry) {
			delete(a.dedup, key)
		}
	}
}

// Stats returns a snapshot of aggregator throughput counters
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	byStrategy := make(map[string]int64, len(a.byStrategy))
	for s, n := range a.byStrategy {
		byStrategy[s] = n
	}
	return Stats{
		Received:   a.received,
		Emitted:    a.emitted,
		Absorbed:   a.received - a.emitted,
		ByStrategy: byStrategy,
	}
}

// dedupKey builds the identity key for an event from the configured fields.
// The pseudo-field "source" reads the event source rather than the payload.
func dedupKey(evt *types.Event, fields []string) string {
	if len(fields) == 0 {
		return string(evt.Type)
	}
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, string(evt.Type))
	for _, f := range fields {
		if f == "source" {
			parts = append(parts, evt.Source)
			continue
		}
		if v, ok := evt.Data[f]; ok {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
				continue
			}
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, ":")
}
