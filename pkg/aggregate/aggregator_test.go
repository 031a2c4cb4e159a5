package aggregate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/types"
)

// collectSink gathers emitted events for assertions
type collectSink struct {
	mu     sync.Mutex
	events []*types.Event
}

func (c *collectSink) sink(evt *types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectSink) all() []*types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Event, len(c.events))
	copy(out, c.events)
	return out
}

func statusEvent(agentID, status string) *types.Event {
	return types.NewEvent(types.EventAgentStatus, agentID, map[string]interface{}{
		"agent_id": agentID,
		"status":   status,
	})
}

func TestNoAggregationPassesThrough(t *testing.T) {
	sink := &collectSink{}
	a := New(nil, sink.sink)

	evt := types.NewEvent(types.EventBroadcast, "admin", map[string]interface{}{"message": "hello"})
	a.Process(evt)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, evt.ID, events[0].ID)
}

func TestUnknownTypePassesThrough(t *testing.T) {
	sink := &collectSink{}
	a := New(map[types.EventType]Config{}, sink.sink)

	evt := types.NewEvent(types.EventTaskUpdate, "s", nil)
	a.Process(evt)

	require.Len(t, sink.all(), 1)
}

func TestLatestOnlyKeepsNewestPerKey(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventAgentStatus: {
			Strategy:       LatestOnly,
			MaxDelay:       20 * time.Millisecond,
			DedupKeyFields: []string{"agent_id"},
		},
	}
	a := New(configs, sink.sink)

	a.Process(statusEvent("w-1", "idle"))
	a.Process(statusEvent("w-1", "working"))
	a.Process(statusEvent("w-2", "idle"))

	// Nothing emitted before the delay expires
	assert.Empty(t, sink.all())

	out := a.flushDue(time.Now().Add(30 * time.Millisecond))
	a.emitAll(out)

	events := sink.all()
	require.Len(t, events, 2)

	byAgent := map[string]string{}
	for _, evt := range events {
		byAgent[evt.Data["agent_id"].(string)] = evt.Data["status"].(string)
	}
	assert.Equal(t, "working", byAgent["w-1"], "newest status wins")
	assert.Equal(t, "idle", byAgent["w-2"])
}

func TestCountBasedFlushesAtThreshold(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventLogMessage: {
			Strategy:     CountBased,
			MaxBatchSize: 3,
			MaxDelay:     time.Minute,
		},
	}
	a := New(configs, sink.sink)

	for i := 0; i < 2; i++ {
		a.Process(types.NewEvent(types.EventLogMessage, "w-1", map[string]interface{}{"line": float64(i)}))
	}
	assert.Empty(t, sink.all(), "below threshold, nothing emitted")

	a.Process(types.NewEvent(types.EventLogMessage, "w-1", map[string]interface{}{"line": 2.0}))

	events := sink.all()
	require.Len(t, events, 1)
	agg := events[0]
	assert.Equal(t, true, agg.Data["aggregated"])
	assert.Equal(t, 3, agg.Data["batch_size"])
	assert.Len(t, agg.Data["event_ids"], 3)
}

func TestCountBasedDedupReplacesWithinBatch(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventTaskUpdate: {
			Strategy:       CountBased,
			MaxBatchSize:   10,
			MaxDelay:       time.Minute,
			DedupKeyFields: []string{"task_id"},
		},
	}
	a := New(configs, sink.sink)

	for _, status := range []string{"pending", "assigned", "running"} {
		a.Process(types.NewEvent(types.EventTaskUpdate, "sched", map[string]interface{}{
			"task_id": "t-1",
			"status":  status,
		}))
	}

	out := a.flushEverything()
	a.emitAll(out)

	events := sink.all()
	require.Len(t, events, 1)
	// Three updates for one task collapse to the newest
	assert.Equal(t, "running", events[0].Data["status"])

	stats := a.Stats()
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(1), stats.Emitted)
	assert.Equal(t, int64(2), stats.Absorbed)
}

func TestSlidingWindowMergesNumericFields(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventMetricsData: {
			Strategy:        SlidingWindow,
			WindowDuration:  10 * time.Millisecond,
			MaxBatchSize:    100,
			MergeDataFields: []string{"tokensPerSecond"},
		},
	}
	a := New(configs, sink.sink)

	for _, tps := range []float64{10, 20, 30} {
		a.Process(types.NewEvent(types.EventMetricsData, "w-1", map[string]interface{}{
			"tokensPerSecond": tps,
			"model":           "gpt-4",
		}))
	}

	out := a.flushDue(time.Now().Add(20 * time.Millisecond))
	a.emitAll(out)

	events := sink.all()
	require.Len(t, events, 1)
	agg := events[0]

	stats, ok := agg.Data["tokensPerSecond"].(*FieldStats)
	require.True(t, ok, "tokensPerSecond should be folded into stats")
	assert.Equal(t, 60.0, stats.Sum)
	assert.Equal(t, 20.0, stats.Avg)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 30.0, stats.Max)
	assert.Equal(t, 3, stats.Count)

	// Non-merge fields keep the latest raw value
	assert.Equal(t, "gpt-4", agg.Data["model"])
}

func TestPriorityQueueForwardsUrgentImmediately(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventSystemAlert: {
			Strategy:     PriorityQueue,
			MaxBatchSize: 5,
			MaxDelay:     time.Minute,
		},
	}
	a := New(configs, sink.sink)

	critical := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "critical"})
	critical.Priority = types.PriorityCritical
	a.Process(critical)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, critical.ID, events[0].ID)

	low := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "info"})
	low.Priority = types.PriorityLow
	a.Process(low)
	assert.Len(t, sink.all(), 1, "low priority deferred")
}

func TestPriorityQueueBatchKeepsMaxPriority(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventSystemAlert: {
			Strategy:     PriorityQueue,
			MaxBatchSize: 2,
			MaxDelay:     time.Minute,
		},
	}
	a := New(configs, sink.sink)

	first := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"n": 1.0})
	first.Priority = types.PriorityLow
	second := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"n": 2.0})
	second.Priority = types.PriorityMedium

	a.Process(first)
	a.Process(second)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, types.PriorityMedium, events[0].Priority)
	assert.Equal(t, "aggregated_"+second.ID, events[0].ID)
	assert.Equal(t, "aggregator_monitor", events[0].Source)
}

func TestMergeSingleEventPassesThrough(t *testing.T) {
	evt := types.NewEvent(types.EventMetricsData, "w-1", map[string]interface{}{"x": 1.0})
	out := merge([]*types.Event{evt}, nil)
	assert.Same(t, evt, out)
}

func TestStopFlushesPending(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventLogMessage: {
			Strategy:     CountBased,
			MaxBatchSize: 100,
			MaxDelay:     time.Hour,
		},
	}
	a := New(configs, sink.sink)
	a.Start()

	a.Process(types.NewEvent(types.EventLogMessage, "w-1", map[string]interface{}{"line": 1.0}))
	a.Process(types.NewEvent(types.EventLogMessage, "w-1", map[string]interface{}{"line": 2.0}))

	a.Stop()

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Data["batch_size"])
}

func TestDedupKeySourceField(t *testing.T) {
	evt := types.NewEvent(types.EventHeartbeat, "monitor-1", nil)
	key := dedupKey(evt, []string{"source"})
	assert.Equal(t, "heartbeat:monitor-1", key)

	evt2 := types.NewEvent(types.EventHeartbeat, "monitor-2", nil)
	assert.NotEqual(t, key, dedupKey(evt2, []string{"source"}))
}

func TestMergeSpansTimestampsNotArrivalOrder(t *testing.T) {
	older := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "info"})
	older.Priority = types.PriorityLow
	older.Timestamp = older.Timestamp.Add(-10 * time.Second)
	newer := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "warning"})
	newer.Priority = types.PriorityMedium

	// Priority-queue drains put the higher-priority, newer event first
	out := merge([]*types.Event{newer, older}, nil)

	span := out.Data["time_span"].(map[string]interface{})
	start := span["start"].(time.Time)
	end := span["end"].(time.Time)
	assert.Equal(t, older.Timestamp, start)
	assert.Equal(t, newer.Timestamp, end)
	assert.False(t, end.Before(start), "span must not run backwards")

	assert.Equal(t, "aggregated_"+newer.ID, out.ID, "newest event is the base")
	assert.Equal(t, "warning", out.Data["severity"], "newest non-numeric value wins")
}

func TestDedupSuppressesReadmissionAfterFlush(t *testing.T) {
	sink := &collectSink{}
	configs := map[types.EventType]Config{
		types.EventAgentStatus: {
			Strategy:       LatestOnly,
			MaxDelay:       20 * time.Millisecond,
			DedupKeyFields: []string{"agent_id"},
		},
	}
	a := New(configs, sink.sink)

	a.Process(statusEvent("w-1", "idle"))
	a.emitAll(a.flushDue(time.Now().Add(30 * time.Millisecond)))
	require.Len(t, sink.all(), 1)

	// Same key straight after the flush is still inside the dedup TTL
	a.Process(statusEvent("w-1", "working"))
	a.emitAll(a.flushDue(time.Now().Add(30 * time.Millisecond)))
	assert.Len(t, sink.all(), 1, "repeat inside the ttl is absorbed")

	// Once the TTL lapses the key is evicted on lookup and readmitted
	a.mu.Lock()
	a.dedup["agent_status:w-1"] = time.Now().Add(-time.Millisecond)
	a.mu.Unlock()
	a.Process(statusEvent("w-1", "working"))
	a.emitAll(a.flushDue(time.Now().Add(30 * time.Millisecond)))
	require.Len(t, sink.all(), 2)
	assert.Equal(t, "working", sink.all()[1].Data["status"])
}
