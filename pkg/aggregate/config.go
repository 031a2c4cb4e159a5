package aggregate

import (
	"time"

	"github.com/droverhq/drover/pkg/types"
)

// Strategy selects how events of a type are batched before fan-out
type Strategy string

const (
	// LatestOnly keeps only the newest event per dedup key and emits it
	// once the delay window closes
	LatestOnly Strategy = "latest_only"

	// SlidingWindow batches events over a fixed window and emits a merged
	// aggregate with numeric field statistics
	SlidingWindow Strategy = "sliding_window"

	// CountBased batches until a count threshold or the delay cap is hit
	CountBased Strategy = "count_based"

	// PriorityQueue forwards high and critical events immediately and
	// batches the rest briefly
	PriorityQueue Strategy = "priority_queue"

	// NoAggregation passes every event straight through
	NoAggregation Strategy = "no_aggregation"
)

// Config tunes aggregation for one event type
type Config struct {
	Strategy        Strategy
	WindowDuration  time.Duration // sliding_window only
	MaxBatchSize    int
	MaxDelay        time.Duration
	DedupKeyFields  []string // data fields identifying a logical entity
	MergeDataFields []string // numeric fields to fold into statistics
}

// DefaultConfigs returns the per-type aggregation tuning used in production.
// Broadcast is deliberately unbatched; heartbeats collapse hard.
func DefaultConfigs() map[types.EventType]Config {
	return map[types.EventType]Config{
		types.EventAgentStatus: {
			Strategy:       LatestOnly,
			MaxDelay:       2 * time.Second,
			DedupKeyFields: []string{"agent_id"},
		},
		types.EventTaskUpdate: {
			Strategy:       CountBased,
			MaxBatchSize:   20,
			MaxDelay:       3 * time.Second,
			DedupKeyFields: []string{"task_id"},
		},
		types.EventMetricsData: {
			Strategy:        SlidingWindow,
			WindowDuration:  5 * time.Second,
			MaxBatchSize:    10,
			MergeDataFields: []string{"tokensPerSecond", "costPerSecondUSD"},
		},
		types.EventSystemAlert: {
			Strategy:     PriorityQueue,
			MaxBatchSize: 5,
			MaxDelay:     time.Second,
		},
		types.EventCollaboration: {
			Strategy:       LatestOnly,
			MaxDelay:       time.Second,
			DedupKeyFields: []string{"user_id", "target"},
		},
		types.EventBroadcast: {
			Strategy: NoAggregation,
		},
		types.EventHeartbeat: {
			Strategy:       LatestOnly,
			MaxDelay:       10 * time.Second,
			DedupKeyFields: []string{"source"},
		},
		types.EventPerformanceAlert: {
			Strategy:     PriorityQueue,
			MaxBatchSize: 3,
			MaxDelay:     2 * time.Second,
		},
		types.EventLogMessage: {
			Strategy:     CountBased,
			MaxBatchSize: 50,
			MaxDelay:     10 * time.Second,
		},
	}
}
