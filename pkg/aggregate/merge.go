package aggregate

import (
	"sort"

	"github.com/droverhq/drover/pkg/types"
)

// FieldStats summarizes one numeric field across a batch
type FieldStats struct {
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// merge folds a batch into a single aggregated event. Batches of one pass
// through untouched. The merged payload carries the batch size, the time
// span covered, all member event IDs, statistics for numeric fields, and
// the latest value of every non-numeric field.
func merge(batch []*types.Event, mergeFields []string) *types.Event {
	if len(batch) == 1 {
		return batch[0]
	}

	// Strategies hand batches over in their own order (the priority
	// queue drains highest-first), so the time span and the base event
	// come from timestamps, not slice position.
	ordered := make([]*types.Event, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	first := ordered[0]
	last := batch[0]
	for _, evt := range batch {
		if evt.Timestamp.After(last.Timestamp) {
			last = evt
		}
	}

	maxPriority := first.Priority
	eventIDs := make([]string, len(ordered))
	for i, evt := range ordered {
		eventIDs[i] = evt.ID
		if evt.Priority > maxPriority {
			maxPriority = evt.Priority
		}
	}

	stats := make(map[string]*FieldStats)
	latest := make(map[string]interface{})
	statField := func(name string) bool {
		if len(mergeFields) == 0 {
			return true // no explicit list: every numeric field gets stats
		}
		for _, f := range mergeFields {
			if f == name {
				return true
			}
		}
		return false
	}

	for _, evt := range ordered {
		for field, value := range evt.Data {
			num, isNum := asFloat(value)
			if isNum && statField(field) {
				fs, ok := stats[field]
				if !ok {
					fs = &FieldStats{Min: num, Max: num}
					stats[field] = fs
				}
				fs.Sum += num
				fs.Count++
				if num < fs.Min {
					fs.Min = num
				}
				if num > fs.Max {
					fs.Max = num
				}
				continue
			}
			// Later events win for non-statistical fields
			latest[field] = value
		}
	}

	data := map[string]interface{}{
		"aggregated": true,
		"batch_size": len(batch),
		"time_span": map[string]interface{}{
			"start": first.Timestamp,
			"end":   last.Timestamp,
		},
		"event_ids": eventIDs,
	}
	for field, fs := range stats {
		fs.Avg = fs.Sum / float64(fs.Count)
		data[field] = fs
	}
	for field, value := range latest {
		if _, taken := data[field]; !taken {
			data[field] = value
		}
	}

	out := types.NewEvent(last.Type, "aggregator_"+last.Source, data)
	out.ID = "aggregated_" + last.ID
	out.Priority = maxPriority
	return out
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
