package aggregate

import (
	"container/heap"
	"time"

	"github.com/droverhq/drover/pkg/types"
)

// pqEntry is a deferred event waiting in a priority_queue batch
type pqEntry struct {
	event    *types.Event
	queuedAt time.Time
}

// eventHeap orders deferred events by priority (highest first), then by
// queue time (oldest first) within a priority.
type eventHeap []*pqEntry

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	return h[i].queuedAt.Before(h[j].queuedAt)
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(*pqEntry))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// push adds an event to the heap
func (h *eventHeap) push(evt *types.Event, now time.Time) {
	heap.Push(h, &pqEntry{event: evt, queuedAt: now})
}

// oldest returns the earliest queue time in the heap
func (h eventHeap) oldest() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	earliest := h[0].queuedAt
	for _, e := range h[1:] {
		if e.queuedAt.Before(earliest) {
			earliest = e.queuedAt
		}
	}
	return earliest, true
}

// drain pops every entry in priority order
func (h *eventHeap) drain() []*types.Event {
	events := make([]*types.Event, 0, h.Len())
	for h.Len() > 0 {
		entry := heap.Pop(h).(*pqEntry)
		events = append(events, entry.event)
	}
	return events
}
