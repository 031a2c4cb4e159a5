package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Transport names for connection accounting
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// minQueueDepth is the floor for a connection's event queue
const minQueueDepth = 100

// Filters narrows which events a connection receives. Zero values pass
// everything.
type Filters struct {
	Channels    []string               `json:"channels,omitempty"`
	Types       []types.EventType      `json:"types,omitempty"`
	MinPriority types.EventPriority    `json:"min_priority,omitempty"`
	AgentIDs    []string               `json:"agent_ids,omitempty"`
	DataFilters map[string]interface{} `json:"data_filters,omitempty"`
}

// Connection is one streaming client. Both transports share the same
// queue, filter, and drop-oldest semantics; only the wire framing
// differs.
type Connection struct {
	ID        string
	Transport string
	CreatedAt time.Time

	mu          sync.RWMutex
	channels    map[string]bool
	eventTypes  map[types.EventType]bool
	minPriority types.EventPriority
	agentIDs    map[string]bool
	dataFilters map[string]interface{}
	compression bool

	queue   chan *types.Event
	sent    atomic.Int64
	dropped atomic.Int64
}

func newConnection(transport string, queueDepth int) *Connection {
	if queueDepth < minQueueDepth {
		queueDepth = minQueueDepth
	}
	return &Connection{
		ID:          uuid.New().String(),
		Transport:   transport,
		CreatedAt:   time.Now().UTC(),
		channels:    make(map[string]bool),
		eventTypes:  make(map[types.EventType]bool),
		agentIDs:    make(map[string]bool),
		dataFilters: make(map[string]interface{}),
		queue:       make(chan *types.Event, queueDepth),
	}
}

// SetFilters replaces the connection's filter set
func (c *Connection) SetFilters(f Filters) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channels = make(map[string]bool, len(f.Channels))
	for _, ch := range f.Channels {
		c.channels[ch] = true
	}
	c.eventTypes = make(map[types.EventType]bool, len(f.Types))
	for _, t := range f.Types {
		c.eventTypes[t] = true
	}
	c.minPriority = f.MinPriority
	c.agentIDs = make(map[string]bool, len(f.AgentIDs))
	for _, id := range f.AgentIDs {
		c.agentIDs[id] = true
	}
	c.dataFilters = make(map[string]interface{}, len(f.DataFilters))
	for k, v := range f.DataFilters {
		c.dataFilters[k] = v
	}
}

// AddChannels widens the channel subscription without touching the other
// filters
func (c *Connection) AddChannels(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.channels[ch] = true
	}
}

// RemoveChannels narrows the channel subscription
func (c *Connection) RemoveChannels(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// SetCompression toggles payload compression for this connection
func (c *Connection) SetCompression(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compression = on
}

// Compressed reports the connection's compression preference
func (c *Connection) Compressed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compression
}

// Filters returns a snapshot of the active filter set
func (c *Connection) Filters() Filters {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f := Filters{MinPriority: c.minPriority}
	for ch := range c.channels {
		f.Channels = append(f.Channels, ch)
	}
	for t := range c.eventTypes {
		f.Types = append(f.Types, t)
	}
	for id := range c.agentIDs {
		f.AgentIDs = append(f.AgentIDs, id)
	}
	if len(c.dataFilters) > 0 {
		f.DataFilters = make(map[string]interface{}, len(c.dataFilters))
		for k, v := range c.dataFilters {
			f.DataFilters[k] = v
		}
	}
	return f
}

// Matches applies the filter chain: target, channel, type, priority,
// agent, then data equality. Heartbeats always pass so an aggressively
// filtered connection still sees liveness.
func (c *Connection) Matches(evt *types.Event) bool {
	if len(evt.TargetClients) > 0 {
		targeted := false
		for _, id := range evt.TargetClients {
			if id == c.ID {
				targeted = true
				break
			}
		}
		if !targeted {
			return false
		}
	}

	if evt.Type == types.EventHeartbeat {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.channels) > 0 {
		ch, ok := bus.ChannelFor(evt.Type)
		if !ok || !c.channels[ch] {
			return false
		}
	}
	if len(c.eventTypes) > 0 && !c.eventTypes[evt.Type] {
		return false
	}
	if c.minPriority > 0 && evt.Priority < c.minPriority {
		return false
	}
	// The agent allow-set only applies to events that carry an agent;
	// system-level events (alerts, scheduler updates) pass through.
	if len(c.agentIDs) > 0 {
		if id, ok := evt.AgentID(); ok && !c.agentIDs[id] {
			return false
		}
	}
	for k, want := range c.dataFilters {
		got, ok := evt.Data[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Offer enqueues an event, dropping the oldest queued event when full.
// A slow client loses history, never blocks the dispatcher.
func (c *Connection) Offer(evt *types.Event) {
	for {
		select {
		case c.queue <- evt:
			return
		default:
		}
		select {
		case <-c.queue:
			c.dropped.Add(1)
			metrics.StreamEventsDropped.Inc()
		default:
		}
	}
}

// Events exposes the delivery queue to the transport writer
func (c *Connection) Events() <-chan *types.Event {
	return c.queue
}

// Stats is a point-in-time view of one connection
type Stats struct {
	ID          string    `json:"id"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        int64     `json:"events_sent"`
	Dropped     int64     `json:"events_dropped"`
	Queued      int       `json:"events_queued"`
	Filters     Filters   `json:"filters"`
}

// Stats snapshots the connection's counters
func (c *Connection) Stats() Stats {
	return Stats{
		ID:          c.ID,
		Transport:   c.Transport,
		ConnectedAt: c.CreatedAt,
		Sent:        c.sent.Load(),
		Dropped:     c.dropped.Load(),
		Queued:      len(c.queue),
		Filters:     c.Filters(),
	}
}
