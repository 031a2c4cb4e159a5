package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of event flowing through the bus
type EventType string

const (
	EventAgentStatus      EventType = "agent_status"
	EventTaskUpdate       EventType = "task_update"
	EventMetricsData      EventType = "metrics_data"
	EventSystemAlert      EventType = "system_alert"
	EventCollaboration    EventType = "collaboration"
	EventBroadcast        EventType = "broadcast"
	EventHeartbeat        EventType = "heartbeat"
	EventPerformanceAlert EventType = "performance_alert"
	EventLogMessage       EventType = "log_message"
)

// EventPriority orders events for filtering and aggregation
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityMedium   EventPriority = 2
	PriorityHigh     EventPriority = 3
	PriorityCritical EventPriority = 4
)

// String returns the lowercase name of the priority
func (p EventPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// Event is the unit of traffic on the bus and the fan-out layer
type Event struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Priority      EventPriority          `json:"priority"`
	Timestamp     time.Time              `json:"timestamp"`
	Data          map[string]interface{} `json:"data"`
	Source        string                 `json:"source"`
	TargetClients []string               `json:"target_clients,omitempty"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
}

// NewEvent constructs an event with a fresh ID and timestamp
func NewEvent(typ EventType, source string, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Priority:  PriorityMedium,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Source:    source,
	}
}

// Expired reports whether the event's TTL has elapsed
func (e *Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// AgentID extracts the agent identifier from the payload, if present
func (e *Event) AgentID() (string, bool) {
	v, ok := e.Data["agent_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
