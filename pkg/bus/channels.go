package bus

import "github.com/droverhq/drover/pkg/types"

// Channel names carried by the bus
const (
	ChannelAgents        = "agents"
	ChannelTasks         = "tasks"
	ChannelMetrics       = "metrics"
	ChannelAlerts        = "alerts"
	ChannelCollaboration = "collaboration"
	ChannelBroadcast     = "broadcast"
	ChannelHeartbeat     = "heartbeat"
	ChannelPerformance   = "performance"
	ChannelLogs          = "logs"
)

// bufferSizes caps the replay buffer per channel. Sizes reflect expected
// traffic: task and log channels are chatty, heartbeat is nearly silent.
var bufferSizes = map[string]int64{
	ChannelAgents:        500,
	ChannelTasks:         1000,
	ChannelMetrics:       200,
	ChannelAlerts:        100,
	ChannelCollaboration: 300,
	ChannelBroadcast:     50,
	ChannelHeartbeat:     10,
	ChannelPerformance:   100,
	ChannelLogs:          2000,
}

// channelForType routes an event type to its channel
var channelForType = map[types.EventType]string{
	types.EventAgentStatus:      ChannelAgents,
	types.EventTaskUpdate:       ChannelTasks,
	types.EventMetricsData:      ChannelMetrics,
	types.EventSystemAlert:      ChannelAlerts,
	types.EventCollaboration:    ChannelCollaboration,
	types.EventBroadcast:        ChannelBroadcast,
	types.EventHeartbeat:        ChannelHeartbeat,
	types.EventPerformanceAlert: ChannelPerformance,
	types.EventLogMessage:       ChannelLogs,
}

// Channels returns all known channel names
func Channels() []string {
	return []string{
		ChannelAgents, ChannelTasks, ChannelMetrics, ChannelAlerts,
		ChannelCollaboration, ChannelBroadcast, ChannelHeartbeat,
		ChannelPerformance, ChannelLogs,
	}
}

// ChannelFor returns the channel an event type is published on
func ChannelFor(t types.EventType) (string, bool) {
	ch, ok := channelForType[t]
	return ch, ok
}

// BufferSize returns the replay buffer cap for a channel (0 if unknown)
func BufferSize(channel string) int64 {
	return bufferSizes[channel]
}
