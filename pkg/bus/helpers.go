package bus

import (
	"context"

	"github.com/droverhq/drover/pkg/types"
)

// PublishAgentStatus publishes a worker status change on the agents channel
func (b *Bus) PublishAgentStatus(ctx context.Context, workerID string, status types.WorkerStatus, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"agent_id": workerID,
		"status":   string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	evt := types.NewEvent(types.EventAgentStatus, workerID, data)
	return b.Publish(ctx, evt)
}

// PublishTaskUpdate publishes a task lifecycle change on the tasks channel
func (b *Bus) PublishTaskUpdate(ctx context.Context, source, taskID string, status types.TaskStatus, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"task_id": taskID,
		"status":  string(status),
	}
	for k, v := range extra {
		data[k] = v
	}
	evt := types.NewEvent(types.EventTaskUpdate, source, data)
	if status == types.TaskStatusFailed {
		evt.Priority = types.PriorityHigh
	}
	return b.Publish(ctx, evt)
}

// PublishMetrics publishes a metrics sample on the metrics channel
func (b *Bus) PublishMetrics(ctx context.Context, source string, sample map[string]interface{}) error {
	evt := types.NewEvent(types.EventMetricsData, source, sample)
	evt.Priority = types.PriorityLow
	return b.Publish(ctx, evt)
}

// PublishSystemAlert publishes an operator alert on the alerts channel
func (b *Bus) PublishSystemAlert(ctx context.Context, source, severity, message string, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"severity": severity,
		"message":  message,
	}
	for k, v := range extra {
		data[k] = v
	}
	evt := types.NewEvent(types.EventSystemAlert, source, data)
	switch severity {
	case "critical":
		evt.Priority = types.PriorityCritical
	case "error", "warning":
		evt.Priority = types.PriorityHigh
	default:
		evt.Priority = types.PriorityMedium
	}
	return b.Publish(ctx, evt)
}

// PublishCollaboration publishes a collaboration action between an
// actor and a target (agent handoffs, shared-context updates)
func (b *Bus) PublishCollaboration(ctx context.Context, source, userID, target, action string, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"user_id": userID,
		"target":  target,
		"action":  action,
	}
	for k, v := range extra {
		data[k] = v
	}
	return b.Publish(ctx, types.NewEvent(types.EventCollaboration, source, data))
}

// PublishBroadcast publishes an operator broadcast to all clients
func (b *Bus) PublishBroadcast(ctx context.Context, source, message string, targets []string) error {
	evt := types.NewEvent(types.EventBroadcast, source, map[string]interface{}{
		"message": message,
	})
	evt.TargetClients = targets
	evt.Priority = types.PriorityHigh
	return b.Publish(ctx, evt)
}

// PublishPerformanceAlert publishes a worker performance warning
func (b *Bus) PublishPerformanceAlert(ctx context.Context, source, workerID, message string, extra map[string]interface{}) error {
	data := map[string]interface{}{
		"agent_id": workerID,
		"message":  message,
	}
	for k, v := range extra {
		data[k] = v
	}
	evt := types.NewEvent(types.EventPerformanceAlert, source, data)
	evt.Priority = types.PriorityHigh
	return b.Publish(ctx, evt)
}

// PublishLog publishes a structured log line on the logs channel
func (b *Bus) PublishLog(ctx context.Context, source, level, message string, fields map[string]interface{}) error {
	data := map[string]interface{}{
		"level":   level,
		"message": message,
	}
	for k, v := range fields {
		data[k] = v
	}
	evt := types.NewEvent(types.EventLogMessage, source, data)
	evt.Priority = types.PriorityLow
	return b.Publish(ctx, evt)
}
