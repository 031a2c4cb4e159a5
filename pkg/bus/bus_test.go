package bus

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

func newTestBus(t *testing.T) (*Bus, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	b := New(st, config.BusConfig{
		Retention:          time.Hour,
		EnableCompression:  false,
		CompressionMinSize: 1024,
	})
	return b, st
}

func TestPublishRoutesToChannel(t *testing.T) {
	ctx := context.Background()
	b, st := newTestBus(t)

	sub, err := st.Subscribe(ctx, ChannelTasks)
	require.NoError(t, err)
	defer sub.Close()

	evt := types.NewEvent(types.EventTaskUpdate, "scheduler", map[string]interface{}{
		"task_id": "task-1",
		"status":  "pending",
	})
	require.NoError(t, b.Publish(ctx, evt))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, ChannelTasks, msg.Channel)
		decoded, err := Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, evt.ID, decoded.ID)
		assert.Equal(t, types.EventTaskUpdate, decoded.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishRejectsUnknownType(t *testing.T) {
	b, _ := newTestBus(t)
	evt := types.NewEvent("made_up_type", "test", nil)
	err := b.Publish(context.Background(), evt)
	assert.ErrorContains(t, err, "no channel for event type")
}

func TestPublishFillsDefaults(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	evt := &types.Event{Type: types.EventHeartbeat, Source: "test", Data: map[string]interface{}{}}
	require.NoError(t, b.Publish(ctx, evt))

	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, types.PriorityMedium, evt.Priority)
}

func TestRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	for i := 0; i < 3; i++ {
		evt := types.NewEvent(types.EventAgentStatus, "worker-1", map[string]interface{}{
			"agent_id": "worker-1",
			"seq":      float64(i),
		})
		require.NoError(t, b.Publish(ctx, evt))
	}

	events, err := b.Recent(ctx, ChannelAgents, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, float64(2), events[0].Data["seq"])
	assert.Equal(t, float64(0), events[2].Data["seq"])

	// Limit honored
	events, err = b.Recent(ctx, ChannelAgents, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecentSkipsExpired(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	fresh := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "warning"})
	require.NoError(t, b.Publish(ctx, fresh))

	stale := types.NewEvent(types.EventSystemAlert, "monitor", map[string]interface{}{"severity": "info"})
	past := time.Now().Add(-time.Minute)
	stale.ExpiresAt = &past
	require.NoError(t, b.Publish(ctx, stale))

	events, err := b.Recent(ctx, ChannelAlerts, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fresh.ID, events[0].ID)
}

func TestBufferCapEnforced(t *testing.T) {
	ctx := context.Background()
	b, st := newTestBus(t)

	// Heartbeat buffer caps at 10
	for i := 0; i < 25; i++ {
		evt := types.NewEvent(types.EventHeartbeat, "monitor", nil)
		require.NoError(t, b.Publish(ctx, evt))
	}

	n, err := st.LLen(ctx, "buffer:heartbeat")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestSubscribeDecodes(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	stream, err := b.Subscribe(ctx, ChannelTasks, ChannelAgents)
	require.NoError(t, err)
	defer stream.Close()

	evt := types.NewEvent(types.EventTaskUpdate, "scheduler", map[string]interface{}{"task_id": "t-1"})
	require.NoError(t, b.Publish(ctx, evt))

	select {
	case got := <-stream.Events():
		assert.Equal(t, evt.ID, got.ID)
		assert.Equal(t, "t-1", got.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded event")
	}
}

func TestStatsCountPublishes(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	require.NoError(t, b.Publish(ctx, types.NewEvent(types.EventTaskUpdate, "s", nil)))
	require.NoError(t, b.Publish(ctx, types.NewEvent(types.EventTaskUpdate, "s", nil)))
	require.NoError(t, b.Publish(ctx, types.NewEvent(types.EventAgentStatus, "s", nil)))

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.PublishedByChannel[ChannelTasks])
	assert.Equal(t, int64(1), stats.PublishedByChannel[ChannelAgents])
	assert.Equal(t, int64(0), stats.PublishFailures)
}

func TestTrimTimeline(t *testing.T) {
	ctx := context.Background()
	b, st := newTestBus(t)

	// Old entry directly on the timeline
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, st.ZAdd(ctx, TimelineKey, float64(old), "old-entry"))

	require.NoError(t, b.Publish(ctx, types.NewEvent(types.EventTaskUpdate, "s", nil)))
	require.NoError(t, b.TrimTimeline(ctx))

	n, err := st.ZCard(ctx, TimelineKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCodecCompressionRoundTrip(t *testing.T) {
	evt := types.NewEvent(types.EventLogMessage, "worker-1", map[string]interface{}{
		"message": strings.Repeat("inference step completed. ", 200),
	})

	payload, err := Encode(evt, true, 1024)
	require.NoError(t, err)
	assert.True(t, IsCompressed([]byte(payload)), "large payload should be gzipped")

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, evt.Data["message"], decoded.Data["message"])
}

func TestCodecSmallPayloadUncompressed(t *testing.T) {
	evt := types.NewEvent(types.EventHeartbeat, "monitor", nil)

	payload, err := Encode(evt, true, 1024)
	require.NoError(t, err)
	assert.False(t, IsCompressed([]byte(payload)))

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
}

func TestChannelForCoversAllTypes(t *testing.T) {
	for _, typ := range []types.EventType{
		types.EventAgentStatus, types.EventTaskUpdate, types.EventMetricsData,
		types.EventSystemAlert, types.EventCollaboration, types.EventBroadcast,
		types.EventHeartbeat, types.EventPerformanceAlert, types.EventLogMessage,
	} {
		ch, ok := ChannelFor(typ)
		assert.True(t, ok, "type %s has no channel", typ)
		assert.Positive(t, BufferSize(ch), "channel %s has no buffer size", ch)
	}
}

func TestPublishCollaborationHelper(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	stream, err := b.Subscribe(ctx, ChannelCollaboration)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, b.PublishCollaboration(ctx, "api", "user-7", "agent-3", "handoff", map[string]interface{}{
		"context_id": "ctx-1",
	}))

	select {
	case evt := <-stream.Events():
		assert.Equal(t, types.EventCollaboration, evt.Type)
		assert.Equal(t, "user-7", evt.Data["user_id"])
		assert.Equal(t, "agent-3", evt.Data["target"])
		assert.Equal(t, "ctx-1", evt.Data["context_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for collaboration event")
	}
}
