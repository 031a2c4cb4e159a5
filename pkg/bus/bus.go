package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

// TimelineKey is the 24h sorted-set index of all published events
const TimelineKey = "event_timeline"

// TimelineWindow is how far back the timeline index is kept
const TimelineWindow = 24 * time.Hour

func bufferKey(channel string) string {
	return "buffer:" + channel
}

// Bus publishes events to the shared store's pub/sub channels and maintains
// per-channel replay buffers so late subscribers can catch up.
type Bus struct {
	store  store.Store
	cfg    config.BusConfig
	logger zerolog.Logger

	mu        sync.Mutex
	published map[string]int64
	failed    int64
}

// New creates a bus on top of the shared store
func New(st store.Store, cfg config.BusConfig) *Bus {
	return &Bus{
		store:     st,
		cfg:       cfg,
		logger:    log.WithComponent("bus"),
		published: make(map[string]int64),
	}
}

// Publish routes an event to its channel, appends it to the channel's replay
// buffer, and indexes it on the timeline. Events with unknown types are
// rejected rather than silently dropped.
func (b *Bus) Publish(ctx context.Context, evt *types.Event) error {
	if evt.ID == "" || evt.Timestamp.IsZero() {
		filled := types.NewEvent(evt.Type, evt.Source, evt.Data)
		if evt.ID == "" {
			evt.ID = filled.ID
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = filled.Timestamp
		}
	}
	if evt.Priority == 0 {
		evt.Priority = types.PriorityMedium
	}

	channel, ok := ChannelFor(evt.Type)
	if !ok {
		return fmt.Errorf("no channel for event type %s", evt.Type)
	}

	payload, err := Encode(evt, b.cfg.EnableCompression, b.cfg.CompressionMinSize)
	if err != nil {
		b.recordFailure()
		return err
	}

	if err := b.store.Publish(ctx, channel, payload); err != nil {
		b.recordFailure()
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}

	// Replay buffer: newest first, capped per channel, expiring with the
	// retention window so idle channels do not hold stale events forever.
	bkey := bufferKey(channel)
	if err := b.store.LPush(ctx, bkey, payload); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("failed to buffer event")
	} else {
		if size := BufferSize(channel); size > 0 {
			_ = b.store.LTrim(ctx, bkey, 0, size-1)
		}
		_ = b.store.Expire(ctx, bkey, b.cfg.Retention)
	}

	if err := b.store.ZAdd(ctx, TimelineKey, float64(evt.Timestamp.UnixMilli()), payload); err != nil {
		b.logger.Warn().Err(err).Msg("failed to index event on timeline")
	}

	b.mu.Lock()
	b.published[channel]++
	b.mu.Unlock()
	metrics.EventsPublished.WithLabelValues(channel).Inc()

	b.logger.Debug().
		Str("event_id", evt.ID).
		Str("type", string(evt.Type)).
		Str("channel", channel).
		Msg("event published")
	return nil
}

// Recent returns up to n buffered events for a channel, newest first.
// Expired and undecodable entries are skipped.
func (b *Bus) Recent(ctx context.Context, channel string, n int64) ([]*types.Event, error) {
	if n <= 0 {
		return nil, nil
	}
	payloads, err := b.store.LRange(ctx, bufferKey(channel), 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer for %s: %w", channel, err)
	}

	now := time.Now()
	events := make([]*types.Event, 0, len(payloads))
	for _, p := range payloads {
		evt, err := Decode(p)
		if err != nil {
			b.logger.Warn().Err(err).Str("channel", channel).Msg("skipping undecodable buffered event")
			continue
		}
		if evt.Expired(now) {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// TrimTimeline drops timeline entries older than the retention window.
// Called from the periodic cleanup sweep.
func (b *Bus) TrimTimeline(ctx context.Context) error {
	cutoff := time.Now().Add(-TimelineWindow).UnixMilli()
	if err := b.store.ZRemoveByScore(ctx, TimelineKey, 0, float64(cutoff)); err != nil {
		return fmt.Errorf("failed to trim event timeline: %w", err)
	}
	return nil
}

// Stats is a snapshot of bus publish counters
type Stats struct {
	PublishedByChannel map[string]int64 `json:"published_by_channel"`
	PublishFailures    int64            `json:"publish_failures"`
}

// Stats returns a copy of the publish counters
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	byChannel := make(map[string]int64, len(b.published))
	for ch, n := range b.published {
		byChannel[ch] = n
	}
	return Stats{PublishedByChannel: byChannel, PublishFailures: b.failed}
}

func (b *Bus) recordFailure() {
	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
	metrics.EventPublishFailures.Inc()
}

// EventStream is a decoded subscription over one or more channels
type EventStream struct {
	events <-chan *types.Event
	sub    store.Subscription
}

// Events returns the decoded event channel. It is closed when the stream
// is closed or the underlying subscription drops.
func (s *EventStream) Events() <-chan *types.Event {
	return s.events
}

// Close tears down the underlying subscription
func (s *EventStream) Close() error {
	return s.sub.Close()
}

// Subscribe opens a decoded event stream over the given channels. With no
// channels given, it subscribes to every known channel.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (*EventStream, error) {
	if len(channels) == 0 {
		channels = Channels()
	}
	sub, err := b.store.Subscribe(ctx, channels...)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to bus channels: %w", err)
	}

	out := make(chan *types.Event, 100)
	go func() {
		defer close(out)
		for msg := range sub.Messages() {
			evt, err := Decode(msg.Payload)
			if err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
				continue
			}
			if evt.Expired(time.Now()) {
				continue
			}
			out <- evt
		}
	}()

	return &EventStream{events: out, sub: sub}, nil
}
