package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// ErrTooManyConnections is returned when the connection cap is reached
var ErrTooManyConnections = errors.New("stream connection limit reached")

// Manager owns the set of streaming connections and fans aggregated
// events out to them. It is the sink at the end of the bus → aggregator
// pipeline.
type Manager struct {
	bus    *bus.Bus
	cfg    config.StreamConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager creates a stream manager over the event bus
func NewManager(b *bus.Bus, cfg config.StreamConfig) *Manager {
	return &Manager{
		bus:    b,
		cfg:    cfg,
		logger: log.WithComponent("stream"),
		conns:  make(map[string]*Connection),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the heartbeat loop
func (m *Manager) Start() {
	go m.heartbeatLoop()
}

// Stop halts the heartbeat loop. Transports close their own connections.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Register admits a new streaming connection. bufferSize is the client's
// requested queue depth; zero takes the default sized off the replay cap.
func (m *Manager) Register(transport string, bufferSize int) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxConnections > 0 && len(m.conns) >= m.cfg.MaxConnections {
		return nil, ErrTooManyConnections
	}

	if bufferSize <= 0 {
		bufferSize = 2 * m.cfg.ReplayCount
	}
	conn := newConnection(transport, bufferSize)
	m.conns[conn.ID] = conn
	metrics.StreamConnections.WithLabelValues(transport).Inc()

	m.logger.Info().
		Str("connection_id", conn.ID).
		Str("transport", transport).
		Int("total", len(m.conns)).
		Msg("stream connection opened")
	return conn, nil
}

// Unregister removes a connection from the fan-out set
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	total := len(m.conns)
	m.mu.Unlock()
	if !ok {
		return
	}

	metrics.StreamConnections.WithLabelValues(conn.Transport).Dec()
	m.logger.Info().
		Str("connection_id", id).
		Str("transport", conn.Transport).
		Int64("sent", conn.sent.Load()).
		Int64("dropped", conn.dropped.Load()).
		Int("total", total).
		Msg("stream connection closed")
}

// Dispatch offers an event to every matching connection. This is the
// aggregator's sink.
func (m *Manager) Dispatch(evt *types.Event) {
	if evt == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.conns {
		if conn.Matches(evt) {
			conn.Offer(evt)
		}
	}
}

// Replay backfills a fresh connection with recent events from the
// channel buffers, oldest first, honoring the connection's filters.
func (m *Manager) Replay(ctx context.Context, conn *Connection, n int) {
	if n <= 0 {
		return
	}

	channels := conn.Filters().Channels
	if len(channels) == 0 {
		channels = bus.Channels()
	}

	var backlog []*types.Event
	for _, channel := range channels {
		events, err := m.bus.Recent(ctx, channel, int64(n))
		if err != nil {
			m.logger.Warn().Err(err).Str("channel", channel).Msg("replay read failed")
			continue
		}
		for _, evt := range events {
			if conn.Matches(evt) {
				backlog = append(backlog, evt)
			}
		}
	}

	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].Timestamp.Before(backlog[j].Timestamp)
	})
	if len(backlog) > n {
		backlog = backlog[len(backlog)-n:]
	}
	for _, evt := range backlog {
		conn.Offer(evt)
	}
}

// heartbeatLoop sends each connection a liveness event so idle streams
// do not look dead to proxies or clients
func (m *Manager) heartbeatLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			m.mu.RLock()
			for _, conn := range m.conns {
				evt := types.NewEvent(types.EventHeartbeat, "stream", map[string]interface{}{
					"timestamp":     now.Format(time.RFC3339),
					"connection_id": conn.ID,
				})
				evt.Priority = types.PriorityLow
				conn.Offer(evt)
			}
			m.mu.RUnlock()
		case <-m.stopCh:
			return
		}
	}
}

// ManagerStats aggregates per-connection statistics for the stats API
type ManagerStats struct {
	Connections  int            `json:"connections"`
	ByTransport  map[string]int `json:"by_transport"`
	TotalSent    int64          `json:"total_sent"`
	TotalDropped int64          `json:"total_dropped"`
	PerConn      []Stats        `json:"per_connection"`
}

// Stats snapshots the whole fan-out layer
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		Connections: len(m.conns),
		ByTransport: make(map[string]int),
	}
	for _, conn := range m.conns {
		snap := conn.Stats()
		stats.ByTransport[conn.Transport]++
		stats.TotalSent += snap.Sent
		stats.TotalDropped += snap.Dropped
		stats.PerConn = append(stats.PerConn, snap)
	}
	sort.Slice(stats.PerConn, func(i, j int) bool {
		return stats.PerConn[i].ConnectedAt.Before(stats.PerConn[j].ConnectedAt)
	})
	return stats
}
