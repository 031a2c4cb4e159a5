package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 90 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
	// The dashboard is served from arbitrary origins in development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is the superset of all client messages
type wsInbound struct {
	Type        string                 `json:"type"`
	Channels    []string               `json:"channels,omitempty"`
	Types       []string               `json:"event_types,omitempty"`
	MinPriority int                    `json:"min_priority,omitempty"`
	AgentIDs    []string               `json:"agent_ids,omitempty"`
	DataFilters map[string]interface{} `json:"data_filters,omitempty"`
	Compression *bool                  `json:"compression,omitempty"`
	Event       *types.Event           `json:"event,omitempty"`
}

// wsOutbound frames every server message
type wsOutbound struct {
	Type      string       `json:"type"`
	Event     *types.Event `json:"event,omitempty"`
	Filters   *Filters     `json:"filters,omitempty"`
	Message   string       `json:"message,omitempty"`
	Success   *bool        `json:"success,omitempty"`
	EventID   string       `json:"event_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// wsSession is one WebSocket client: the registered connection plus the
// serialized write path
type wsSession struct {
	manager *Manager
	conn    *Connection
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// WebSocketHandler upgrades the request and runs the bidirectional
// message loops
func (m *Manager) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := m.Register(TransportWebSocket, bufferSize(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.Unregister(conn.ID)
			m.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		conn.SetFilters(filtersFromQuery(r))
		if r.URL.Query().Get("compression") == "true" {
			conn.SetCompression(true)
			ws.EnableWriteCompression(true)
		}

		sess := &wsSession{manager: m, conn: conn, ws: ws}
		defer func() {
			m.Unregister(conn.ID)
			ws.Close()
		}()

		sess.send(wsOutbound{
			Type:    "connection_established",
			Event:   connectionEvent(conn),
			Message: conn.ID,
		})

		if n := replayCount(r, m.cfg.ReplayCount); n > 0 {
			m.Replay(r.Context(), conn, n)
		}

		stopWriter := make(chan struct{})
		var writerDone sync.WaitGroup
		writerDone.Add(1)
		go func() {
			defer writerDone.Done()
			sess.writeLoop(stopWriter)
		}()

		sess.readLoop()
		close(stopWriter)
		writerDone.Wait()
	}
}

// writeLoop forwards queued events and keeps the connection alive with
// control pings
func (s *wsSession) writeLoop(stop <-chan struct{}) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case evt := <-s.conn.Events():
			if err := s.send(wsOutbound{Type: "event", Event: evt}); err != nil {
				return
			}
			s.conn.sent.Add(1)
			metrics.StreamEventsSent.WithLabelValues(TransportWebSocket).Inc()
		case <-ping.C:
			s.writeMu.Lock()
			err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			s.writeMu.Lock()
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			return
		case <-s.manager.stopCh:
			return
		}
	}
}

// readLoop consumes client messages until the connection drops
func (s *wsSession) readLoop() {
	s.ws.SetReadLimit(64 * 1024)
	_ = s.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(wsPongTimeout))
		s.dispatch(raw)
	}
}

// dispatch handles one client message
func (s *wsSession) dispatch(raw []byte) {
	var msg wsInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError("malformed message: " + err.Error())
		return
	}

	switch msg.Type {
	case "ping":
		s.send(wsOutbound{Type: "pong"})

	case "subscribe":
		s.conn.AddChannels(msg.Channels)
		f := s.conn.Filters()
		s.send(wsOutbound{Type: "subscription_updated", Filters: &f})

	case "unsubscribe":
		s.conn.RemoveChannels(msg.Channels)
		f := s.conn.Filters()
		s.send(wsOutbound{Type: "subscription_updated", Filters: &f})

	case "configure":
		f := s.conn.Filters()
		if len(msg.Types) > 0 {
			f.Types = f.Types[:0]
			for _, t := range msg.Types {
				f.Types = append(f.Types, types.EventType(t))
			}
		}
		if msg.MinPriority > 0 {
			f.MinPriority = types.EventPriority(msg.MinPriority)
		}
		if len(msg.AgentIDs) > 0 {
			f.AgentIDs = msg.AgentIDs
		}
		if msg.DataFilters != nil {
			f.DataFilters = msg.DataFilters
		}
		s.conn.SetFilters(f)
		if msg.Compression != nil {
			s.conn.SetCompression(*msg.Compression)
			s.ws.EnableWriteCompression(*msg.Compression)
		}
		f = s.conn.Filters()
		s.send(wsOutbound{Type: "configuration_updated", Filters: &f})

	case "publish":
		s.handlePublish(msg.Event)

	default:
		s.sendError("unknown message type: " + msg.Type)
	}
}

// handlePublish lets dashboard clients inject events (collaboration,
// broadcasts) onto the bus
func (s *wsSession) handlePublish(evt *types.Event) {
	ok := false
	defer func() {
		id := ""
		if evt != nil {
			id = evt.ID
		}
		s.send(wsOutbound{Type: "publish_result", Success: &ok, EventID: id})
	}()

	if evt == nil {
		return
	}
	if evt.Source == "" {
		evt.Source = "client_" + s.conn.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.manager.bus.Publish(ctx, evt); err != nil {
		s.manager.logger.Warn().Err(err).Str("connection_id", s.conn.ID).Msg("client publish rejected")
		return
	}
	ok = true
}

// send serializes a frame onto the socket
func (s *wsSession) send(msg wsOutbound) error {
	msg.Timestamp = time.Now().UTC()
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, raw)
}

func (s *wsSession) sendError(message string) {
	s.send(wsOutbound{Type: "error", Message: message})
}

// ChannelsForTypes resolves event types to their bus channels; used by
// clients that subscribe by type rather than channel
func ChannelsForTypes(eventTypes []types.EventType) []string {
	seen := make(map[string]bool)
	var channels []string
	for _, t := range eventTypes {
		if ch, ok := bus.ChannelFor(t); ok && !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	return channels
}
