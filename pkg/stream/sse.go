package stream

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// sseRetryMillis tells clients how long to wait before reconnecting
const sseRetryMillis = 3000

// flusher pairs a writer with its flush, so the plain and gzip paths
// share one write loop
type flusher interface {
	io.Writer
	Flush() error
}

type plainFlusher struct {
	w http.ResponseWriter
	f http.Flusher
}

func (p plainFlusher) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p plainFlusher) Flush() error                { p.f.Flush(); return nil }

type gzipFlusher struct {
	gz *gzip.Writer
	f  http.Flusher
}

func (g gzipFlusher) Write(b []byte) (int, error) { return g.gz.Write(b) }
func (g gzipFlusher) Flush() error {
	if err := g.gz.Flush(); err != nil {
		return err
	}
	g.f.Flush()
	return nil
}

// SSEHandler streams filtered events as Server-Sent Events
func (m *Manager) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hf, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		conn, err := m.Register(TransportSSE, bufferSize(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer m.Unregister(conn.ID)

		conn.SetFilters(filtersFromQuery(r))
		conn.SetCompression(r.URL.Query().Get("compression") == "true")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		var out flusher = plainFlusher{w: w, f: hf}
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			out = gzipFlusher{gz: gz, f: hf}
		}
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(out, "retry: %d\n\n", sseRetryMillis)
		m.writeSSEEvent(out, conn, connectionEvent(conn))
		if err := out.Flush(); err != nil {
			return
		}

		if n := replayCount(r, m.cfg.ReplayCount); n > 0 {
			m.Replay(r.Context(), conn, n)
		}

		for {
			select {
			case evt := <-conn.Events():
				if err := m.writeSSEEvent(out, conn, evt); err != nil {
					return
				}
				if err := out.Flush(); err != nil {
					return
				}
				conn.sent.Add(1)
				metrics.StreamEventsSent.WithLabelValues(TransportSSE).Inc()
			case <-r.Context().Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

// compressionMinSize is the payload size below which per-connection
// compression is not worth the frame overhead
const compressionMinSize = 1024

// writeSSEEvent frames one event: event/id/data lines and a blank line.
// Connections that opted in get large payloads gzipped and base64-framed.
func (m *Manager) writeSSEEvent(w io.Writer, conn *Connection, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		m.logger.Warn().Err(err).Str("event_id", evt.ID).Msg("failed to marshal event for SSE")
		return nil
	}
	if conn.Compressed() && len(data) >= compressionMinSize {
		if packed, err := packPayload(data); err == nil {
			data = packed
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", evt.Type, evt.ID, data)
	return err
}

// packPayload wraps a gzipped payload in a small envelope the dashboard
// client knows how to unpack
func packPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"compressed": true,
		"encoding":   "gzip+base64",
		"payload":    base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// connectionEvent announces the assigned connection ID to the client
func connectionEvent(conn *Connection) *types.Event {
	evt := types.NewEvent("connection_established", "stream", map[string]interface{}{
		"connection_id": conn.ID,
		"transport":     conn.Transport,
		"timestamp":     conn.CreatedAt.Format(time.RFC3339),
	})
	evt.Priority = types.PriorityLow
	return evt
}

// filtersFromQuery parses the subscription filters off the query string
func filtersFromQuery(r *http.Request) Filters {
	q := r.URL.Query()
	f := Filters{}

	if raw := q.Get("channels"); raw != "" {
		f.Channels = strings.Split(raw, ",")
	}
	// "types" is the legacy spelling still used by older dashboards
	raw := q.Get("event_types")
	if raw == "" {
		raw = q.Get("types")
	}
	if raw != "" {
		for _, t := range strings.Split(raw, ",") {
			f.Types = append(f.Types, types.EventType(t))
		}
	}
	if raw := q.Get("min_priority"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			f.MinPriority = types.EventPriority(p)
		}
	}
	if raw := q.Get("agent_ids"); raw != "" {
		f.AgentIDs = strings.Split(raw, ",")
	}
	return f
}

// bufferSize reads the client's requested queue depth; zero means the
// server default
func bufferSize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("buffer_size"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// replayCount bounds the client's requested backfill by the configured cap
func replayCount(r *http.Request, max int) int {
	raw := r.URL.Query().Get("replay")
	if raw == "" {
		return max
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return max
	}
	if n > max {
		return max
	}
	return n
}
