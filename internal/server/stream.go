// ABOUTME: Streaming handlers for audio bytes and now-playing events
// ABOUTME: Each connection owns a station reader or metadata stream
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/metrics"
	"github.com/harperreed/needle/internal/track"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// handleStream relays the live MP3 stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	l := s.addListener(metrics.KindAudio, r)
	defer s.removeListener(l)

	reader := s.station.NewReader()

	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Content-Type-Options", "nosniff")
	if s.config.Name != "" {
		h.Set("icy-name", s.config.Name)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("listener", l.ID).Str("remote", l.RemoteAddr).Int64("cursor", reader.Cursor()).Msg("audio listener connected")
	defer func() {
		resyncs, dropped := reader.Resyncs()
		log.Info().Str("listener", l.ID).Int64("bytes", l.bytes.Load()).Int("resyncs", resyncs).Int64("dropped", dropped).Msg("audio listener disconnected")
	}()

	for {
		chunk, err := reader.Next(r.Context())
		resyncs, dropped := reader.Resyncs()
		l.resyncs.Store(int64(resyncs))
		l.dropped.Store(dropped)
		if err != nil {
			logStreamEnd(l, err)
			return
		}

		n, err := w.Write(chunk)
		l.served(n)
		if s.metrics != nil {
			s.metrics.Served(metrics.KindAudio, n)
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleMeta streams now-playing announcements as server-sent events
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	l := s.addListener(metrics.KindSSE, r)
	defer s.removeListener(l)

	stream := s.station.NewMetaStream()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := stream.Next(r.Context())
		if err != nil {
			logStreamEnd(l, err)
			return
		}

		frame, err := ev.SSE()
		if err != nil {
			log.Error().Err(err).Msg("failed to encode event")
			continue
		}
		n, err := w.Write(frame)
		l.served(n)
		if err != nil {
			return
		}
		flusher.Flush()
		s.delivered(metrics.KindSSE, n, ev)
	}
}

// MetaMessage is the WebSocket encoding of a metadata event
type MetaMessage struct {
	Type      string      `json:"type"`
	Track     *track.Info `json:"track,omitempty"`
	ServerPos int64       `json:"server_pos"`
}

func newMetaMessage(ev broadcast.Event) MetaMessage {
	if ev.KeepAlive {
		return MetaMessage{Type: "keepalive", ServerPos: ev.ServerPos}
	}
	info := ev.Info
	return MetaMessage{Type: "track", Track: &info, ServerPos: ev.ServerPos}
}

// handleMetaWS delivers now-playing announcements over a WebSocket
func (s *Server) handleMetaWS(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	l := s.addListener(metrics.KindWebSocket, r)
	defer s.removeListener(l)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Incoming frames are ignored but must be read for control messages
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("listener", l.ID).Msg("WebSocket read error")
				}
				return
			}
		}
	}()

	events := make(chan broadcast.Event)
	go func() {
		defer close(events)
		stream := s.station.NewMetaStream()
		for {
			ev, err := stream.Next(ctx)
			if err != nil {
				logStreamEnd(l, err)
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "station stopped"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(newMetaMessage(ev)); err != nil {
				log.Debug().Err(err).Str("listener", l.ID).Msg("WebSocket write error")
				return
			}
			s.delivered(metrics.KindWebSocket, 0, ev)

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) delivered(kind string, n int, ev broadcast.Event) {
	if s.metrics == nil {
		return
	}
	if n > 0 {
		s.metrics.Served(kind, n)
	}
	if !ev.KeepAlive {
		s.metrics.Announcements.Inc()
	}
}

func logStreamEnd(l *Listener, err error) {
	switch {
	case errors.Is(err, broadcast.ErrStopped):
		log.Debug().Str("listener", l.ID).Msg("station stopped, closing stream")
	case errors.Is(err, context.Canceled):
	default:
		log.Warn().Err(err).Str("listener", l.ID).Msg("stream ended")
	}
}
