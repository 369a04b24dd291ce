// ABOUTME: Registry of connected listeners across all endpoints
// ABOUTME: Feeds the status API, the TUI and the listener gauges
package server

import (
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Listener is one connected client of a streaming endpoint
type Listener struct {
	ID         string
	Kind       string
	RemoteAddr string
	UserAgent  string
	Connected  time.Time

	bytes   atomic.Int64
	resyncs atomic.Int64
	dropped atomic.Int64
	done    func()
}

// ListenerInfo is the JSON view of a listener
type ListenerInfo struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	RemoteAddr   string    `json:"remote_addr"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Connected    time.Time `json:"connected"`
	BytesServed  int64     `json:"bytes_served"`
	Resyncs      int64     `json:"resyncs"`
	DroppedBytes int64     `json:"dropped_bytes"`
}

func (l *Listener) served(n int) {
	l.bytes.Add(int64(n))
}

func (l *Listener) info() ListenerInfo {
	return ListenerInfo{
		ID:           l.ID,
		Kind:         l.Kind,
		RemoteAddr:   l.RemoteAddr,
		UserAgent:    l.UserAgent,
		Connected:    l.Connected,
		BytesServed:  l.bytes.Load(),
		Resyncs:      l.resyncs.Load(),
		DroppedBytes: l.dropped.Load(),
	}
}

func (s *Server) addListener(kind string, r *http.Request) *Listener {
	l := &Listener{
		ID:         uuid.New().String(),
		Kind:       kind,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Connected:  time.Now(),
		done:       func() {},
	}
	if s.metrics != nil {
		l.done = s.metrics.Connected(kind)
	}

	s.listenersMu.Lock()
	s.listeners[l.ID] = l
	s.listenersMu.Unlock()

	s.updateTUI()
	return l
}

func (s *Server) removeListener(l *Listener) {
	s.listenersMu.Lock()
	delete(s.listeners, l.ID)
	s.listenersMu.Unlock()

	l.done()
	s.updateTUI()
}

// Listeners returns connected listeners, oldest first
func (s *Server) Listeners() []ListenerInfo {
	s.listenersMu.RLock()
	out := make([]ListenerInfo, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.info())
	}
	s.listenersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Connected.Before(out[j].Connected) })
	return out
}
