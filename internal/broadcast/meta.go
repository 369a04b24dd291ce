// ABOUTME: Per-listener now-playing stream synchronized with buffered audio
// ABOUTME: Announces a track only after its lead time has entered the buffer
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harperreed/needle/internal/track"
)

// Event is one item of a metadata stream
type Event struct {
	KeepAlive bool
	Info      track.Info
	ServerPos int64
}

// keepAliveFrame is an SSE comment line
var keepAliveFrame = []byte(": keep-alive\n\n")

// SSE renders the event as a server-sent events frame
func (e Event) SSE() ([]byte, error) {
	if e.KeepAlive {
		return keepAliveFrame, nil
	}
	payload, err := json.Marshal(e.Info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return []byte("data: " + string(payload) + "\n\n"), nil
}

// MetaStream yields now-playing announcements for one listener.
// A MetaStream is not safe for concurrent use.
type MetaStream struct {
	station *Station
	last    *track.Info
	idle    time.Duration
}

// NewMetaStream returns a metadata stream that has announced nothing yet
func (s *Station) NewMetaStream() *MetaStream {
	return &MetaStream{station: s}
}

// Next blocks until there is a new announcement or a keep-alive is due
func (m *MetaStream) Next(ctx context.Context) (Event, error) {
	s := m.station
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return Event{}, ErrStopped
		}

		began := time.Now()
		s.cond.Wait(ctx, s.cfg.WaitInterval)

		stopped := s.stopped
		var current *track.Info
		if s.meta != nil && !s.metaPending {
			info := s.meta.Clone()
			current = &info
		}
		start, threshold := s.metaStart, s.metaThreshold
		serverPos := s.serverPos()
		s.mu.Unlock()

		if stopped {
			return Event{}, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		if current != nil && serverPos >= start+threshold {
			if m.last == nil || !current.Equal(*m.last) {
				s.log.Info().
					Str("track", current.ID).
					Int64("server_pos", serverPos).
					Int64("start", start).
					Int64("threshold", threshold).
					Msg("announcing track")
				m.last = current
				m.idle = 0
				return Event{Info: *current, ServerPos: serverPos}, nil
			}
		}

		m.idle += time.Since(began)
		if m.idle >= s.cfg.KeepAliveInterval {
			m.idle = 0
			return Event{KeepAlive: true, ServerPos: serverPos}, nil
		}
	}
}

// Last returns the most recent announcement, if any
func (m *MetaStream) Last() (track.Info, bool) {
	if m.last == nil {
		return track.Info{}, false
	}
	return *m.last, true
}
