// ABOUTME: JSON status endpoint
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/version"
)

// Status is the /api/status document
type Status struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Uptime    float64           `json:"uptime_seconds"`
	Station   broadcast.Status  `json:"station"`
	Listeners []ListenerInfo    `json:"listeners"`
	Notifier  map[string]uint64 `json:"notifier"`
}

// Status returns the current server status
func (s *Server) Status() Status {
	stats := s.station.Notifier().Stats()
	return Status{
		Name:      s.config.Name,
		Version:   version.Version,
		Uptime:    time.Since(s.startTime).Seconds(),
		Station:   s.station.Snapshot(),
		Listeners: s.Listeners(),
		Notifier: map[string]uint64{
			"immediate": stats.Immediate,
			"delayed":   stats.Delayed,
			"coalesced": stats.Coalesced,
		},
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		log.Debug().Err(err).Msg("failed to write status")
	}
}
