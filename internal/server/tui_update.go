// ABOUTME: TUI update helpers for server
// ABOUTME: Functions to send station state updates to TUI
package server

// updateTUI sends current station state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	st := s.station.Snapshot()
	status := ServerStatus{
		Name:      s.config.Name,
		Port:      s.config.Port,
		ServerPos: st.ServerPos,
		Buffered:  st.Buffered,
		Capacity:  st.Capacity,
		Announced: st.Announced,
		Listeners: s.Listeners(),
	}
	if st.Track != nil {
		status.NowPlaying = st.Track.Label()
	}

	s.tui.Update(status)
}
