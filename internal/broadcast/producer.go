// ABOUTME: Producer loop pulling tracks from the supplier into the ring buffer
// ABOUTME: Paces chunk writes near real time and records where each track begins
package broadcast

import (
	"context"
	"time"

	"github.com/harperreed/needle/internal/track"
)

// produce alternates between fetching a track and streaming its bytes
// until ctx is cancelled or the station is stopped
func (s *Station) produce(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.log.Info().Msg("producer started")
	defer s.log.Info().Msg("producer exiting")

	var notBefore time.Time
	for !s.shouldStop(ctx) {
		// One request per track length, whatever the buffer fill rate
		if wait := time.Until(notBefore); wait > 0 {
			s.sleep(ctx, min(wait, s.cfg.WaitInterval))
			continue
		}

		t, err := s.supplier.NextTrack(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.observer.SupplierError(err)
			s.log.Error().Err(err).Dur("retry_in", s.cfg.WaitInterval).Msg("error fetching track")
			s.sleep(ctx, s.cfg.WaitInterval)
			continue
		}

		info := t.Info()
		if info.BitrateKbps <= 0 {
			info.BitrateKbps = track.FallbackBitrateKbps
		}
		s.publish(info)

		notBefore = time.Now().Add(info.Duration())
		if now := time.Now(); notBefore.Before(now) {
			notBefore = now
		}

		data, err := t.Download(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.observer.SupplierError(err)
			s.log.Error().Err(err).Str("track", info.ID).Msg("failed to fetch track bytes, skipping")
			continue
		}

		s.log.Info().
			Str("track", info.ID).
			Str("title", info.Label()).
			Int("bytes", len(data)).
			Int("bitrate_kbps", info.BitrateKbps).
			Msg("streaming track")
		s.observer.TrackStarted(info)
		s.stream(ctx, info, data)
	}
}

// publish replaces the current metadata. Its start position stays pending
// until the first chunk of the track is written.
func (s *Station) publish(info track.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = &info
	s.metaPending = true
}

// stream slices data into chunks and writes them at the fill pace
func (s *Station) stream(ctx context.Context, info track.Info, data []byte) {
	first := true
	for pos := 0; pos < len(data); {
		if s.shouldStop(ctx) {
			return
		}

		end := min(pos+s.cfg.ChunkSize, len(data))
		chunk := data[pos:end]
		pos = end

		s.mu.Lock()
		overflow := s.buf.Write(chunk)
		if overflow > 0 {
			s.baseIndex += int64(overflow)
			s.log.Debug().Int("dropped", overflow).Int64("base_index", s.baseIndex).Msg("buffer overflowed")
		}
		if first {
			s.metaStart = s.serverPos()
			s.metaThreshold = int64(info.BitrateKbps) * 1000 / 8 * int64(s.cfg.LeadSeconds)
			s.metaPending = false
			s.log.Debug().
				Int64("meta_start", s.metaStart).
				Int64("threshold", s.metaThreshold).
				Int("bitrate_kbps", info.BitrateKbps).
				Msg("track position recorded")
			first = false
		}
		s.observer.ChunkWritten(len(chunk), overflow)
		s.mu.Unlock()

		s.notifier.Request()

		s.sleep(ctx, s.cfg.FillInterval)
	}
}

// shouldStop reports whether the producer must exit
func (s *Station) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// sleep pauses for d or until ctx is cancelled
func (s *Station) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
