// ABOUTME: Per-listener cursor over the shared ring buffer
// ABOUTME: Joins at the live edge and jumps forward when it falls behind
package broadcast

import "context"

// Reader follows the station from its own absolute position.
// A Reader is not safe for concurrent use.
type Reader struct {
	station *Station
	cursor  int64

	resyncs int
	dropped int64
}

// NewReader returns a reader positioned at the live edge
func (s *Station) NewReader() *Reader {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Reader{station: s, cursor: s.serverPos()}
	s.log.Debug().Int64("cursor", r.cursor).Msg("reader joined")
	return r
}

// Next blocks until bytes past the cursor are available and returns up to
// one chunk of them. It returns ErrStopped once the station stops and the
// context error when ctx ends.
func (r *Reader) Next(ctx context.Context) ([]byte, error) {
	s := r.station
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopped {
			return nil, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		length := int64(s.buf.Len())
		rel := r.cursor - s.baseIndex
		if rel < 0 || rel > length {
			// Overwritten or from a previous session: skip to live
			live := s.baseIndex + length
			var gap int64
			if rel < 0 {
				gap = s.baseIndex - r.cursor
			}
			r.cursor = live
			rel = length
			r.resyncs++
			r.dropped += gap
			s.observer.ReaderResynced(gap)
		}

		if rel == length {
			s.cond.Wait(ctx, s.cfg.SendInterval)
			continue
		}

		chunk := s.buf.ReadAt(int(rel), s.cfg.ChunkSize)
		r.cursor += int64(len(chunk))
		return chunk, nil
	}
}

// Cursor returns the absolute position of the next byte to read
func (r *Reader) Cursor() int64 { return r.cursor }

// Resyncs returns how many times the reader jumped to the live edge and how
// many bytes it skipped doing so
func (r *Reader) Resyncs() (count int, dropped int64) { return r.resyncs, r.dropped }
