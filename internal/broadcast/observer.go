// ABOUTME: Hooks the station calls as it ingests and serves audio
// ABOUTME: Lets the metrics layer watch the engine without the engine importing it
package broadcast

import "github.com/harperreed/needle/internal/track"

// Observer receives station events. Calls are made while the station lock
// may be held, so implementations must not block.
type Observer interface {
	ChunkWritten(n, overflow int)
	TrackStarted(info track.Info)
	SupplierError(err error)
	ReaderResynced(dropped int64)
}

type nopObserver struct{}

func (nopObserver) ChunkWritten(int, int)   {}
func (nopObserver) TrackStarted(track.Info) {}
func (nopObserver) SupplierError(error)     {}
func (nopObserver) ReaderResynced(int64)    {}
