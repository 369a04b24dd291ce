// ABOUTME: MP3 probing for track duration and average bitrate
// ABOUTME: Falls back to fixed values when the stream cannot be decoded
package library

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/harperreed/needle/internal/track"
)

// pcmFrameBytes is the decoder's output frame size: 16-bit stereo
const pcmFrameBytes = 4

// Probe holds the measured length and bitrate of a track
type Probe struct {
	DurationMS  int
	BitrateKbps int
}

var fallbackProbe = Probe{
	DurationMS:  track.FallbackDurationMS,
	BitrateKbps: track.FallbackBitrateKbps,
}

// ProbeFile measures an MP3 file on disk
func ProbeFile(path string) (Probe, error) {
	f, err := os.Open(path)
	if err != nil {
		return fallbackProbe, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fallbackProbe, err
	}
	return probe(f, st.Size())
}

// ProbeBytes measures an in-memory MP3 payload
func ProbeBytes(data []byte) (Probe, error) {
	return probe(bytes.NewReader(data), int64(len(data)))
}

func probe(r io.ReadSeeker, size int64) (Probe, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return fallbackProbe, fmt.Errorf("failed to decode MP3: %w", err)
	}

	samples := decoder.Length() / pcmFrameBytes
	if samples <= 0 || decoder.SampleRate() <= 0 {
		return fallbackProbe, fmt.Errorf("unknown MP3 length")
	}

	durationMS := int(samples * 1000 / int64(decoder.SampleRate()))
	if durationMS <= 0 {
		return fallbackProbe, fmt.Errorf("MP3 too short")
	}
	return Probe{DurationMS: durationMS, BitrateKbps: bitrateFor(size, durationMS)}, nil
}

// bitrateFor averages size over duration in kilobits per second
func bitrateFor(size int64, durationMS int) int {
	if durationMS <= 0 {
		return track.FallbackBitrateKbps
	}
	kbps := int(size * 8 / int64(durationMS))
	if kbps <= 0 {
		return track.FallbackBitrateKbps
	}
	return kbps
}
