// ABOUTME: Track supplier contract consumed by the station producer
// ABOUTME: Defines track metadata, supplier interfaces and the fallback chain
package track

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"sync"
	"time"
)

var (
	// ErrNoTracks means the supplier has no candidates to pick from
	ErrNoTracks = errors.New("no tracks available")

	// ErrUnavailable is a transient failure fetching a track or its bytes
	ErrUnavailable = errors.New("track unavailable")
)

const (
	// FallbackDurationMS is assumed when a track's length cannot be determined
	FallbackDurationMS = 30_000

	// FallbackBitrateKbps is assumed when a track's bitrate cannot be determined
	FallbackBitrateKbps = 128
)

// Info describes a track as announced to listeners
type Info struct {
	ID          string   `json:"id"`
	AlbumID     string   `json:"album_id"`
	Title       string   `json:"title"`
	Artists     []string `json:"artists"`
	CoverURI    string   `json:"cover_uri"`
	DurationMS  int      `json:"duration_ms"`
	BitrateKbps int      `json:"bitrate_kbps"`
}

// Equal reports whether two infos describe the same announcement
func (i Info) Equal(o Info) bool {
	return i.ID == o.ID &&
		i.AlbumID == o.AlbumID &&
		i.Title == o.Title &&
		i.CoverURI == o.CoverURI &&
		i.DurationMS == o.DurationMS &&
		i.BitrateKbps == o.BitrateKbps &&
		slices.Equal(i.Artists, o.Artists)
}

// Clone returns a deep copy
func (i Info) Clone() Info {
	i.Artists = slices.Clone(i.Artists)
	return i
}

// Duration returns the track length
func (i Info) Duration() time.Duration {
	return time.Duration(i.DurationMS) * time.Millisecond
}

// Label renders "Artist, Artist - Title"
func (i Info) Label() string {
	if len(i.Artists) == 0 {
		return i.Title
	}
	label := i.Artists[0]
	for _, a := range i.Artists[1:] {
		label += ", " + a
	}
	return label + " - " + i.Title
}

// Track is a selected track whose audio has not been fetched yet
type Track interface {
	Info() Info
	// Download returns the complete encoded payload
	Download(ctx context.Context) ([]byte, error)
}

// Supplier hands out the next track to stream
type Supplier interface {
	NextTrack(ctx context.Context) (Track, error)
}

// SupplierFunc adapts a function to Supplier
type SupplierFunc func(ctx context.Context) (Track, error)

// NextTrack calls f
func (f SupplierFunc) NextTrack(ctx context.Context) (Track, error) { return f(ctx) }

type fallback struct {
	primary   Supplier
	secondary Supplier
}

// WithFallback uses secondary whenever primary has no candidates
func WithFallback(primary, secondary Supplier) Supplier {
	if secondary == nil {
		return primary
	}
	return &fallback{primary: primary, secondary: secondary}
}

func (f *fallback) NextTrack(ctx context.Context) (Track, error) {
	t, err := f.primary.NextTrack(ctx)
	if errors.Is(err, ErrNoTracks) {
		return f.secondary.NextTrack(ctx)
	}
	return t, err
}

// Picker chooses uniformly among candidates. Safe for concurrent use.
type Picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPicker creates a picker seeded with seed
func NewPicker(seed int64) *Picker {
	return &Picker{rng: rand.New(rand.NewSource(seed))}
}

// Index returns a random index in [0, n)
func (p *Picker) Index(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

// Pick returns a random element of candidates
func Pick[T any](p *Picker, candidates []T) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, ErrNoTracks
	}
	return candidates[p.Index(len(candidates))], nil
}
