// ABOUTME: Track supplier backed by directories of MP3 files
// ABOUTME: Scans libraries, probes duration and bitrate, registers album covers
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/track"
)

// coverNames are checked in order in each album directory
var coverNames = []string{"cover.jpg", "folder.jpg", "front.jpg", "cover.png", "folder.png"}

// CoverRegistry publishes local cover images
type CoverRegistry interface {
	Register(id, path string) string
}

// Library picks random tracks from a set of directories
type Library struct {
	dirs   []string
	covers CoverRegistry
	picker *track.Picker

	mu     sync.RWMutex
	tracks []*File
}

// Option configures a Library
type Option func(*Library)

// WithCovers publishes album covers found next to tracks
func WithCovers(c CoverRegistry) Option {
	return func(l *Library) { l.covers = c }
}

// WithPicker replaces the random picker, mainly for tests
func WithPicker(p *track.Picker) Option {
	return func(l *Library) { l.picker = p }
}

// New creates a library over dirs. Call Scan before use.
func New(dirs []string, opts ...Option) *Library {
	l := &Library{
		dirs:   slices.Clone(dirs),
		picker: track.NewPicker(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Scan walks the library directories and replaces the track list
func (l *Library) Scan() (int, error) {
	var found []*File
	for _, dir := range l.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp3") {
				return nil
			}
			f, err := l.load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping unreadable track")
				return nil
			}
			found = append(found, f)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
	}

	l.mu.Lock()
	l.tracks = found
	l.mu.Unlock()

	log.Info().Strs("dirs", l.dirs).Int("tracks", len(found)).Msg("library scanned")
	return len(found), nil
}

// Refresh rescans the directories
func (l *Library) Refresh() error {
	_, err := l.Scan()
	return err
}

// Len returns the number of known tracks
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

// NextTrack picks a random track
func (l *Library) NextTrack(ctx context.Context) (track.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, err := track.Pick(l.picker, l.tracks)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Library) load(path string) (*File, error) {
	dir := filepath.Dir(path)
	artists, title := ParseName(filepath.Base(path))
	info := track.Info{
		ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+path)).String(),
		AlbumID: uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+dir)).String(),
		Title:   title,
		Artists: artists,
	}

	p, err := ProbeFile(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return nil, err
	}
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("probe failed, using fallback duration")
	}
	info.DurationMS, info.BitrateKbps = p.DurationMS, p.BitrateKbps

	if l.covers != nil {
		if cover := findCover(dir); cover != "" {
			info.CoverURI = l.covers.Register(info.AlbumID, cover)
		}
	}

	return &File{path: path, info: info}, nil
}

// File is a track stored on local disk
type File struct {
	path string
	info track.Info
}

// Info returns the track metadata
func (f *File) Info() track.Info { return f.info.Clone() }

// Path returns the file location
func (f *File) Path() string { return f.path }

// Download reads the whole file
func (f *File) Download(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrUnavailable, err)
	}
	return data, nil
}

// ParseName splits "Artist, Artist - Title.mp3" into its parts.
// Names without a separator become the title with no artists.
func ParseName(name string) ([]string, string) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	artistPart, title, ok := strings.Cut(name, " - ")
	if !ok {
		return nil, strings.TrimSpace(name)
	}

	var artists []string
	for _, a := range strings.Split(artistPart, ",") {
		if a = strings.TrimSpace(a); a != "" {
			artists = append(artists, a)
		}
	}
	return artists, strings.TrimSpace(title)
}

func findCover(dir string) string {
	for _, name := range coverNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}
