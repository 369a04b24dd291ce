// ABOUTME: Station owns the shared ring buffer, positions and track metadata
// ABOUTME: One producer writes into it while many readers follow at their own pace
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/notify"
	"github.com/harperreed/needle/internal/ring"
	"github.com/harperreed/needle/internal/track"
)

// ErrStopped is returned by readers once the station has been stopped
var ErrStopped = errors.New("station stopped")

const (
	DefaultChunkSize         = 2048
	DefaultSampleRate        = 44100
	DefaultBufferSeconds     = 0.1
	DefaultFillInterval      = 40 * time.Millisecond
	DefaultSendInterval      = 10 * time.Millisecond
	DefaultWaitInterval      = time.Second
	DefaultKeepAliveInterval = 60 * time.Second
	DefaultLeadSeconds       = 2
)

// Config tunes buffering and pacing
type Config struct {
	ChunkSize int // bytes per producer write and per reader step
	Capacity  int // ring buffer size in bytes

	FillInterval      time.Duration // producer pause between chunks
	SendInterval      time.Duration // reader wait when caught up
	WaitInterval      time.Duration // fetch retry backoff and metadata poll
	NotifyInterval    time.Duration // minimum spacing of reader wake-ups
	KeepAliveInterval time.Duration // idle time before a metadata keep-alive
	JoinTimeout       time.Duration // how long Stop waits for the producer

	LeadSeconds int // buffered audio required before announcing a track
}

// CapacityFor sizes a buffer holding seconds of audio at sampleRate with
// width bytes per sample
func CapacityFor(seconds float64, sampleRate, width int) int {
	return int(seconds * float64(sampleRate) * float64(width))
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		ChunkSize:         DefaultChunkSize,
		Capacity:          CapacityFor(DefaultBufferSeconds, DefaultSampleRate, 2),
		FillInterval:      DefaultFillInterval,
		SendInterval:      DefaultSendInterval,
		WaitInterval:      DefaultWaitInterval,
		NotifyInterval:    notify.DefaultInterval,
		KeepAliveInterval: DefaultKeepAliveInterval,
		JoinTimeout:       DefaultWaitInterval,
		LeadSeconds:       DefaultLeadSeconds,
	}
}

// Validate rejects unusable settings
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	case c.Capacity <= 0:
		return fmt.Errorf("buffer capacity must be positive, got %d", c.Capacity)
	case c.SendInterval <= 0 || c.WaitInterval <= 0:
		return fmt.Errorf("send and wait intervals must be positive")
	case c.KeepAliveInterval <= 0:
		return fmt.Errorf("keep-alive interval must be positive")
	case c.LeadSeconds < 0:
		return fmt.Errorf("lead seconds must not be negative, got %d", c.LeadSeconds)
	}
	return nil
}

// Option customizes a Station
type Option func(*Station)

// WithObserver installs event hooks
func WithObserver(o Observer) Option {
	return func(s *Station) {
		if o != nil {
			s.observer = o
		}
	}
}

// Station is the broadcast session shared by the producer and every reader
type Station struct {
	cfg      Config
	supplier track.Supplier
	observer Observer
	log      zerolog.Logger
	notifier *notify.Notifier

	// guarded by mu
	mu            sync.Mutex
	cond          *cond
	buf           *ring.Buffer
	baseIndex     int64
	meta          *track.Info
	metaPending   bool // meta published, first chunk not yet written
	metaStart     int64
	metaThreshold int64
	stopped       bool
	running       bool // between Start and Stop

	// producer lifecycle
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a station fed by supplier. Call Start to begin ingesting.
func New(cfg Config, supplier track.Supplier, opts ...Option) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid station config: %w", err)
	}
	if supplier == nil {
		return nil, fmt.Errorf("track supplier is required")
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = cfg.WaitInterval
	}

	s := &Station{
		cfg:      cfg,
		supplier: supplier,
		observer: nopObserver{},
		log:      log.Logger.With().Str("component", "station").Logger(),
		buf:      ring.New(cfg.Capacity),
	}
	s.cond = newCond(&s.mu)
	s.notifier = notify.New(s.cond, cfg.NotifyInterval)

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the station tuning
func (s *Station) Config() Config { return s.cfg }

// Notifier exposes the wake-up debouncer for stats
func (s *Station) Notifier() *notify.Notifier { return s.notifier }

// Start resets positions and metadata and spawns the producer.
// It does nothing while a producer is still running.
func (s *Station) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return
		}
	}

	s.mu.Lock()
	s.buf = ring.New(s.cfg.Capacity)
	s.baseIndex = 0
	s.meta = nil
	s.metaPending = false
	s.metaStart = 0
	s.metaThreshold = 0
	s.stopped = false
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.produce(ctx, s.done)
	s.log.Debug().Msg("started producer")
}

// Stop signals every loop to exit, wakes blocked readers and waits up to
// JoinTimeout for the producer. It reports whether the producer exited.
func (s *Station) Stop() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	s.stopped = true
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.notifier.Cancel()
	s.cond.Broadcast()

	if s.done == nil {
		return true
	}

	select {
	case <-s.done:
		s.done = nil
		s.log.Debug().Msg("producer stopped")
		return true
	case <-time.After(s.cfg.JoinTimeout):
		s.log.Warn().Dur("timeout", s.cfg.JoinTimeout).Msg("producer still running after stop")
		return false
	}
}

// Status is a point-in-time view of the station
type Status struct {
	Running       bool        `json:"running"`
	ServerPos     int64       `json:"server_pos"`
	BaseIndex     int64       `json:"base_index"`
	Buffered      int         `json:"buffered"`
	Capacity      int         `json:"capacity"`
	Track         *track.Info `json:"track,omitempty"`
	Announced     bool        `json:"announced"`
	MetaStart     int64       `json:"meta_start"`
	MetaThreshold int64       `json:"meta_threshold"`
}

// Snapshot returns the current station status
func (s *Station) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:       s.running,
		BaseIndex:     s.baseIndex,
		Buffered:      s.buf.Len(),
		Capacity:      s.buf.Cap(),
		ServerPos:     s.serverPos(),
		MetaStart:     s.metaStart,
		MetaThreshold: s.metaThreshold,
	}
	if s.meta != nil {
		info := s.meta.Clone()
		st.Track = &info
		st.Announced = s.announceable()
	}
	return st
}

// serverPos is the absolute live edge. Caller holds mu.
func (s *Station) serverPos() int64 {
	return s.baseIndex + int64(s.buf.Len())
}

// announceable reports whether the lead time for the current track has been
// buffered. Caller holds mu.
func (s *Station) announceable() bool {
	return s.meta != nil && !s.metaPending && s.serverPos() >= s.metaStart+s.metaThreshold
}
