// ABOUTME: HTTP front end for the needle station
// ABOUTME: Serves the audio stream, now-playing feeds, status, covers and metrics
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/artwork"
	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/discovery"
	"github.com/harperreed/needle/internal/metrics"
	"github.com/harperreed/needle/internal/version"
)

// Endpoint paths
const (
	StreamPath = "/stream"
	MetaPath   = "/stream/meta"
	MetaWSPath = "/stream/meta/ws"
	StatusPath = "/api/status"
)

//go:embed static
var staticFiles embed.FS

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
}

// Option configures optional server collaborators
type Option func(*Server)

// WithMetrics exposes m and the gatherer's collectors on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithCovers serves cover art from store
func WithCovers(store *artwork.Store) Option {
	return func(s *Server) { s.covers = store }
}

// Server relays the station to HTTP listeners
type Server struct {
	config   Config
	station  *broadcast.Station
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	covers   *artwork.Store

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	listeners   map[string]*Listener
	listenersMu sync.RWMutex

	mdnsManager *discovery.Manager

	tui       *ServerTUI
	startTime time.Time

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a server for station
func New(config Config, station *broadcast.Station, opts ...Option) *Server {
	s := &Server{
		config:  config,
		station: station,
		upgrader: websocket.Upgrader{
			// Listeners are browsers on the local network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		listeners: make(map[string]*Listener),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = s.routes()
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(static)))
	mux.HandleFunc("GET "+StreamPath, s.handleStream)
	mux.HandleFunc("GET "+MetaPath, s.handleMeta)
	mux.HandleFunc("GET "+MetaWSPath, s.handleMetaWS)
	mux.HandleFunc("GET "+StatusPath, s.handleStatus)

	if s.covers != nil {
		mux.Handle("GET "+artwork.PathPrefix, s.covers)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the station and HTTP server until Stop, TUI quit or a server error
func (s *Server) Start() error {
	if s.config.UseTUI {
		s.tui = NewServerTUI(s.config.Name, s.config.Port)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.config.Name, s.config.Port); err != nil {
				log.Error().Err(err).Msg("TUI failed")
			}
		}()

		// Give TUI time to initialize
		time.Sleep(100 * time.Millisecond)
	}

	log.Info().Str("name", s.config.Name).Str("version", version.Version).Msg("server starting")

	s.station.Start()

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			StreamPath:  StreamPath,
			MetaPath:    MetaPath,
			Version:     version.Version,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS advertisement")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Info().Str("addr", addr).Msg("HTTP server listening")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	tuiDone := make(chan struct{})
	if s.tui != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshTUI(tuiDone)
		}()
	}

	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Info().Msg("server shutting down")
	case <-tuiQuitChan:
		log.Info().Msg("TUI quit requested, shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("HTTP server error")
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	close(tuiDone)
	if s.tui != nil {
		s.tui.Stop()
	}

	// Unblocks every streaming handler so Shutdown can drain them
	if !s.station.Stop() {
		log.Warn().Msg("station producer did not exit in time")
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	s.wg.Wait()
	log.Info().Msg("server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop asks Start to shut down
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShutdown
}

func (s *Server) refreshTUI(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.updateTUI()
		}
	}
}
