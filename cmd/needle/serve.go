// ABOUTME: serve command: builds the supplier chain, station and HTTP server
// ABOUTME: Handles signals for shutdown and library rescans
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/harperreed/needle/internal/artwork"
	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/config"
	"github.com/harperreed/needle/internal/library"
	"github.com/harperreed/needle/internal/logging"
	"github.com/harperreed/needle/internal/metrics"
	"github.com/harperreed/needle/internal/s3source"
	"github.com/harperreed/needle/internal/server"
	"github.com/harperreed/needle/internal/track"
)

type serveFlags struct {
	envFile  string
	port     int
	name     string
	logFile  string
	logLevel string
	debug    bool
	tui      bool
	noMDNS   bool
	library  []string
	fallback []string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the station and HTTP server",
		Long: `Start ingesting tracks into the ring buffer and serve:

  /stream           live MP3 audio
  /stream/meta      now-playing server-sent events
  /stream/meta/ws   now-playing over WebSocket
  /api/status       station and listener status
  /metrics          Prometheus metrics

Examples:
  # Stream a local library
  needle serve --library ~/Music/liked

  # Use the TUI instead of console logs
  needle serve --library ~/Music --tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.envFile)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, &cfg, f)
			return runServe(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	fl.IntVarP(&f.port, "port", "p", 9000, "HTTP listen port")
	fl.StringVar(&f.name, "name", "", "Station name (default: hostname-needle)")
	fl.StringVar(&f.logFile, "log-file", "needle.log", "Log file path")
	fl.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fl.BoolVarP(&f.debug, "debug", "v", false, "Enable debug logging")
	fl.BoolVar(&f.tui, "tui", false, "Show the terminal UI")
	fl.BoolVar(&f.noMDNS, "no-mdns", false, "Disable mDNS advertisement")
	fl.StringSliceVar(&f.library, "library", nil, "Track directories (repeatable)")
	fl.StringSliceVar(&f.fallback, "fallback", nil, "Directories used when the library has no tracks")
	return cmd
}

// applyServeFlags overrides config values with explicitly set flags
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, f serveFlags) {
	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("name") {
		cfg.Name = f.name
	}
	if changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if changed("tui") {
		cfg.TUI = f.tui
	}
	if changed("no-mdns") {
		cfg.MDNS = !f.noMDNS
	}
	if changed("library") {
		cfg.LibraryDirs = f.library
	}
	if changed("fallback") {
		cfg.FallbackDirs = f.fallback
	}

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = fmt.Sprintf("%s-needle", hostname)
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	closer, err := logging.Setup(logging.Options{
		File:     cfg.LogFile,
		MaxBytes: cfg.LogMaxBytes,
		Backups:  cfg.LogBackups,
		Level:    cfg.LogLevel,
		Debug:    cfg.Debug,
		Console:  !cfg.TUI,
		Stdout:   os.Stdout,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().Str("name", cfg.Name).Int("port", cfg.Port).Str("log_file", cfg.LogFile).Msg("starting needle")

	covers, err := artwork.NewStore(cfg.ArtworkDir)
	if err != nil {
		return err
	}

	supplier, sources, err := buildSupplier(ctx, cfg, covers)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	station, err := broadcast.New(cfg.Station(), supplier, broadcast.WithObserver(m))
	if err != nil {
		return err
	}
	reg.MustRegister(metrics.NewStationCollector(station))

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Name:       cfg.Name,
		EnableMDNS: cfg.MDNS,
		Debug:      cfg.Debug,
		UseTUI:     cfg.TUI,
	}, station, server.WithMetrics(m, reg), server.WithCovers(covers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				rescan(sources)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
			srv.Stop()
			return
		}
	}()

	return srv.Start()
}

// refresher is a source whose track list can be reloaded on SIGHUP
type refresher interface {
	Refresh() error
}

// buildSupplier chains library, bucket and fallback sources in that order
func buildSupplier(ctx context.Context, cfg config.Config, covers *artwork.Store) (track.Supplier, []refresher, error) {
	var chain []track.Supplier
	var sources []refresher

	if len(cfg.LibraryDirs) > 0 {
		lib := library.New(cfg.LibraryDirs, library.WithCovers(covers))
		if _, err := lib.Scan(); err != nil {
			return nil, nil, err
		}
		chain = append(chain, lib)
		sources = append(sources, lib)
	}

	if cfg.S3.Bucket != "" {
		src, err := s3source.New(ctx, s3source.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Prefix:         cfg.S3.Prefix,
			Endpoint:       cfg.S3.Endpoint,
			AccessKeyID:    cfg.S3.AccessKeyID,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		}, s3source.WithCovers(covers))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 source: %w", err)
		}
		chain = append(chain, src)
		sources = append(sources, src)
	}

	if len(cfg.FallbackDirs) > 0 {
		fb := library.New(cfg.FallbackDirs, library.WithCovers(covers))
		if _, err := fb.Scan(); err != nil {
			return nil, nil, err
		}
		chain = append(chain, fb)
		sources = append(sources, fb)
	}

	if len(chain) == 0 {
		return nil, nil, track.ErrNoTracks
	}

	supplier := chain[len(chain)-1]
	for i := len(chain) - 2; i >= 0; i-- {
		supplier = track.WithFallback(chain[i], supplier)
	}
	return supplier, sources, nil
}

func rescan(sources []refresher) {
	for _, src := range sources {
		if err := src.Refresh(); err != nil {
			log.Error().Err(err).Msg("source refresh failed")
		}
	}
	log.Info().Int("sources", len(sources)).Msg("sources refreshed")
}
