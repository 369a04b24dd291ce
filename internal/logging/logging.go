// ABOUTME: Process-wide structured logging setup
// ABOUTME: Writes to a rotating log file and, unless the TUI owns the terminal, to stdout
package logging

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger
type Options struct {
	File     string // log file path, empty disables file output
	MaxBytes int64  // rotate the file past this size, rounded up to whole MiB
	Backups  int    // rotated files kept, zero uses DefaultBackups
	Level    string // zerolog level name
	Debug    bool   // forces debug level
	Console  bool   // also write human-readable output to Stdout
	Stdout   io.Writer
}

// Rotation defaults
const (
	DefaultMaxBytes = 10 << 20
	DefaultBackups  = 3
)

// Setup configures the global zerolog logger. The returned closer releases
// the log file.
func Setup(opts Options) (io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		// lumberjack opens lazily; fail at startup instead of on first write
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		f.Close()

		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    megabytes(opts.MaxBytes),
			MaxBackups: cmp.Or(opts.Backups, DefaultBackups),
		}
		writers = append(writers, rotator)
		closer = rotator
	}

	if opts.Console {
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return closer, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func megabytes(n int64) int {
	if n <= 0 {
		n = DefaultMaxBytes
	}
	return int((n + 1<<20 - 1) >> 20)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
