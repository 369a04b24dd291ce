// ABOUTME: Runtime configuration loaded from the environment and .env files
// ABOUTME: Maps settings onto station tuning and supplier options
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/harperreed/needle/internal/broadcast"
)

// Config holds all runtime configuration
type Config struct {
	// Server
	Port     int    `env:"NEEDLE_PORT" envDefault:"9000"`
	Name     string `env:"NEEDLE_NAME"`
	MDNS     bool   `env:"NEEDLE_MDNS" envDefault:"true"`
	TUI      bool   `env:"NEEDLE_TUI" envDefault:"false"`
	LogFile  string `env:"LOG_FILE" envDefault:"needle.log"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"NEEDLE_DEBUG" envDefault:"false"`

	LogMaxBytes int64 `env:"NEEDLE_LOG_MAX_BYTES" envDefault:"10485760"`
	LogBackups  int   `env:"NEEDLE_LOG_BACKUPS" envDefault:"3"`

	// Buffering and pacing
	ChunkSize         int           `env:"NEEDLE_CHUNK_SIZE" envDefault:"2048"`
	SampleRate        int           `env:"NEEDLE_SAMPLE_RATE" envDefault:"44100"`
	BufferSeconds     float64       `env:"NEEDLE_BUFFER_SECONDS" envDefault:"0.1"`
	FillInterval      time.Duration `env:"NEEDLE_FILL_INTERVAL" envDefault:"40ms"`
	SendInterval      time.Duration `env:"NEEDLE_SEND_INTERVAL" envDefault:"10ms"`
	WaitInterval      time.Duration `env:"NEEDLE_WAIT_INTERVAL" envDefault:"1s"`
	NotifyInterval    time.Duration `env:"NEEDLE_NOTIFY_INTERVAL" envDefault:"50ms"`
	KeepAliveInterval time.Duration `env:"NEEDLE_KEEPALIVE_INTERVAL" envDefault:"60s"`
	LeadSeconds       int           `env:"NEEDLE_LEAD_SECONDS" envDefault:"2"`

	// Local library supplier
	LibraryDirs  []string `env:"NEEDLE_LIBRARY" envSeparator:":"`
	FallbackDirs []string `env:"NEEDLE_FALLBACK_LIBRARY" envSeparator:":"`

	// S3 supplier, used when a bucket is set
	S3 S3Config `envPrefix:"NEEDLE_S3_"`

	ArtworkDir string `env:"NEEDLE_ARTWORK_DIR"`
}

// S3Config locates tracks in an S3 or S3-compatible bucket
type S3Config struct {
	Bucket         string `env:"BUCKET"`
	Region         string `env:"REGION" envDefault:"us-east-1"`
	Prefix         string `env:"PREFIX"`
	Endpoint       string `env:"ENDPOINT"`
	AccessKeyID    string `env:"ACCESS_KEY_ID"`
	SecretKey      string `env:"SECRET_KEY"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE" envDefault:"false"`
}

// Load reads .env files (when present) and parses the environment
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks settings the station cannot correct itself
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.SampleRate <= 0 || c.BufferSeconds <= 0 {
		return fmt.Errorf("sample rate and buffer seconds must be positive")
	}
	if len(c.LibraryDirs) == 0 && c.S3.Bucket == "" {
		return fmt.Errorf("no track source configured: set NEEDLE_LIBRARY or NEEDLE_S3_BUCKET")
	}
	return c.Station().Validate()
}

// Station converts the settings into station tuning
func (c Config) Station() broadcast.Config {
	return broadcast.Config{
		ChunkSize:         c.ChunkSize,
		Capacity:          broadcast.CapacityFor(c.BufferSeconds, c.SampleRate, 2),
		FillInterval:      c.FillInterval,
		SendInterval:      c.SendInterval,
		WaitInterval:      c.WaitInterval,
		NotifyInterval:    c.NotifyInterval,
		KeepAliveInterval: c.KeepAliveInterval,
		JoinTimeout:       c.WaitInterval,
		LeadSeconds:       c.LeadSeconds,
	}
}
