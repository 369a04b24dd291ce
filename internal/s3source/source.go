// ABOUTME: Track supplier backed by MP3 objects in an S3-compatible bucket
// ABOUTME: Lists keys under a prefix and reads track metadata from object headers
package s3source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/needle/internal/artwork"
	"github.com/harperreed/needle/internal/library"
	"github.com/harperreed/needle/internal/track"
)

// Object metadata keys, as returned without the x-amz-meta- prefix
const (
	MetaDuration = "duration-ms"
	MetaBitrate  = "bitrate-kbps"
	MetaTitle    = "title"
	MetaArtists  = "artists"
	MetaAlbumID  = "album-id"
	MetaCoverURL = "cover-url"
)

// DefaultListTTL is how long a bucket listing is reused
const DefaultListTTL = 5 * time.Minute

// DefaultCoverTimeout bounds a background cover download
const DefaultCoverTimeout = 10 * time.Second

// Client is the subset of the S3 API the source uses
type Client interface {
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3aws.ListObjectsV2Input, optFns ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error)
}

// Paginator walks ListObjectsV2 pages
type Paginator interface {
	HasMorePages() bool
	NextPage(ctx context.Context, optFns ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error)
}

// PaginatorFactory creates a paginator for a listing request
type PaginatorFactory func(client Client, params *s3aws.ListObjectsV2Input) Paginator

// CoverFetcher downloads remote cover art and returns its served URI
type CoverFetcher interface {
	Fetch(ctx context.Context, id, url string) (string, error)
}

// Config locates the tracks
type Config struct {
	Bucket         string
	Region         string
	Prefix         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	ForcePathStyle bool
}

// Option configures a Source
type Option func(*Source)

// WithClient uses a pre-built client, mainly for tests
func WithClient(c Client) Option {
	return func(s *Source) { s.client = c }
}

// WithPaginatorFactory overrides listing pagination
func WithPaginatorFactory(f PaginatorFactory) Option {
	return func(s *Source) { s.paginator = f }
}

// WithCovers fetches cover-url metadata into a local store
func WithCovers(c CoverFetcher) Option {
	return func(s *Source) { s.covers = c }
}

// WithPicker replaces the random picker
func WithPicker(p *track.Picker) Option {
	return func(s *Source) { s.picker = p }
}

// WithListTTL sets how long a listing is cached
func WithListTTL(d time.Duration) Option {
	return func(s *Source) { s.listTTL = d }
}

// WithCoverTimeout bounds each cover download
func WithCoverTimeout(d time.Duration) Option {
	return func(s *Source) { s.coverTimeout = d }
}

// Source supplies random tracks from a bucket
type Source struct {
	client       Client
	paginator    PaginatorFactory
	covers       CoverFetcher
	picker       *track.Picker
	bucket       string
	prefix       string
	listTTL      time.Duration
	coverTimeout time.Duration

	mu       sync.Mutex
	keys     []string
	listedAt time.Time

	coverMu  sync.Mutex
	fetching map[string]bool

	probeMu sync.Mutex
	probed  map[string]library.Probe
}

// New creates a bucket source
func New(ctx context.Context, cfg Config, opts ...Option) (*Source, error) {
	if cfg.Bucket == "" {
		return nil, ErrInvalidConfig
	}

	s := &Source{
		bucket:       cfg.Bucket,
		prefix:       cfg.Prefix,
		picker:       track.NewPicker(time.Now().UnixNano()),
		listTTL:      DefaultListTTL,
		coverTimeout: DefaultCoverTimeout,
		fetching:     make(map[string]bool),
		probed:       make(map[string]library.Probe),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		if cfg.Region == "" {
			return nil, ErrInvalidConfig
		}
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		s.client = s3aws.NewFromConfig(awsConfig, func(o *s3aws.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	if s.paginator == nil {
		s.paginator = func(c Client, params *s3aws.ListObjectsV2Input) Paginator {
			return s3aws.NewListObjectsV2Paginator(c, params)
		}
	}

	return s, nil
}

// NextTrack picks a random object and reads its metadata
func (s *Source) NextTrack(ctx context.Context) (track.Track, error) {
	keys, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	key, err := track.Pick(s.picker, keys)
	if err != nil {
		return nil, err
	}

	head, err := s.client.HeadObject(ctx, &s3aws.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyError(err, "head")
	}

	info, estimated := s.describe(key, aws.ToInt64(head.ContentLength), head.Metadata)
	return &Object{source: s, key: key, info: info, estimated: estimated}, nil
}

// Refresh drops the cached listing so the next pick lists the bucket again
func (s *Source) Refresh() error {
	s.mu.Lock()
	s.listedAt = time.Time{}
	s.mu.Unlock()
	return nil
}

func (s *Source) list(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listedAt.IsZero() && time.Since(s.listedAt) < s.listTTL {
		return s.keys, nil
	}

	params := &s3aws.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		params.Prefix = aws.String(s.prefix)
	}

	var keys []string
	p := s.paginator(s.client, params)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyError(err, "list")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.EqualFold(path.Ext(key), ".mp3") {
				keys = append(keys, key)
			}
		}
	}

	s.keys = keys
	s.listedAt = time.Now()
	log.Debug().Str("bucket", s.bucket).Str("prefix", s.prefix).Int("tracks", len(keys)).Msg("bucket listed")
	return keys, nil
}

// describe builds track metadata from object headers. estimated reports
// that the length was guessed rather than read or measured.
func (s *Source) describe(key string, size int64, meta map[string]string) (info track.Info, estimated bool) {
	artists, title := library.ParseName(path.Base(key))
	if v := meta[MetaTitle]; v != "" {
		title = v
	}
	if v := meta[MetaArtists]; v != "" {
		artists = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				artists = append(artists, a)
			}
		}
	}

	albumID := meta[MetaAlbumID]
	if albumID == "" {
		albumID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+s.bucket+"/"+path.Dir(key))).String()
	}

	info = track.Info{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("s3://"+s.bucket+"/"+key)).String(),
		AlbumID:     albumID,
		Title:       title,
		Artists:     artists,
		DurationMS:  atoi(meta[MetaDuration]),
		BitrateKbps: atoi(meta[MetaBitrate]),
	}

	// Without headers use an earlier measurement, else estimate at the
	// fallback bitrate
	if info.DurationMS <= 0 && info.BitrateKbps <= 0 {
		if p, ok := s.measured(key); ok {
			info.DurationMS, info.BitrateKbps = p.DurationMS, p.BitrateKbps
		} else {
			info.BitrateKbps = track.FallbackBitrateKbps
			estimated = true
		}
	}
	switch {
	case info.DurationMS > 0 && info.BitrateKbps == 0 && size > 0:
		info.BitrateKbps = int(size * 8 / int64(info.DurationMS))
	case info.DurationMS == 0 && info.BitrateKbps > 0 && size > 0:
		info.DurationMS = int(size * 8 / int64(info.BitrateKbps))
	}
	if info.DurationMS <= 0 {
		info.DurationMS = track.FallbackDurationMS
	}
	if info.BitrateKbps <= 0 {
		info.BitrateKbps = track.FallbackBitrateKbps
	}

	if url := meta[MetaCoverURL]; url != "" && s.covers != nil {
		info.CoverURI = artwork.URI(albumID)
		s.fetchCover(albumID, url)
	}
	return info, estimated
}

func (s *Source) measured(key string) (library.Probe, bool) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	p, ok := s.probed[key]
	return p, ok
}

// remember stores a measured length for objects without length headers
func (s *Source) remember(key string, data []byte) {
	p, err := library.ProbeBytes(data)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("could not measure track")
		return
	}
	s.probeMu.Lock()
	s.probed[key] = p
	s.probeMu.Unlock()
	log.Debug().Str("key", key).Int("duration_ms", p.DurationMS).Int("bitrate_kbps", p.BitrateKbps).Msg("track measured")
}

// fetchCover downloads artwork off the producer path. The URI answers
// 404 until the file lands.
func (s *Source) fetchCover(id, url string) {
	s.coverMu.Lock()
	if s.fetching[id] {
		s.coverMu.Unlock()
		return
	}
	s.fetching[id] = true
	s.coverMu.Unlock()

	go func() {
		defer func() {
			s.coverMu.Lock()
			delete(s.fetching, id)
			s.coverMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.coverTimeout)
		defer cancel()
		if _, err := s.covers.Fetch(ctx, id, url); err != nil {
			log.Warn().Err(err).Str("album", id).Msg("cover fetch failed")
		}
	}()
}

// Object is a track stored in the bucket
type Object struct {
	source    *Source
	key       string
	info      track.Info
	estimated bool
}

// Info returns the track metadata
func (o *Object) Info() track.Info { return o.info.Clone() }

// Key returns the object key
func (o *Object) Key() string { return o.key }

// Download fetches the whole object
func (o *Object) Download(ctx context.Context) ([]byte, error) {
	out, err := o.source.client.GetObject(ctx, &s3aws.GetObjectInput{
		Bucket: aws.String(o.source.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, classifyError(err, "get")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", track.ErrUnavailable, o.key, err)
	}
	if o.estimated {
		o.source.remember(o.key, data)
	}
	return data, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
