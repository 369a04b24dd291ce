// ABOUTME: Cover art store for album images announced to listeners
// ABOUTME: Caches remote artwork locally and serves it under /cover/{id}
package artwork

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PathPrefix is the URL prefix covers are served under
const PathPrefix = "/cover/"

// DownloadTimeout bounds a remote artwork request
const DownloadTimeout = 15 * time.Second

// Option configures a Store
type Option func(*Store)

// WithHTTPClient replaces the download client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// Store maps cover ids to local image files
type Store struct {
	cacheDir string
	client   *http.Client

	mu    sync.RWMutex
	paths map[string]string
}

// NewStore creates a store caching downloads in cacheDir.
// An empty cacheDir uses a directory under the system temp dir.
func NewStore(cacheDir string, opts ...Option) (*Store, error) {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "needle-artwork")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: DownloadTimeout},
		paths:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register makes a local image available and returns its cover URI
func (s *Store) Register(id, path string) string {
	if id == "" || path == "" {
		return ""
	}
	s.mu.Lock()
	s.paths[id] = path
	s.mu.Unlock()
	return URI(id)
}

// Lookup returns the file registered for id
func (s *Store) Lookup(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[id]
	return p, ok
}

// Fetch downloads url into the cache and registers it under id
func (s *Store) Fetch(ctx context.Context, id, url string) (string, error) {
	path, err := s.Download(ctx, url)
	if err != nil || path == "" {
		return "", err
	}
	return s.Register(id, path), nil
}

// Download fetches artwork from url into the cache and returns the local path
func (s *Store) Download(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}

	hash := sha256.Sum256([]byte(url))
	cachePath := filepath.Join(s.cacheDir, fmt.Sprintf("%x%s", hash[:8], getExtension(url)))

	if _, err := os.Stat(cachePath); err == nil {
		log.Debug().Str("path", cachePath).Msg("artwork cache hit")
		return cachePath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(cachePath)
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(cachePath)
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	log.Debug().Str("url", url).Str("path", cachePath).Msg("artwork saved")
	return cachePath, nil
}

// ServeHTTP serves GET /cover/{id}
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, PathPrefix)
	path, ok := s.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

// Cleanup removes the download cache
func (s *Store) Cleanup() error {
	return os.RemoveAll(s.cacheDir)
}

// URI returns the path a cover is served under
func URI(id string) string {
	return PathPrefix + id
}

func getExtension(url string) string {
	url = strings.Split(url, "?")[0]
	ext := filepath.Ext(url)
	if ext == "" || strings.ContainsAny(ext, "/:") {
		ext = ".jpg"
	}
	return ext
}
