// ABOUTME: Tests for the cover art store
// ABOUTME: Covers HTTP download, caching, registration and serving
package artwork

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewStoreDefaultDir(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	defer s.Cleanup()

	assert.Contains(t, s.cacheDir, "needle-artwork")
	_, err = os.Stat(s.cacheDir)
	assert.NoError(t, err)
}

func TestDownloadCaches(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("fake image data"))
	}))
	defer srv.Close()

	s := newTestStore(t)

	path1, err := s.Download(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	content, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "fake image data", string(content))
	assert.Equal(t, ".png", filepath.Ext(path1))

	path2, err := s.Download(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, requests)
}

func TestDownloadHangingHostTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, err := NewStore(t.TempDir(), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Fetch(context.Background(), "album", srv.URL+"/cover.jpg")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, ok := s.Lookup("album")
	assert.False(t, ok)
}

func TestNewStoreBoundsDownloads(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, DownloadTimeout, s.client.Timeout)
}

func TestDownloadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStore(t)

	_, err := s.Download(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = s.Download(context.Background(), "not-a-valid-url")
	assert.Error(t, err)

	path, err := s.Download(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestFetchRegisters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("cover"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	uri, err := s.Fetch(context.Background(), "album-1", srv.URL+"/c.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/cover/album-1", uri)

	_, ok := s.Lookup("album-1")
	assert.True(t, ok)
}

func TestServeHTTP(t *testing.T) {
	s := newTestStore(t)
	img := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg bytes"), 0o644))

	assert.Equal(t, "/cover/abc", s.Register("abc", img))
	assert.Empty(t, s.Register("", img))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cover/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cover/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExtension(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"http://example.com/image.jpg", ".jpg"},
		{"http://example.com/image.png", ".png"},
		{"http://example.com/image.jpg?size=large", ".jpg"},
		{"http://example.com/image", ".jpg"},
		{"http://example.com/path/to/image.jpeg", ".jpeg"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, getExtension(tt.url), tt.url)
	}
}
