// ABOUTME: Tests for the HTTP front end
// ABOUTME: Runs the real station behind httptest and checks every endpoint
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/needle/internal/artwork"
	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/metrics"
	"github.com/harperreed/needle/internal/track"
)

type staticTrack struct {
	info track.Info
	data []byte
}

func (s staticTrack) Info() track.Info { return s.info }

func (s staticTrack) Download(ctx context.Context) ([]byte, error) { return s.data, nil }

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

type fixture struct {
	server  *Server
	station *broadcast.Station
	http    *httptest.Server
	covers  *artwork.Store
	payload []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	payload := testPayload(1 << 20)
	info := track.Info{
		ID:          "t1",
		AlbumID:     "a1",
		Title:       "Song",
		Artists:     []string{"Band"},
		DurationMS:  60_000,
		BitrateKbps: 1,
	}
	sup := track.SupplierFunc(func(ctx context.Context) (track.Track, error) {
		return staticTrack{info: info, data: payload}, nil
	})

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	st, err := broadcast.New(broadcast.Config{
		ChunkSize:         2048,
		Capacity:          2 << 20,
		FillInterval:      time.Millisecond,
		SendInterval:      5 * time.Millisecond,
		WaitInterval:      20 * time.Millisecond,
		NotifyInterval:    5 * time.Millisecond,
		KeepAliveInterval: time.Second,
		JoinTimeout:       time.Second,
		LeadSeconds:       1,
	}, sup, broadcast.WithObserver(m))
	require.NoError(t, err)
	require.NoError(t, reg.Register(metrics.NewStationCollector(st)))

	covers, err := artwork.NewStore(t.TempDir())
	require.NoError(t, err)

	srv := New(Config{Name: "Test Station"}, st, WithMetrics(m, reg), WithCovers(covers))
	ts := httptest.NewServer(srv.Handler())

	// Cleanups run last-in first-out: stop the station so handlers return
	t.Cleanup(ts.Close)
	t.Cleanup(func() { st.Stop() })

	return &fixture{server: srv, station: st, http: ts, covers: covers, payload: payload}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, StatusPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "Test Station", st.Name)
	assert.Empty(t, st.Listeners)
	assert.Equal(t, 2<<20, st.Station.Capacity)
	assert.Nil(t, st.Station.Track)
}

func TestAudioStream(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, StreamPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Test Station", resp.Header.Get("icy-name"))

	require.Len(t, f.server.Listeners(), 1)
	assert.Equal(t, metrics.KindAudio, f.server.Listeners()[0].Kind)

	f.station.Start()

	got := make([]byte, 8192)
	_, err := io.ReadFull(resp.Body, got)
	require.NoError(t, err)
	assert.Equal(t, f.payload[:8192], got)

	assert.Eventually(t, func() bool {
		ls := f.server.Listeners()
		return len(ls) == 1 && ls[0].BytesServed >= 8192
	}, time.Second, 10*time.Millisecond)

	resp.Body.Close()
	assert.Eventually(t, func() bool { return len(f.server.Listeners()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMetaSSE(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, MetaPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	f.station.Start()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before announcement")
			data, found := strings.CutPrefix(line, "data: ")
			if !found {
				continue
			}
			var info track.Info
			require.NoError(t, json.Unmarshal([]byte(data), &info))
			assert.Equal(t, "Song", info.Title)
			assert.Equal(t, []string{"Band"}, info.Artists)

			st := f.station.Snapshot()
			assert.True(t, st.Announced)
			assert.GreaterOrEqual(t, st.ServerPos, st.MetaStart+st.MetaThreshold)
			return
		case <-deadline:
			t.Fatal("no announcement received")
		}
	}
}

func TestMetaWebSocket(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + MetaWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return len(f.server.Listeners()) == 1 }, time.Second, 10*time.Millisecond)

	f.station.Start()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg MetaMessage
	for msg.Type != "track" {
		require.NoError(t, conn.ReadJSON(&msg))
	}
	require.NotNil(t, msg.Track)
	assert.Equal(t, "t1", msg.Track.ID)
	assert.Positive(t, msg.ServerPos)
}

func TestStopEndsStreams(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, StreamPath)
	f.station.Start()

	buf := make([]byte, 2048)
	_, err := io.ReadFull(resp.Body, buf)
	require.NoError(t, err)

	f.station.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after station stop")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.station.Start()

	assert.Eventually(t, func() bool { return f.station.Snapshot().ServerPos > 0 }, time.Second, 5*time.Millisecond)

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "needle_ingested_bytes_total")
	assert.Contains(t, text, "needle_tracks_started_total 1")
	assert.Contains(t, text, "needle_server_position_bytes")
}

func TestCoverAndIndex(t *testing.T) {
	f := newFixture(t)

	img := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0o644))
	uri := f.covers.Register("a1", img)

	resp := f.get(t, uri)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "jpeg", string(body))

	resp = f.get(t, "/cover/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "EventSource")
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	srv := New(Config{Port: 0, Name: "lifecycle"}, f.station)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	assert.Eventually(t, func() bool { return f.station.Snapshot().ServerPos > 0 }, 2*time.Second, 10*time.Millisecond)
	srv.Stop()
	srv.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, f.station.Snapshot().Running)
}

func TestTUIView(t *testing.T) {
	m := tuiModel{
		status: ServerStatus{
			Name:       "needle",
			Port:       9000,
			NowPlaying: "Band - Song",
			Buffered:   10,
			Capacity:   20,
			Listeners:  []ListenerInfo{{Kind: metrics.KindAudio, RemoteAddr: "10.0.0.2:5000", BytesServed: 42}},
		},
		startTime: time.Now(),
	}

	view := m.View()
	assert.Contains(t, view, "Band - Song (buffering)")
	assert.Contains(t, view, "Listeners (1)")
	assert.Contains(t, view, "10.0.0.2:5000")
}
