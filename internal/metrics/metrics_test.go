// ABOUTME: Tests for relay collectors
package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/track"
)

func TestObserverCounters(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ChunkWritten(2048, 0)
	m.ChunkWritten(2048, 100)
	m.TrackStarted(track.Info{})
	m.SupplierError(track.ErrUnavailable)
	m.ReaderResynced(0)
	m.ReaderResynced(512)

	assert.Equal(t, 4096.0, testutil.ToFloat64(m.BytesIngested))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BytesOverflow))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TracksStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SupplierErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReaderResyncs))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.ReaderDropped))
}

func TestListenerGauge(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	done1 := m.Connected(KindAudio)
	done2 := m.Connected(KindAudio)
	m.Connected(KindSSE)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Listeners.WithLabelValues(KindAudio)))
	done1()
	done2()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Listeners.WithLabelValues(KindAudio)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Listeners.WithLabelValues(KindSSE)))

	m.Served(KindAudio, 10)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesServed.WithLabelValues(KindAudio)))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

type emptySupplier struct{}

func (emptySupplier) NextTrack(ctx context.Context) (track.Track, error) {
	return nil, track.ErrNoTracks
}

func TestStationCollector(t *testing.T) {
	s, err := broadcast.New(broadcast.DefaultConfig(), emptySupplier{})
	require.NoError(t, err)

	c := NewStationCollector(s)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	// server position, buffered, capacity and three notifier outcomes
	assert.Equal(t, 6, testutil.CollectAndCount(c))
}
