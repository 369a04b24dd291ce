// ABOUTME: Prometheus collectors for the relay
// ABOUTME: Implements the station observer and tracks listeners per endpoint
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harperreed/needle/internal/broadcast"
	"github.com/harperreed/needle/internal/track"
)

const namespace = "needle"

// Listener kinds used as label values
const (
	KindAudio     = "audio"
	KindSSE       = "sse"
	KindWebSocket = "websocket"
)

// Metrics holds every relay collector
type Metrics struct {
	BytesIngested  prometheus.Counter
	BytesOverflow  prometheus.Counter
	TracksStarted  prometheus.Counter
	SupplierErrors prometheus.Counter
	ReaderResyncs  prometheus.Counter
	ReaderDropped  prometheus.Counter
	BytesServed    *prometheus.CounterVec
	Listeners      *prometheus.GaugeVec
	Announcements  prometheus.Counter
}

var _ broadcast.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Bytes written into the ring buffer by the producer.",
		}),
		BytesOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_bytes_total",
			Help:      "Bytes evicted from the oldest end of the ring buffer.",
		}),
		TracksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_started_total",
			Help:      "Tracks whose payload was downloaded and began streaming.",
		}),
		SupplierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supplier_errors_total",
			Help:      "Failed track fetches or downloads.",
		}),
		ReaderResyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_resyncs_total",
			Help:      "Times a listener cursor jumped to the live edge.",
		}),
		ReaderDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_dropped_bytes_total",
			Help:      "Bytes listeners skipped because they fell behind the buffer.",
		}),
		BytesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_bytes_total",
			Help:      "Bytes written to listeners.",
		}, []string{"kind"}),
		Listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners",
			Help:      "Connected listeners by endpoint kind.",
		}, []string{"kind"}),
		Announcements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Now-playing events delivered to listeners.",
		}),
	}

	collectors := []prometheus.Collector{
		m.BytesIngested, m.BytesOverflow, m.TracksStarted, m.SupplierErrors,
		m.ReaderResyncs, m.ReaderDropped, m.BytesServed, m.Listeners, m.Announcements,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ChunkWritten implements broadcast.Observer
func (m *Metrics) ChunkWritten(n, overflow int) {
	m.BytesIngested.Add(float64(n))
	if overflow > 0 {
		m.BytesOverflow.Add(float64(overflow))
	}
}

// TrackStarted implements broadcast.Observer
func (m *Metrics) TrackStarted(track.Info) { m.TracksStarted.Inc() }

// SupplierError implements broadcast.Observer
func (m *Metrics) SupplierError(error) { m.SupplierErrors.Inc() }

// ReaderResynced implements broadcast.Observer
func (m *Metrics) ReaderResynced(dropped int64) {
	m.ReaderResyncs.Inc()
	if dropped > 0 {
		m.ReaderDropped.Add(float64(dropped))
	}
}

// Connected increments the listener gauge for kind and returns the matching
// decrement
func (m *Metrics) Connected(kind string) func() {
	g := m.Listeners.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

// Served counts bytes written to a listener
func (m *Metrics) Served(kind string, n int) {
	m.BytesServed.WithLabelValues(kind).Add(float64(n))
}

// StationCollector exports buffer state and notifier counters on scrape
type StationCollector struct {
	station *broadcast.Station

	serverPos *prometheus.Desc
	buffered  *prometheus.Desc
	capacity  *prometheus.Desc
	wakes     *prometheus.Desc
}

// NewStationCollector creates a scrape-time collector for s
func NewStationCollector(s *broadcast.Station) *StationCollector {
	return &StationCollector{
		station:   s,
		serverPos: prometheus.NewDesc(namespace+"_server_position_bytes", "Absolute live edge of the stream.", nil, nil),
		buffered:  prometheus.NewDesc(namespace+"_buffered_bytes", "Valid bytes in the ring buffer.", nil, nil),
		capacity:  prometheus.NewDesc(namespace+"_buffer_capacity_bytes", "Ring buffer capacity.", nil, nil),
		wakes:     prometheus.NewDesc(namespace+"_notifier_requests_total", "Notifier requests by outcome.", []string{"outcome"}, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.serverPos
	ch <- c.buffered
	ch <- c.capacity
	ch <- c.wakes
}

// Collect implements prometheus.Collector
func (c *StationCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.station.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.serverPos, prometheus.CounterValue, float64(st.ServerPos))
	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(st.Buffered))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))

	stats := c.station.Notifier().Stats()
	ch <- prometheus.MustNewConstMetric(c.wakes, prometheus.CounterValue, float64(stats.Immediate), "immediate")
	ch <- prometheus.MustNewConstMetric(c.wakes, prometheus.CounterValue, float64(stats.Delayed), "delayed")
	ch <- prometheus.MustNewConstMetric(c.wakes, prometheus.CounterValue, float64(stats.Coalesced), "coalesced")
}
