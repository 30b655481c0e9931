// Package metrics exposes the Prometheus instrumentation for the Rocket
// connection core: active connection/stream gauges, frame throughput
// counters, write-batch size, and close reasons. It is wired into
// internal/rocket.ConnectionCore and internal/rocket.ConnManager through
// the narrow Metrics/ConnMetrics interfaces those packages declare, so
// internal/rocket itself never imports this package.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every Prometheus collector this repository registers. A
// single instance is normally shared between a ConnManager and every
// ConnectionCore it manages.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveStreams     prometheus.Gauge
	FramesDecoded     *prometheus.CounterVec
	FramesWritten     prometheus.Counter
	WriteBatchFrames  prometheus.Histogram
	ConnectionsClosed *prometheus.CounterVec
}

// New creates a Metrics bundle and registers every collector with reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rocket_active_connections",
			Help: "Number of currently open Rocket connections.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rocket_active_streams",
			Help: "Number of currently active streams across all connections.",
		}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rocket_frames_decoded_total",
			Help: "Total number of inbound frames decoded, by frame type.",
		}, []string{"type"}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rocket_frames_written_total",
			Help: "Total number of outbound frames enqueued for write.",
		}),
		WriteBatchFrames: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rocket_write_batch_frames",
			Help:    "Number of frames coalesced into a single socket write.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rocket_connections_closed_total",
			Help: "Total number of connections closed, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ActiveStreams,
		m.FramesDecoded,
		m.FramesWritten,
		m.WriteBatchFrames,
		m.ConnectionsClosed,
	)
	return m
}

// ConnectionOpened implements internal/rocket's ConnMetrics interface.
func (m *Metrics) ConnectionOpened() { m.ActiveConnections.Inc() }

// ConnectionClosed implements internal/rocket's ConnMetrics interface.
func (m *Metrics) ConnectionClosed(reason string) {
	m.ActiveConnections.Dec()
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
}

// FrameDecoded implements internal/rocket's Metrics interface.
func (m *Metrics) FrameDecoded(frameType string) { m.FramesDecoded.WithLabelValues(frameType).Inc() }

// FrameWritten implements internal/rocket's Metrics interface.
func (m *Metrics) FrameWritten() { m.FramesWritten.Inc() }

// WriteBatch implements internal/rocket's Metrics interface.
func (m *Metrics) WriteBatch(frameCount int) { m.WriteBatchFrames.Observe(float64(frameCount)) }

// StreamOpened implements internal/rocket's Metrics interface.
func (m *Metrics) StreamOpened() { m.ActiveStreams.Inc() }

// StreamClosed implements internal/rocket's Metrics interface.
func (m *Metrics) StreamClosed() { m.ActiveStreams.Dec() }
