// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instrumentation of the connection table. Each Metrics value owns
// its registry so several tables may live in one process.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conntable"

// Tie-break outcomes as reported by the TieBreaks counter.
const (
	TieBreakKeptNew      = "kept_new"
	TieBreakKeptExisting = "kept_existing"
)

// Metrics groups the collectors updated by the connection table.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	ActiveConnections prometheus.Gauge
	FramesReceived    prometheus.Counter
	BytesReceived     prometheus.Counter
	FramesSent        prometheus.Counter
	BytesSent         prometheus.Counter
	WriteErrors       prometheus.Counter
	DroppedFrames     prometheus.Counter
	// TieBreaks is labelled by side (acceptor|dialer) and outcome.
	TieBreaks *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. constLabels are attached
// to every series (e.g. the local address).
func NewMetrics(constLabels prometheus.Labels) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels,
		})
	}
	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		ConnectionsOpened: counter("connections_opened_total", "Connections added to the table."),
		ConnectionsClosed: counter("connections_closed_total", "Connections removed from the table."),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_connections", Help: "Connections currently in the table.", ConstLabels: constLabels,
		}),
		FramesReceived: counter("frames_received_total", "Complete frames read off the wire."),
		BytesReceived:  counter("received_bytes_total", "Payload bytes of received frames."),
		FramesSent:     counter("frames_sent_total", "Frames fully flushed to the socket."),
		BytesSent:      counter("sent_bytes_total", "Payload bytes of flushed frames."),
		WriteErrors:    counter("write_errors_total", "Write requests failed by an I/O error."),
		DroppedFrames:  counter("dropped_frames_total", "Frames rejected by a saturated processor pool."),
		TieBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tie_breaks_total", Help: "Duplicate connection resolutions.", ConstLabels: constLabels,
		}, []string{"side", "outcome"}),
	}
	m.registry.MustRegister(
		m.ConnectionsOpened, m.ConnectionsClosed, m.ActiveConnections,
		m.FramesReceived, m.BytesReceived, m.FramesSent, m.BytesSent,
		m.WriteErrors, m.DroppedFrames, m.TieBreaks,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
