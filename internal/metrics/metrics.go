// Package metrics exposes internal counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Detection pipeline counters
	DetectionsReceived atomic.Uint64
	ElevatedFrames     atomic.Uint64
	EventsDropped      atomic.Uint64
	OutOfOrderFrames   atomic.Uint64

	// Alert counters
	AlertsTriggered    atomic.Uint64
	ZonesSuppressed    atomic.Uint64 // confirmed zones dropped by cooldown
	HandlerInvocations atomic.Uint64
	HandlerFailures    atomic.Uint64

	// Dashboard fanout
	ViewersActive    atomic.Uint64
	ViewersTotal     atomic.Uint64
	EventsBroadcast  atomic.Uint64
	ViewerQueueDrops atomic.Uint64

	// Evidence retention
	SnapshotsSaved   atomic.Uint64
	SnapshotsEvicted atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"zonewatch_detections_received_total", "Total detection events processed", m.DetectionsReceived.Load},
		{"zonewatch_elevated_frames_total", "Total frames with an elevated detection in a zone", m.ElevatedFrames.Load},
		{"zonewatch_events_dropped_total", "Detection events dropped because the pipeline queue was full", m.EventsDropped.Load},
		{"zonewatch_out_of_order_frames_total", "Detection events that arrived out of frame order", m.OutOfOrderFrames.Load},
		{"zonewatch_alerts_triggered_total", "Total alerts dispatched", m.AlertsTriggered.Load},
		{"zonewatch_zones_suppressed_total", "Confirmed zones dropped from alerts by cooldown", m.ZonesSuppressed.Load},
		{"zonewatch_handler_invocations_total", "Total alert handler invocations", m.HandlerInvocations.Load},
		{"zonewatch_handler_failures_total", "Alert handler invocations that failed or timed out", m.HandlerFailures.Load},
		{"zonewatch_viewers_active", "Currently connected live viewers", m.ViewersActive.Load},
		{"zonewatch_viewers_total", "Total live viewer connections accepted", m.ViewersTotal.Load},
		{"zonewatch_events_broadcast_total", "Total events fanned out to viewers", m.EventsBroadcast.Load},
		{"zonewatch_viewer_queue_drops_total", "Events dropped from slow viewer queues", m.ViewerQueueDrops.Load},
		{"zonewatch_snapshots_saved_total", "Total evidence snapshots written", m.SnapshotsSaved.Load},
		{"zonewatch_snapshots_evicted_total", "Evidence snapshots removed by retention", m.SnapshotsEvicted.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
