package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TrackerMetrics struct {
	registry *prometheus.Registry

	completedTotal   *prometheus.CounterVec
	completedRVU     prometheus.Counter
	discardedTotal   *prometheus.CounterVec
	activeStudies    prometheus.Gauge
	snapshotDuration *prometheus.HistogramVec
	snapshotsDropped prometheus.Counter
}

func NewTrackerMetrics(session string) *TrackerMetrics {
	registry := prometheus.NewRegistry()

	completedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "completed_studies_total",
			Help:      "Total completed studies by category.",
			ConstLabels: prometheus.Labels{
				"session": session,
			},
		},
		[]string{"category"},
	)
	completedRVU := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "completed_rvu_total",
			Help:      "Cumulative RVU credited for completed studies.",
			ConstLabels: prometheus.Labels{
				"session": session,
			},
		},
	)
	discardedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "discarded_studies_total",
			Help:      "Studies dropped before recording, by reason.",
		},
		[]string{"reason"},
	)
	activeStudies := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "active_studies",
			Help:      "Studies currently being observed.",
		},
	)
	snapshotDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "snapshot_handling_duration_seconds",
			Help:      "Snapshot processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	snapshotsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rvutrack",
			Subsystem: "tracker",
			Name:      "snapshots_dropped_total",
			Help:      "Snapshots discarded by the feed rate limiter.",
		},
	)

	registry.MustRegister(
		completedTotal, completedRVU, discardedTotal,
		activeStudies, snapshotDuration, snapshotsDropped,
	)

	return &TrackerMetrics{
		registry:         registry,
		completedTotal:   completedTotal,
		completedRVU:     completedRVU,
		discardedTotal:   discardedTotal,
		activeStudies:    activeStudies,
		snapshotDuration: snapshotDuration,
		snapshotsDropped: snapshotsDropped,
	}
}

func (m *TrackerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *TrackerMetrics) RecordCompleted(category string, rvu float64) {
	m.completedTotal.WithLabelValues(category).Inc()
	if rvu > 0 {
		m.completedRVU.Add(rvu)
	}
}

func (m *TrackerMetrics) RecordDiscarded(reason string) {
	m.discardedTotal.WithLabelValues(reason).Inc()
}

func (m *TrackerMetrics) SetActiveStudies(n int) {
	m.activeStudies.Set(float64(n))
}

func (m *TrackerMetrics) ObserveSnapshot(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.snapshotDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *TrackerMetrics) SnapshotDropped() {
	m.snapshotsDropped.Inc()
}
