package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for pipeline runs.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ListingsTotal      *prometheus.CounterVec
	StageFailuresTotal *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	PhotosTotal        prometheus.Counter
}

// NewMetrics registers the pipeline collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_runs_total",
			Help: "Pipeline runs by outcome.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otodombot_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_listings_total",
			Help: "Processed candidates by outcome.",
		},
		[]string{"action"},
	)
	stageFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_stage_failures_total",
			Help: "Enrichment and persistence failures by stage.",
		},
		[]string{"stage"},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_notifications_total",
			Help: "Notification gate outcomes.",
		},
		[]string{"result"},
	)
	photos := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otodombot_photos_saved_total",
			Help: "Photos downloaded and recorded.",
		},
	)

	registry.MustRegister(runs, runDuration, listings, stageFailures, notifications, photos)

	return &Metrics{
		RunsTotal:          runs,
		RunDuration:        runDuration,
		ListingsTotal:      listings,
		StageFailuresTotal: stageFailures,
		NotificationsTotal: notifications,
		PhotosTotal:        photos,
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// IncListing increments the listings counter for an outcome.
func (m *Metrics) IncListing(action string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(action).Inc()
}

// IncStageFailure increments the failure counter for a stage.
func (m *Metrics) IncStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage).Inc()
}

// IncNotification increments the notification counter for a result.
func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// IncPhotos increments the saved photos counter.
func (m *Metrics) IncPhotos() {
	if m == nil {
		return
	}
	m.PhotosTotal.Inc()
}
