package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for page rendering and crawling.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PagesTotal      prometheus.Counter
	LinksTotal      prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on registry. A nil
// registry gets a dedicated one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_render_requests_total",
			Help: "Total page loads issued by the renderer.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otodombot_render_duration_seconds",
			Help:    "Time spent loading and rendering one page.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otodombot_search_pages_total",
			Help: "Total number of search result pages crawled.",
		},
	)
	links := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otodombot_candidate_links_total",
			Help: "Total number of unique listing links collected.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otodombot_render_errors_total",
			Help: "Total number of render errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, pages, links, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		PagesTotal:      pages,
		LinksTotal:      links,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a render duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the crawled search pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// AddLinks adds n to the collected links counter.
func (m *Metrics) AddLinks(n int) {
	if m == nil {
		return
	}
	m.LinksTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
