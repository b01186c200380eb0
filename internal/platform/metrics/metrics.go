package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the replay service.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	routesResolvedTotal    prometheus.Counter
	resolveFailuresTotal   prometheus.Counter
	segmentsLoadedTotal    *prometheus.CounterVec
	segmentLoadFailedTotal prometheus.Counter
	activeSegments         prometheus.Gauge
}

// New creates and registers the replay metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		routesResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_routes_resolved_total",
			Help: "Total number of routes whose manifest was resolved",
		}),
		resolveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_route_resolve_failures_total",
			Help: "Total number of failed route resolutions",
		}),
		segmentsLoadedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_segments_loaded_total",
			Help: "Total number of segments whose selected files all loaded",
		}, []string{"source"}),
		segmentLoadFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_segment_load_failures_total",
			Help: "Total number of segments that finished unavailable",
		}),
		activeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_active_segments",
			Help: "Number of segments held open by the service",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.routesResolvedTotal,
		m.resolveFailuresTotal,
		m.segmentsLoadedTotal,
		m.segmentLoadFailedTotal,
		m.activeSegments,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncRoutesResolved increments the resolved routes counter.
func (m *Metrics) IncRoutesResolved() {
	m.routesResolvedTotal.Inc()
}

// IncResolveFailures increments the failed resolutions counter.
func (m *Metrics) IncResolveFailures() {
	m.resolveFailuresTotal.Inc()
}

// IncSegmentsLoaded increments the loaded segments counter for a source
// ("local" or "remote").
func (m *Metrics) IncSegmentsLoaded(source string) {
	m.segmentsLoadedTotal.WithLabelValues(source).Inc()
}

// IncSegmentLoadFailures increments the unavailable segments counter.
func (m *Metrics) IncSegmentLoadFailures() {
	m.segmentLoadFailedTotal.Inc()
}

// SetActiveSegments sets the active segments gauge.
func (m *Metrics) SetActiveSegments(n int) {
	m.activeSegments.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
