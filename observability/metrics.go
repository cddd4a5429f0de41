// Package observability exposes the console's Prometheus metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragflow_admin"

var (
	// httpRequests counts handled requests.
	// Labels: method, route (the matched route pattern), status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests handled",
	}, []string{"method", "route", "status"})

	// httpDuration measures request latency.
	// Labels: method, route
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// cascadeDeletions counts cascading deletions by outcome.
	// Labels: kind (owner, dataset, chat, agent, documents), outcome (success, error)
	cascadeDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "deletions_total",
		Help:      "Total cascading deletions",
	}, []string{"kind", "outcome"})

	// cascadeRows counts rows removed by committed cascades.
	// Labels: category
	cascadeRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "rows_deleted_total",
		Help:      "Total rows removed by committed cascades, per category",
	}, []string{"category"})

	cascadeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cascade",
		Name:      "duration_seconds",
		Help:      "Cascading deletion transaction time in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})
)

// ObserveRequest records one handled HTTP request.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CascadeObserver feeds cascade outcomes into the metrics above.
type CascadeObserver struct{}

// ObserveCascade implements cascade.Observer.
func (CascadeObserver) ObserveCascade(kind, outcome string, counts map[string]int64, elapsed time.Duration) {
	cascadeDeletions.WithLabelValues(kind, outcome).Inc()
	cascadeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	for category, n := range counts {
		if n > 0 {
			cascadeRows.WithLabelValues(category).Add(float64(n))
		}
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
