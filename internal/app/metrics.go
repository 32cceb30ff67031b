package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	ballotsCast     *prometheus.CounterVec
	castsRejected   *prometheus.CounterVec
	proposalsClosed *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ballotsCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "ballots_cast_total",
			Help:      "Ballots accepted, by proposal scope.",
		}, []string{"scope"}),
		castsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "casts_rejected_total",
			Help:      "Ballots refused by the eligibility gate, by reason.",
		}, []string{"reason"}),
		proposalsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "proposals_closed_total",
			Help:      "Proposals closed, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gavel",
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gavel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ballotsCast,
		m.castsRejected,
		m.proposalsClosed,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ballotCast(scope string) {
	if m == nil {
		return
	}
	m.ballotsCast.WithLabelValues(scope).Inc()
}

func (m *Metrics) castRejected(reason string) {
	if m == nil {
		return
	}
	m.castsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) proposalClosed(passed bool) {
	if m == nil {
		return
	}
	outcome := "removed"
	if passed {
		outcome = "passed"
	}
	m.proposalsClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
