package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Metrics holds the Prometheus collectors exposed on /metrics. Each server
// owns its registry so tests can build several servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	simulations    *prometheus.CounterVec
	throttled      prometheus.Counter
	reloadFailures prometheus.Counter
}

// NewMetrics registers the service collectors on a fresh registry. The
// catalog version gauge reads version on every scrape, so reloads from any
// source (API, timer, peer notice) show up.
func NewMetrics(version func() uint64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinergia",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sinergia",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"route"}),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinergia",
			Name:      "simulations_total",
			Help:      "Completed simulations by discount source and eligibility.",
		}, []string{"source", "eligible"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinergia",
			Name:      "simulations_throttled_total",
			Help:      "Simulations rejected by the per-requester limit.",
		}),
		reloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinergia",
			Subsystem: "catalog",
			Name:      "reload_failures_total",
			Help:      "Catalog reloads that kept the previous snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.simulations,
		m.throttled,
		m.reloadFailures,
	)
	if version != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sinergia",
			Subsystem: "catalog",
			Name:      "version",
			Help:      "Version of the catalog snapshot in effect.",
		}, func() float64 { return float64(version()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeRequest(method, route string, status int, elapsed time.Duration) {
	if status == http.StatusTooManyRequests {
		m.throttled.Inc()
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) observeSimulation(result *domain.SimulationResult) {
	m.simulations.WithLabelValues(string(result.Source), strconv.FormatBool(result.Eligible)).Inc()
}
