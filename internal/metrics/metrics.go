package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Collector holds the portal's Prometheus metrics on a dedicated registry
type Collector struct {
	registry *prometheus.Registry

	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	refreshes         *prometheus.CounterVec
	exercisesLoaded   prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewCollector creates and registers every portal metric
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Number of code executions by outcome",
		},
		[]string{"outcome"},
	)
	c.executionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of code executions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)
	c.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exercise_refresh_total",
			Help:      "Number of exercise catalogue refreshes by result",
		},
		[]string{"result"},
	)
	c.exercisesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exercises_loaded",
			Help:      "Number of exercises stored by the last successful refresh",
		},
	)
	c.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	c.registry.MustRegister(
		c.executions,
		c.executionDuration,
		c.refreshes,
		c.exercisesLoaded,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveExecution records one gateway execution
func (c *Collector) ObserveExecution(outcome string, d time.Duration) {
	c.executions.WithLabelValues(outcome).Inc()
	c.executionDuration.Observe(d.Seconds())
}

// ObserveRefresh records one exercise refresh
func (c *Collector) ObserveRefresh(loaded int, err error) {
	if err != nil {
		c.refreshes.WithLabelValues("error").Inc()
		return
	}
	c.refreshes.WithLabelValues("success").Inc()
	c.exercisesLoaded.Set(float64(loaded))
}

// ObserveRequest records one HTTP request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
