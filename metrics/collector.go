// Package metrics exposes Prometheus instrumentation for pipeline runs, steps,
// repository failover and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the Collector.
type Config struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Path      string `yaml:"path" env:"PATH"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Namespace: "contentflow", Path: "/metrics"}
}

// Collector wraps the Prometheus vectors used by the service. It owns its
// registry so tests can create independent instances. All methods are safe
// on a nil *Collector.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	Runs                *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	Steps               *prometheus.CounterVec
	StepDuration        *prometheus.HistogramVec
	Demotions           *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with its own registry.
func New(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	ns := cfg.Namespace
	reg := prometheus.NewRegistry()

	c := &Collector{
		config:   cfg,
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by trigger and outcome",
		}, []string{"trigger", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "pipeline_steps_total",
			Help:      "Total number of executed steps by kind and outcome",
		}, []string{"kind", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of individual steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		Demotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "repository_demotions_total",
			Help:      "Number of repository backend demotions",
		}, []string{"from", "to"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "queue_deliveries_total",
			Help:      "Queue deliveries by outcome",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Runs, c.RunDuration,
		c.Steps, c.StepDuration,
		c.Demotions, c.Deliveries,
		c.HTTPRequestsTotal, c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Path returns the configured metrics endpoint path.
func (c *Collector) Path() string {
	if c == nil {
		return DefaultConfig().Path
	}
	return c.config.Path
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler that serves the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun records the outcome and duration of a pipeline run.
func (c *Collector) RecordRun(trigger, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(trigger, status).Inc()
	c.RunDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// RecordStep records the outcome and duration of one step.
func (c *Collector) RecordStep(kind, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Steps.WithLabelValues(kind, status).Inc()
	c.StepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordDemotion counts a repository backend switch.
func (c *Collector) RecordDemotion(from, to string) {
	if c == nil {
		return
	}
	c.Demotions.WithLabelValues(from, to).Inc()
}

// RecordDelivery counts a queue delivery outcome.
func (c *Collector) RecordDelivery(status string) {
	if c == nil {
		return
	}
	c.Deliveries.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
