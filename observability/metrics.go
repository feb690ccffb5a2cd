// Package observability holds the Prometheus metrics shared by the tenancy
// services. A nil *Metrics is valid and records nothing.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenancy"

// Metrics wraps the Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	StoreWrites         *prometheus.CounterVec
	DegradedWrites      *prometheus.CounterVec
	Provisioning        *prometheus.CounterVec
	MigrationsApplied   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics with its own registry. Go runtime and process
// collectors are registered alongside the tenancy series.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Entity writes by backend and outcome",
		}, []string{"entity", "backend", "status"}),
		DegradedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_writes_total",
			Help:      "Multi-store writes where a secondary store failed",
		}, []string{"entity"}),
		Provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_total",
			Help:      "Tenant provisioning runs by outcome",
		}, []string{"status"}),
		MigrationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_applied_total",
			Help:      "Migration units applied or rolled back",
		}, []string{"backend", "direction"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StoreWrites,
		m.DegradedWrites,
		m.Provisioning,
		m.MigrationsApplied,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordWrite counts one write of entity against backend.
func (m *Metrics) RecordWrite(entity, backend string, err error) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(entity, backend, status(err)).Inc()
}

// RecordDegraded counts a write that succeeded on the primary store only.
func (m *Metrics) RecordDegraded(entity string) {
	if m == nil {
		return
	}
	m.DegradedWrites.WithLabelValues(entity).Inc()
}

// RecordProvisioning counts a provisioning run.
func (m *Metrics) RecordProvisioning(err error) {
	if m == nil {
		return
	}
	m.Provisioning.WithLabelValues(status(err)).Inc()
}

// RecordMigration counts one applied ("up") or reverted ("down") unit.
func (m *Metrics) RecordMigration(backend, direction string) {
	if m == nil {
		return
	}
	m.MigrationsApplied.WithLabelValues(backend, direction).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
