package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry is the subset of *prometheus.Registry the metrics
// contract needs, so tests can pass a scratch registry and
// cmd/bigbrotr can pass prometheus.DefaultRegisterer for exposition
// (the exposition HTTP handler itself is glue, out of scope per
// spec.md §1, but the registry it reads from is not).
type MetricsRegistry interface {
	MustRegister(...prometheus.Collector)
}

// Metrics backs the per-service metrics contract of spec.md §4.1:
// cumulative counters (cycles_success, cycles_failed, errors_<kind>),
// gauges (consecutive_failures, last_cycle_timestamp, and any
// service-specific gauge), and a cycle-duration histogram — plus an
// open-ended set_gauge/inc_counter surface for service-specific
// observations.
type Metrics struct {
	service string

	cycleDuration *prometheus.HistogramVec
	counters      *prometheus.CounterVec
	gauges        *prometheus.GaugeVec
}

// NewMetrics registers (or, on a shared registry, reuses) the
// service-scoped collector set. Registration is done defensively: if a
// registry already has these collectors (e.g. two services sharing one
// process in tests), duplicate-registration errors are ignored, matching
// the common prometheus-client idiom of registering once per process.
func NewMetrics(reg MetricsRegistry, serviceName string) *Metrics {
	m := &Metrics{
		service: serviceName,
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bigbrotr",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one service cycle, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bigbrotr",
			Name:      "counter",
			Help:      "Cumulative per-service counters (cycles_success, cycles_failed, errors_<kind>, ...).",
		}, []string{"service", "name"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bigbrotr",
			Name:      "gauge",
			Help:      "Per-service gauges (consecutive_failures, last_cycle_timestamp, ...).",
		}, []string{"service", "name"}),
	}
	if reg != nil {
		registerIgnoringDuplicates(reg, m.cycleDuration)
		registerIgnoringDuplicates(reg, m.counters)
		registerIgnoringDuplicates(reg, m.gauges)
	}
	return m
}

// registerIgnoringDuplicates registers a single collector, swallowing
// the panic MustRegister raises when two services share a registry and
// register the same collector name twice (both describe identically
// labeled "service" metrics, so re-registration is harmless).
func registerIgnoringDuplicates(reg MetricsRegistry, c prometheus.Collector) {
	defer func() { _ = recover() }()
	reg.MustRegister(c)
}

// IncCounter increments the named counter for this service.
func (m *Metrics) IncCounter(name string, delta float64) {
	m.counters.WithLabelValues(m.service, name).Add(delta)
}

// SetGauge sets the named gauge for this service.
func (m *Metrics) SetGauge(name string, value float64) {
	m.gauges.WithLabelValues(m.service, name).Set(value)
}

// ObserveCycleDuration records one cycle_duration_seconds observation.
func (m *Metrics) ObserveCycleDuration(seconds float64) {
	m.cycleDuration.WithLabelValues(m.service).Observe(seconds)
}
