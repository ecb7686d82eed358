package extension

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the extension subsystem.
type Metrics struct {
	ExtensionsLoaded    prometheus.Gauge
	FunctionsRegistered prometheus.Gauge

	LoadsTotal            *prometheus.CounterVec
	ReloadsTotal          prometheus.Counter
	RegistrationsRejected prometheus.Counter

	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all extension metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ExtensionsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "limbo_extensions_loaded",
				Help: "Number of currently loaded extensions",
			},
		),
		FunctionsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "limbo_scalar_functions_registered",
				Help: "Number of scalar functions currently bound",
			},
		),
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limbo_extension_loads_total",
				Help: "Total number of extension load attempts",
			},
			[]string{"status"},
		),
		ReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "limbo_extension_reloads_total",
				Help: "Total number of extension reloads",
			},
		),
		RegistrationsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "limbo_registrations_rejected_total",
				Help: "Total number of rejected registration announcements",
			},
		),
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "limbo_scalar_calls_total",
				Help: "Total number of scalar function calls",
			},
			[]string{"function", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "limbo_scalar_call_duration_seconds",
				Help:    "Scalar function call duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"function"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.ExtensionsLoaded,
		m.FunctionsRegistered,
		m.LoadsTotal,
		m.ReloadsTotal,
		m.RegistrationsRejected,
		m.CallsTotal,
		m.CallDuration,
	)

	return m
}

// RegisterMetricsEndpoint registers the /metrics endpoint.
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
