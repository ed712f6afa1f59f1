// Package metrics defines the Prometheus collectors of the status pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arkstatus"

var (
	// Cycles counts tenant cycles by outcome (published, skipped, failed).
	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Tenant report cycles by result.",
	}, []string{"result"})

	// CycleDuration observes the wall time of one tenant cycle.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a tenant aggregate and publish cycle.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// ResolverFailures counts absorbed upstream failures by source.
	ResolverFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_failures_total",
		Help:      "Upstream resolver failures absorbed into defaults.",
	}, []string{"source"})

	// PublishFailures counts channel operation failures by operation.
	PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_failures_total",
		Help:      "Messaging channel operation failures.",
	}, []string{"operation"})

	// Resources tracks the records of the latest reports by health class.
	Resources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenant_resources",
		Help:      "Resources in the latest tenant report by health class.",
	}, []string{"tenant", "health"})
)

// NewRegistry returns a registry with the pipeline and runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Cycles,
		CycleDuration,
		ResolverFailures,
		PublishFailures,
		Resources,
	)

	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
