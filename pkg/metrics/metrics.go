// Package metrics exports probe readings to Prometheus.
package metrics

import (
	"net/http"

	"github.com/itohio/phx/pkg/phx"
	"github.com/itohio/phx/pkg/sampler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the reading metrics.
type Collector struct {
	registry *prometheus.Registry
	value    *prometheus.GaugeVec
	smoothed *prometheus.GaugeVec
	errors   *prometheus.CounterVec
	cycles   *prometheus.CounterVec
}

// New registers the metrics on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phx_reading_value",
			Help: "Last converted probe value (pH or mV).",
		}, []string{"probe", "kind"}),
		smoothed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "phx_reading_smoothed",
			Help: "Rolling average of the last cycle outputs.",
		}, []string{"probe", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phx_reading_errors_total",
			Help: "Cycles that completed with an error.",
		}, []string{"probe", "error"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phx_cycles_total",
			Help: "Completed acquisition cycles.",
		}, []string{"probe"}),
	}
	c.registry.MustRegister(c.value, c.smoothed, c.errors, c.cycles)
	return c
}

// Observe records one reading. It matches the sampler callback signature.
func (c *Collector) Observe(r sampler.Reading) {
	kind := r.Kind.String()
	c.value.WithLabelValues(r.Probe, kind).Set(r.Value)
	c.smoothed.WithLabelValues(r.Probe, kind).Set(r.Smoothed)
	c.cycles.WithLabelValues(r.Probe).Inc()
	if r.Error != phx.None {
		c.errors.WithLabelValues(r.Probe, r.Error.String()).Inc()
	}
}

// Registry returns the registry holding the metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
