package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector's series in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.prometheus.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.prometheus.registry
}
