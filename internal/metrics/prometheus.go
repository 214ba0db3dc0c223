package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// prometheusMetrics lives on a private registry so that every Collector,
// including the ones built in tests, exposes an isolated set of series.
type prometheusMetrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	responsesTotal   *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	rejectedTotal    *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	serviceHealthy   *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
}

func newPrometheusMetrics() *prometheusMetrics {
	pm := &prometheusMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of requests dispatched to a backend service",
			},
			[]string{"service"},
		),
		responsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_responses_total",
				Help: "Total number of backend responses by status code",
			},
			[]string{"service", "code"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_duration_seconds",
				Help:    "Latency of forwarded backend calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_rejections_total",
				Help: "Total number of requests rejected by an open circuit breaker",
			},
			[]string{"service"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_failures_total",
				Help: "Total number of unreachable-backend failures by transport code",
			},
			[]string{"service", "code"},
		),
		serviceHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_service_healthy",
				Help: "Result of the last health probe (1=healthy, 0=unhealthy)",
			},
			[]string{"service"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open)",
			},
			[]string{"service"},
		),
	}

	pm.registry.MustRegister(
		pm.requestsTotal,
		pm.responsesTotal,
		pm.upstreamDuration,
		pm.rejectedTotal,
		pm.failuresTotal,
		pm.serviceHealthy,
		pm.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return pm
}

func (pm *prometheusMetrics) observe(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		pm.requestsTotal.WithLabelValues(event.Service).Inc()

	case EventResponseCompleted:
		pm.responsesTotal.WithLabelValues(event.Service, strconv.Itoa(event.StatusCode)).Inc()
		pm.upstreamDuration.WithLabelValues(event.Service).Observe(event.Duration.Seconds())

	case EventRequestRejected:
		pm.rejectedTotal.WithLabelValues(event.Service).Inc()

	case EventUpstreamFailed:
		pm.failuresTotal.WithLabelValues(event.Service, event.ErrorCode).Inc()

	case EventHealthChanged:
		pm.serviceHealthy.WithLabelValues(event.Service).Set(boolToFloat(event.Healthy))

	case EventBreakerChanged:
		pm.breakerState.WithLabelValues(event.Service).Set(boolToFloat(event.BreakerOpen))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
