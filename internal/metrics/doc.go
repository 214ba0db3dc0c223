// Package metrics collects per-service gateway statistics.
//
// Request handling, the circuit breakers and the health monitor emit events
// into a buffered channel; a dedicated goroutine folds them into:
//   - Request, rejection and failure counts per service
//   - Backend response times with percentile calculations (P50, P95, P99)
//   - Backend status code distribution
//   - Last health probe result and circuit breaker state
//
// The same events update Prometheus series on a registry private to the
// collector, served by Handler. Emit never blocks the request path: events
// are dropped when the buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Service:    "user-service",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
