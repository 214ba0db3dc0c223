// Package routing maps gateway paths of the form /api/<prefix>/... onto a
// backend service and a rewritten backend path, then dispatches through the
// proxy forwarder unless the service's circuit breaker is open.
package routing
