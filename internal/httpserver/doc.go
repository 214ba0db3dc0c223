// Package httpserver wraps http.Server with listen address validation,
// configurable timeouts and a bounded graceful shutdown.
package httpserver
