// Package backend holds the service registry: the in-memory source of truth
// for where each named backend service lives and whether its last health
// probe passed. The registry is owned by the caller and injected into the
// router, forwarder, aggregator and health monitor.
package backend
