// Package healthcheck periodically probes every registered service's /health
// endpoint and records the outcome in the service registry.
//
// A probe is healthy only on a 2xx answer within the probe timeout. Probe
// failures are logged and never retried within the same round.
package healthcheck
