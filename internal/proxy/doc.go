// Package proxy forwards a single request to a registered backend service and
// classifies the outcome for the circuit breaker.
//
// Any response the backend produces, including 4xx and 5xx, is a success from
// the breaker's point of view and is returned verbatim. Only an unreachable
// backend (refused, timed out, unresolvable, reset) or a local failure to
// build the call counts as a breaker failure.
package proxy
