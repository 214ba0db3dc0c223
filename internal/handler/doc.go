// Package handler implements the gateway's HTTP surface: the proxy entry
// point, the composite dashboard and search endpoints, registry and
// diagnostics endpoints, and the middleware wrapped around all of them.
//
// Gateway-originated responses use a JSON envelope with a success flag.
// Proxied responses are written verbatim.
package handler
