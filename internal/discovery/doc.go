// Package discovery seeds and refreshes the service registry from the Consul
// health catalog. Only services with at least one passing instance are
// registered; the most recently modified instance wins since the gateway
// keeps a single instance per service name.
package discovery
