// Package config loads gateway configuration from config.yaml (searched in
// ./config and .) and environment variables, applies defaults and validates
// the result. Nested keys map to environment variables with "." replaced by
// "_", e.g. SERVER_ADDRESS or CIRCUIT_BREAKER_COOLDOWN.
package config
