// Package logger builds the gateway's structured slog logger: text output in
// dev and staging, JSON in prod, tagged with the environment.
package logger
