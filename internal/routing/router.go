package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
)

type Router struct {
	logger    *slog.Logger
	table     *Table
	registry  *backend.Registry
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	collector *metrics.Collector
}

func NewRouter(logger *slog.Logger, table *Table, registry *backend.Registry, breakers *circuitbreaker.Registry, forwarder *proxy.Forwarder, collector *metrics.Collector) *Router {
	return &Router{
		logger:    logger,
		table:     table,
		registry:  registry,
		breakers:  breakers,
		forwarder: forwarder,
		collector: collector,
	}
}

func (r *Router) Table() *Table {
	return r.table
}

// Route resolves req to a backend service and forwards it. Errors are
// *backend.ServiceNotFoundError for unknown prefixes or services,
// *proxy.ServiceUnavailableError when the breaker is open, *http.MaxBytesError
// when the body exceeds the reader's limit, or whatever the forwarder returned.
func (r *Router) Route(ctx context.Context, req *http.Request) (*proxy.Response, error) {
	rule, path, segment, ok := r.table.Resolve(req.URL.EscapedPath())
	if !ok {
		return nil, &backend.ServiceNotFoundError{Name: segment, Available: r.registry.Names()}
	}

	svc, err := r.registry.Discover(rule.Service)
	if err != nil {
		return nil, err
	}

	if r.breakers.IsOpen(svc.Name) {
		r.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Service: svc.Name})
		r.logger.Warn("Circuit open, rejecting request",
			slog.String("service", svc.Name),
			slog.String("path", req.URL.Path))
		return nil, &proxy.ServiceUnavailableError{Service: svc.Name}
	}

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, fmt.Errorf("reading request body: %w", err)
			}
			return nil, fmt.Errorf("reading request body: %w: %v", proxy.ErrInternal, err)
		}
	}

	return r.forwarder.Forward(ctx, svc, proxy.Request{
		Method:   req.Method,
		Path:     path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	})
}
