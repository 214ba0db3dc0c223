package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrUnavailable  = errors.New("service temporarily unavailable")
)

// Query is one sub-request of a composite endpoint.
type Query struct {
	Name        string
	Service     string
	Method      string
	Path        string
	Query       url.Values
	ForwardAuth bool
}

// Result is the outcome of one Query. Data holds the backend JSON body, or
// the body as a JSON string when it is not valid JSON.
type Result struct {
	Available bool            `json:"available"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type Aggregator struct {
	logger    *slog.Logger
	registry  *backend.Registry
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	collector *metrics.Collector
}

func NewAggregator(logger *slog.Logger, registry *backend.Registry, breakers *circuitbreaker.Registry, forwarder *proxy.Forwarder, collector *metrics.Collector) *Aggregator {
	return &Aggregator{
		logger:    logger,
		registry:  registry,
		breakers:  breakers,
		forwarder: forwarder,
		collector: collector,
	}
}

// Fetch runs queries concurrently and returns one Result per query name.
// inbound supplies the Authorization header for queries with ForwardAuth;
// such queries are skipped when it is absent.
func (a *Aggregator) Fetch(ctx context.Context, queries []Query, inbound http.Header) map[string]Result {
	var (
		mutex   sync.Mutex
		results = make(map[string]Result, len(queries))
		wg      conc.WaitGroup
	)

	auth := inbound.Get("Authorization")
	requestID := inbound.Get("X-Request-ID")

	for _, q := range queries {
		q := q
		wg.Go(func() {
			var res Result
			var catcher panics.Catcher
			catcher.Try(func() {
				res = a.fetchOne(ctx, q, auth, requestID)
			})
			if recovered := catcher.Recovered(); recovered != nil {
				a.logger.Error("Sub-query panicked",
					slog.String("query", q.Name),
					slog.String("service", q.Service),
					slog.Any("panic", recovered.Value))
				res = Result{Error: proxy.ErrInternal.Error()}
			}

			mutex.Lock()
			results[q.Name] = res
			mutex.Unlock()
		})
	}

	wg.Wait()
	return results
}

func (a *Aggregator) fetchOne(ctx context.Context, q Query, auth, requestID string) Result {
	if q.ForwardAuth && auth == "" {
		return Result{Error: ErrAuthRequired.Error()}
	}

	svc, err := a.registry.Discover(q.Service)
	if err != nil {
		return a.unavailable(q, err)
	}

	if a.breakers.IsOpen(svc.Name) {
		a.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Service: svc.Name})
		return a.unavailable(q, ErrUnavailable)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if q.ForwardAuth {
		header.Set("Authorization", auth)
	}
	if requestID != "" {
		header.Set("X-Request-ID", requestID)
	}

	method := q.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := a.forwarder.Forward(ctx, svc, proxy.Request{
		Method:   method,
		Path:     q.Path,
		RawQuery: q.Query.Encode(),
		Header:   header,
	})
	if err != nil {
		return a.unavailable(q, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return a.unavailable(q, fmt.Errorf("%s returned status %d", svc.Name, resp.StatusCode))
	}

	return Result{Available: true, Data: asJSON(resp.Body)}
}

func (a *Aggregator) unavailable(q Query, err error) Result {
	a.logger.Warn("Sub-query unavailable",
		slog.String("query", q.Name),
		slog.String("service", q.Service),
		slog.Any("error", err))
	return Result{Error: err.Error()}
}

func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}
