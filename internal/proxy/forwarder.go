package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

const DefaultTimeout = 10 * time.Second

// hopHeaders are not copied from backend responses.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request describes one outbound call. Path is already rewritten for the
// backend and stays in its escaped form.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Forwarder struct {
	logger    *slog.Logger
	client    *http.Client
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	timeout   time.Duration
}

func NewForwarder(logger *slog.Logger, breakers *circuitbreaker.Registry, collector *metrics.Collector, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{
		logger:    logger,
		client:    &http.Client{},
		breakers:  breakers,
		collector: collector,
		timeout:   timeout,
	}
}

// Forward calls svc with req and records the outcome on the service's
// breaker. The call ignores ctx cancellation and is bounded by the forwarder
// timeout instead.
func (f *Forwarder) Forward(ctx context.Context, svc backend.Service, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	var body io.Reader
	if hasBody(req.Method) && len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	u, err := targetURL(svc.BaseURL, req.Path, req.RawQuery)
	if err != nil {
		f.breakers.RecordFailure(svc.Name)
		return nil, fmt.Errorf("building target for %s: %w: %v", svc.Name, ErrInternal, err)
	}
	target := u.String()

	outReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		f.breakers.RecordFailure(svc.Name)
		return nil, fmt.Errorf("building request for %s: %w: %v", svc.Name, ErrInternal, err)
	}
	copyRequestHeaders(outReq.Header, req.Header)

	f.collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Service: svc.Name})

	f.logger.Debug("Forwarding request",
		slog.String("service", svc.Name),
		slog.String("method", req.Method),
		slog.String("target", target))

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		return nil, f.fail(svc.Name, target, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.fail(svc.Name, target, err)
	}

	duration := time.Since(start)
	f.breakers.RecordSuccess(svc.Name)
	f.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Service:    svc.Name,
		Duration:   duration,
		StatusCode: resp.StatusCode,
	})

	f.logger.Debug("Backend responded",
		slog.String("service", svc.Name),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     responseHeaders(resp.Header),
		Body:       payload,
	}, nil
}

func (f *Forwarder) fail(service, target string, err error) error {
	f.breakers.RecordFailure(service)

	code := classify(err)
	if code == "" {
		f.logger.Error("Forwarding failed",
			slog.String("service", service),
			slog.String("target", target),
			slog.Any("error", err))
		return fmt.Errorf("forwarding to %s: %w: %v", service, ErrInternal, err)
	}

	f.collector.Emit(metrics.MetricEvent{Type: metrics.EventUpstreamFailed, Service: service, ErrorCode: code})
	f.logger.Warn("Backend unreachable",
		slog.String("service", service),
		slog.String("target", target),
		slog.String("code", code),
		slog.Any("error", err))

	return &UpstreamUnreachableError{Service: service, Code: code, Cause: err}
}

// targetURL appends an escaped path to base without re-parsing it, so escaped
// '?', '#' and '/' survive as part of the path.
func targetURL(base *url.URL, escapedPath, rawQuery string) (*url.URL, error) {
	if base == nil {
		return nil, errors.New("service has no base URL")
	}

	joined := strings.TrimRight(base.EscapedPath(), "/") + escapedPath
	if joined == "" {
		joined = "/"
	}
	path, err := url.PathUnescape(joined)
	if err != nil {
		return nil, err
	}

	u := *base
	u.Path = path
	u.RawPath = joined
	u.RawQuery = rawQuery
	u.Fragment, u.RawFragment = "", ""
	return &u, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Content-Length":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func responseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Content-Length")
	return dst
}

// Write copies the buffered response onto w, replacing any header of the
// same name already set on w.
func (r *Response) Write(w http.ResponseWriter) {
	for name, values := range r.Header {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}
