package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/api-gateway/internal/aggregator"
	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/routing"
)

const maxBodyBytes = 10 << 20

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Info describes the running gateway.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type GatewayHandler struct {
	logger     *slog.Logger
	info       Info
	registry   *backend.Registry
	breakers   *circuitbreaker.Registry
	router     *routing.Router
	aggregator *aggregator.Aggregator
	composite  aggregator.Services
	collector  *metrics.Collector
	startedAt  time.Time
}

func NewGatewayHandler(
	logger *slog.Logger,
	info Info,
	registry *backend.Registry,
	breakers *circuitbreaker.Registry,
	router *routing.Router,
	agg *aggregator.Aggregator,
	composite aggregator.Services,
	collector *metrics.Collector,
) *GatewayHandler {
	return &GatewayHandler{
		logger:     logger,
		info:       info,
		registry:   registry,
		breakers:   breakers,
		router:     router,
		aggregator: agg,
		composite:  composite,
		collector:  collector,
		startedAt:  time.Now(),
	}
}

// Proxy forwards /api/<prefix>/... to the matching backend.
func (h *GatewayHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	resp, err := h.router.Route(r.Context(), r)
	if err != nil {
		writeRouteError(w, h.logger, err)
		return
	}
	resp.Write(w)
}

func (h *GatewayHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        h.info.Name,
		"version":     h.info.Version,
		"environment": h.info.Environment,
		"endpoints":   h.endpoints(),
		"timestamp":   time.Now(),
	})
}

func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   h.info.Version,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"services":  h.registry.ListServices(),
		"timestamp": time.Now(),
	})
}

func (h *GatewayHandler) ListRegistry(w http.ResponseWriter, r *http.Request) {
	services := h.registry.ListServices()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"services":  services,
		"count":     len(services),
		"timestamp": time.Now(),
	})
}

type registerRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (req registerRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, 64), validation.Match(serviceNamePattern)),
		validation.Field(&req.URL, validation.Required, is.URL, validation.By(httpScheme)),
	)
}

func httpScheme(value any) error {
	raw, _ := value.(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.NewError("validation_http_url", "must be an absolute http(s) URL")
	}
	return nil
}

// Register adds or replaces a service registration at runtime.
func (h *GatewayHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w, tooLarge.Limit)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	u, _ := url.Parse(req.URL)
	svc := h.registry.Register(req.Name, u)

	h.logger.Info("Service registered",
		slog.String("service", svc.Name),
		slog.String("url", svc.URL()))

	writeJSON(w, http.StatusCreated, envelope{
		Success:   true,
		Message:   "Service registered",
		Data:      svc,
		Timestamp: time.Now(),
	})
}

func (h *GatewayHandler) DebugServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services":        h.registry.ListServices(),
		"circuitBreakers": h.breakers.Stats(),
		"routes":          h.router.Table().Rules(),
		"statistics":      h.collector.Snapshot(),
		"timestamp":       time.Now(),
	})
}

// Dashboard aggregates the caller's profile with product and category
// listings. It requires an Authorization header.
func (h *GatewayHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "The dashboard requires an Authorization header")
		return
	}

	results := h.aggregator.Fetch(r.Context(), aggregator.DashboardQueries(h.composite), r.Header)
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Data:      results,
		Timestamp: time.Now(),
	})
}

// Search queries products for everyone and users for authenticated callers.
func (h *GatewayHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "Missing query", "The q query parameter is required")
		return
	}

	results := h.aggregator.Fetch(r.Context(), aggregator.SearchQueries(h.composite, term), r.Header)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"query":     term,
		"data":      results,
		"timestamp": time.Now(),
	})
}

func (h *GatewayHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success":            false,
		"error":              "Endpoint not found",
		"message":            "No route for " + r.Method + " " + r.URL.Path,
		"availableEndpoints": h.endpoints(),
		"timestamp":          time.Now(),
	})
}

func (h *GatewayHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method+" is not supported on "+r.URL.Path)
}

func (h *GatewayHandler) endpoints() map[string]string {
	endpoints := map[string]string{
		"GET /":               "Gateway information",
		"GET /health":         "Gateway health and registered services",
		"GET /registry":       "Registered services",
		"POST /registry":      "Register a service",
		"GET /debug/services": "Registry, circuit breakers and statistics",
		"GET /metrics":        "Prometheus metrics",
		"GET /api/dashboard":  "Profile, products and categories (requires Authorization)",
		"GET /api/search?q=":  "Search products, and users when authenticated",
	}
	for _, rule := range h.router.Table().Rules() {
		endpoints["ANY /api/"+rule.Prefix+"/*"] = "Proxied to " + rule.Service
	}
	return endpoints
}
