package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/angeloszaimis/api-gateway/internal/handler"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/routing"
)

func setupRouter(h *handler.GatewayHandler, table *routing.Table, collector *metrics.Collector, middlewares ...handler.Middleware) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/registry", h.ListRegistry).Methods(http.MethodGet)
	r.HandleFunc("/registry", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/debug/services", h.DebugServices).Methods(http.MethodGet)
	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/dashboard", h.Dashboard).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)

	// Proxy only the configured prefixes; anything else under /api is a 404.
	for _, prefix := range table.Prefixes() {
		api.HandleFunc("/"+prefix, h.Proxy)
		api.PathPrefix("/" + prefix + "/").HandlerFunc(h.Proxy)
	}

	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	return handler.Chain(r, middlewares...)
}
