package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/api-gateway/config"
	"github.com/angeloszaimis/api-gateway/internal/aggregator"
	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/discovery"
	"github.com/angeloszaimis/api-gateway/internal/handler"
	"github.com/angeloszaimis/api-gateway/internal/healthcheck"
	"github.com/angeloszaimis/api-gateway/internal/httpserver"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
	"github.com/angeloszaimis/api-gateway/internal/routing"
	"github.com/angeloszaimis/api-gateway/pkg/logger"
)

const (
	gatewayName       = "api-gateway"
	metricsBufferSize = 1000
)

// gateway holds the wired components main starts and stops.
type gateway struct {
	registry  *backend.Registry
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	monitor   *healthcheck.Monitor
	consul    *discovery.ConsulSource
	router    http.Handler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := buildGateway(cfg, log)
	if err != nil {
		log.Error("Failed to build gateway", slog.Any("err", err))
		os.Exit(1)
	}

	gw.collector.Start(ctx)
	if gw.consul != nil {
		go gw.consul.Run(ctx)
	}
	gw.monitor.Start(ctx)

	srv, err := httpserver.New(cfg.Server.Address, gw.router, httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("API gateway listening",
		slog.String("address", cfg.Server.Address),
		slog.Any("services", gw.registry.Names()))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		gw.monitor.Stop()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		gw.monitor.Stop()
		if err != nil {
			log.Error("Error starting API gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildGateway(cfg *config.Config, log *slog.Logger) (*gateway, error) {
	collector := metrics.NewCollector(metricsBufferSize, logger.Component(log, "metrics"))

	breakerLog := logger.Component(log, "circuitbreaker")
	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.FailureThreshold,
		cfg.CircuitBreaker.Cooldown,
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			breakerLog.Warn("Circuit breaker state changed",
				slog.String("service", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			collector.Emit(metrics.MetricEvent{
				Type:        metrics.EventBreakerChanged,
				Service:     name,
				BreakerOpen: to == circuitbreaker.StateOpen,
			})
		}),
	)

	registry, err := initializeRegistry(cfg, log)
	if err != nil {
		return nil, err
	}

	table, err := buildRouteTable(cfg)
	if err != nil {
		return nil, err
	}

	forwarder := proxy.NewForwarder(logger.Component(log, "proxy"), breakers, collector, cfg.Proxy.Timeout)
	router := routing.NewRouter(logger.Component(log, "routing"), table, registry, breakers, forwarder, collector)
	agg := aggregator.NewAggregator(logger.Component(log, "aggregator"), registry, breakers, forwarder, collector)

	info := handler.Info{
		Name:        gatewayName,
		Version:     cfg.Server.Version,
		Environment: cfg.Server.Environment,
	}
	composite := aggregator.Services{
		Users:      cfg.Composite.Users,
		Products:   cfg.Composite.Products,
		Categories: cfg.Composite.Categories,
	}
	gatewayHandler := handler.NewGatewayHandler(logger.Component(log, "handler"), info, registry, breakers, router, agg, composite, collector)

	httpLog := logger.Component(log, "http")
	middlewares := []handler.Middleware{
		handler.Recovery(httpLog),
		handler.RequestID(),
		handler.GatewayHeaders(info),
		handler.Logging(httpLog),
	}
	if cfg.RateLimit.Enabled {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		middlewares = append(middlewares, handler.RateLimit(limiter, httpLog))
	}

	gw := &gateway{
		registry:  registry,
		breakers:  breakers,
		collector: collector,
		monitor: healthcheck.NewMonitor(logger.Component(log, "healthcheck"), registry, collector,
			cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout, cfg.HealthCheck.StartupDelay),
		router: setupRouter(gatewayHandler, table, collector, middlewares...),
	}

	if cfg.Discovery.Consul.Enabled {
		gw.consul, err = discovery.NewConsulSource(logger.Component(log, "discovery"), discovery.Config{
			Address:         cfg.Discovery.Consul.Address,
			RefreshInterval: cfg.Discovery.Consul.RefreshInterval,
		}, registry)
		if err != nil {
			return nil, err
		}
	}

	return gw, nil
}

func initializeRegistry(cfg *config.Config, log *slog.Logger) (*backend.Registry, error) {
	services, err := cfg.ParsedServices()
	if err != nil {
		return nil, err
	}

	registry := backend.NewRegistry()
	for _, svc := range cfg.Services {
		registry.Register(svc.Name, services[svc.Name])
		log.Info("Registered service",
			slog.String("service", svc.Name),
			slog.String("url", svc.URL))
	}

	if len(cfg.Services) == 0 && !cfg.Discovery.Consul.Enabled {
		return nil, fmt.Errorf("no services configured and consul discovery disabled")
	}

	return registry, nil
}

func buildRouteTable(cfg *config.Config) (*routing.Table, error) {
	if len(cfg.Routes) == 0 {
		return routing.NewTable(routing.DefaultRules())
	}

	rules := make([]routing.Rule, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		rules = append(rules, routing.Rule{
			Prefix:        r.Prefix,
			Service:       r.Service,
			BackendPrefix: r.BackendPrefix,
			DefaultPath:   r.DefaultPath,
		})
	}
	return routing.NewTable(rules)
}
