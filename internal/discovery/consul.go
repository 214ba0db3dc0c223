package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/angeloszaimis/api-gateway/internal/backend"
)

const DefaultRefreshInterval = 30 * time.Second

type Config struct {
	Address         string
	RefreshInterval time.Duration
}

type headerRoundTripper struct {
	rt http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	return h.rt.RoundTrip(req)
}

func newClient(addr string) (*consulapi.Client, error) {
	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = addr
	consulCfg.HttpClient = &http.Client{
		Transport: &headerRoundTripper{rt: http.DefaultTransport},
	}
	return consulapi.NewClient(consulCfg)
}

// ConsulSource registers Consul catalog services into a backend.Registry.
type ConsulSource struct {
	logger   *slog.Logger
	client   *consulapi.Client
	registry *backend.Registry
	interval time.Duration
}

func NewConsulSource(logger *slog.Logger, cfg Config, registry *backend.Registry) (*ConsulSource, error) {
	client, err := newClient(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &ConsulSource{
		logger:   logger,
		client:   client,
		registry: registry,
		interval: interval,
	}, nil
}

// Sync performs one catalog pass and returns the number of services whose
// registration was created or changed. A service already registered with the
// same URL is left untouched so its health state survives refreshes.
func (s *ConsulSource) Sync(ctx context.Context) (int, error) {
	opts := (&consulapi.QueryOptions{}).WithContext(ctx)

	catalog, _, err := s.client.Catalog().Services(opts)
	if err != nil {
		return 0, fmt.Errorf("listing consul services: %w", err)
	}

	names := make([]string, 0, len(catalog))
	for name := range catalog {
		if name != "consul" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	updated := 0
	for _, name := range names {
		entries, _, err := s.client.Health().Service(name, "", true, opts)
		if err != nil {
			s.logger.Error("Failed fetching healthy entries",
				slog.String("service", name),
				slog.Any("error", err))
			continue
		}

		u, ok := instanceURL(entries)
		if !ok {
			s.logger.Warn("Service has no healthy instances", slog.String("service", name))
			continue
		}

		if current, err := s.registry.Discover(name); err == nil && current.URL() == u.String() {
			continue
		}

		s.registry.Register(name, u)
		updated++
		s.logger.Info("Service registered from consul",
			slog.String("service", name),
			slog.String("url", u.String()))
	}

	return updated, nil
}

// Run syncs immediately and then once per refresh interval until ctx is
// cancelled.
func (s *ConsulSource) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Consul sync failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// instanceURL picks the most recently modified entry. The "scheme" service
// meta key selects https; http is the default.
func instanceURL(entries []*consulapi.ServiceEntry) (*url.URL, bool) {
	modifyIndex := func(e *consulapi.ServiceEntry) uint64 {
		if e.Service == nil {
			return 0
		}
		return e.Service.ModifyIndex
	}
	sort.Slice(entries, func(i, j int) bool {
		return modifyIndex(entries[i]) > modifyIndex(entries[j])
	})

	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		if addr == "" || e.Service.Port == 0 {
			continue
		}

		scheme := "http"
		if e.Service.Meta["scheme"] == "https" {
			scheme = "https"
		}
		return &url.URL{Scheme: scheme, Host: net.JoinHostPort(addr, strconv.Itoa(e.Service.Port))}, true
	}
	return nil, false
}
