package healthcheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultTimeout      = 5 * time.Second
	DefaultStartupDelay = 2 * time.Second

	maxConcurrentProbes = 8
)

// Monitor owns the periodic probing goroutine.
type Monitor struct {
	logger       *slog.Logger
	registry     *backend.Registry
	collector    *metrics.Collector
	client       *http.Client
	interval     time.Duration
	timeout      time.Duration
	startupDelay time.Duration

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(logger *slog.Logger, registry *backend.Registry, collector *metrics.Collector, interval, timeout, startupDelay time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if startupDelay < 0 {
		startupDelay = 0
	}
	return &Monitor{
		logger:       logger,
		registry:     registry,
		collector:    collector,
		client:       &http.Client{Timeout: timeout},
		interval:     interval,
		timeout:      timeout,
		startupDelay: startupDelay,
	}
}

// Start runs an initial round after the startup delay and then one round per
// interval until ctx is cancelled or Stop is called. Calling Start on a
// running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop cancels the probing goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.logger.Info("Health monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("startup_delay", m.startupDelay))
	defer m.logger.Info("Health monitor stopped")

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.startupDelay):
	}
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered service once, concurrently, and returns
// when all probes have finished.
func (m *Monitor) CheckAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)

	for _, svc := range m.registry.ListServices() {
		svc := svc
		g.Go(func() error {
			m.check(ctx, svc)
			return nil
		})
	}

	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, svc backend.Service) {
	healthy := m.probe(ctx, svc)
	if ctx.Err() != nil {
		// Stopped mid-round; the probe outcome says nothing about the service.
		return
	}
	if m.registry.UpdateHealth(svc.Name, healthy) {
		if healthy {
			m.logger.Info("Service is back up", slog.String("service", svc.Name))
		} else {
			m.logger.Warn("Service is down", slog.String("service", svc.Name))
		}
	}

	m.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventHealthChanged,
		Service: svc.Name,
		Healthy: healthy,
	})
}

func (m *Monitor) probe(ctx context.Context, svc backend.Service) bool {
	if svc.BaseURL == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	healthURL := svc.BaseURL.ResolveReference(&url.URL{Path: "/health"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		m.logger.Error("Building health probe failed",
			slog.String("service", svc.Name),
			slog.Any("error", err))
		return false
	}

	res, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			m.logger.Warn("Health probe failed",
				slog.String("service", svc.Name),
				slog.Any("error", err))
		}
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		m.logger.Warn("Health probe failed",
			slog.String("service", svc.Name),
			slog.Int("status", res.StatusCode))
		return false
	}
	return true
}
