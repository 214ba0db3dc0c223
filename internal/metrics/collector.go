package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventResponseCompleted EventType = "response_completed"
	EventRequestRejected   EventType = "request_rejected"
	EventUpstreamFailed    EventType = "upstream_failed"
	EventHealthChanged     EventType = "health_changed"
	EventBreakerChanged    EventType = "breaker_changed"
)

type MetricEvent struct {
	Type        EventType
	Timestamp   time.Time
	Service     string
	Duration    time.Duration
	StatusCode  int
	Healthy     bool
	BreakerOpen bool
	// ErrorCode carries the transport classification for EventUpstreamFailed.
	ErrorCode string
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *prometheusMetrics
	logger     *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: newPrometheusMetrics(),
		logger:     logger,
	}
}

// Emit queues an event without blocking; events are dropped when the buffer
// is full. A nil collector discards everything.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Service)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Service, event.Duration, event.StatusCode)

	case EventRequestRejected:
		c.metrics.RecordRejection(event.Service)

	case EventUpstreamFailed:
		c.metrics.RecordFailure(event.Service)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)

	case EventBreakerChanged:
		c.metrics.UpdateBreakerStatus(event.Service, event.BreakerOpen)
	}

	c.prometheus.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Services: map[string]ServiceMetrics{}}
	}
	return c.metrics.Snapshot()
}
