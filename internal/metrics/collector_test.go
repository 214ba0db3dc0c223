package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	dto "github.com/prometheus/client_model/go"

	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		log       *slog.Logger
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, log)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Start and event processing", func() {
		It("should fold request events into the snapshot", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Service: "user-service"})
			collector.Emit(metrics.MetricEvent{
				Type:       metrics.EventResponseCompleted,
				Service:    "user-service",
				Duration:   50 * time.Millisecond,
				StatusCode: 201,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Services["user-service"].StatusCodes[201]
			}).Should(Equal(int64(1)))
			Expect(collector.Snapshot().Services["user-service"].Requests).To(Equal(int64(1)))
		})

		It("should track rejections, failures, health and breaker state", func() {
			collector.Start(ctx)

			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Service: "user-service"})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventUpstreamFailed, Service: "user-service", ErrorCode: "ECONNREFUSED"})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventHealthChanged, Service: "user-service", Healthy: false})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBreakerChanged, Service: "user-service", BreakerOpen: true})

			Eventually(func() bool {
				return collector.Snapshot().Services["user-service"].BreakerOpen
			}).Should(BeTrue())

			svc := collector.Snapshot().Services["user-service"]
			Expect(svc.Rejections).To(Equal(int64(1)))
			Expect(svc.Failures).To(Equal(int64(1)))
			Expect(*svc.Healthy).To(BeFalse())
		})

		It("should drain events on context cancellation", func() {
			for i := 0; i < 5; i++ {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Service: "user-service"})
			}

			collector.Start(ctx)
			cancel()

			Eventually(func() int64 {
				return collector.Snapshot().Services["user-service"].Requests
			}).Should(Equal(int64(5)))
		})
	})

	Describe("Emit", func() {
		It("should drop events instead of blocking when the buffer is full", func() {
			small := metrics.NewCollector(1, log)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived, Service: "user-service"})
				}
			}()
			Eventually(done).Should(BeClosed())
		})

		It("should be safe on a nil collector", func() {
			var nilCollector *metrics.Collector
			Expect(func() {
				nilCollector.Emit(metrics.MetricEvent{Type: metrics.EventRequestReceived})
			}).NotTo(Panic())
		})
	})

	Describe("Handler", func() {
		It("should expose Prometheus series", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Service: "product-service"})

			Eventually(func() float64 {
				return counterValue(collector, "gateway_circuit_rejections_total", "product-service")
			}).Should(Equal(1.0))

			rec := httptest.NewRecorder()
			collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(rec.Body)
			Expect(string(body)).To(ContainSubstring(`gateway_circuit_rejections_total{service="product-service"} 1`))
		})

		It("should keep registries isolated between collectors", func() {
			other := metrics.NewCollector(10, log)
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRequestRejected, Service: "product-service"})

			Eventually(func() float64 {
				return counterValue(collector, "gateway_circuit_rejections_total", "product-service")
			}).Should(Equal(1.0))
			Expect(counterValue(other, "gateway_circuit_rejections_total", "product-service")).To(BeZero())
		})
	})
})

func counterValue(c *metrics.Collector, name, service string) float64 {
	families, err := c.Gatherer().Gather()
	Expect(err).NotTo(HaveOccurred())

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabel(metric, "service", service) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
