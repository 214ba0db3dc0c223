package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("IncrementRequests", func() {
		It("should track services separately", func() {
			m.IncrementRequests("user-service")
			m.IncrementRequests("product-service")
			m.IncrementRequests("user-service")

			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(Equal(int64(3)))
			Expect(snap.Services["user-service"].Requests).To(Equal(int64(2)))
			Expect(snap.Services["product-service"].Requests).To(Equal(int64(1)))
		})
	})

	Describe("RecordRejection and RecordFailure", func() {
		It("should count rejections and failures", func() {
			m.RecordRejection("user-service")
			m.RecordFailure("user-service")
			m.RecordFailure("user-service")

			svc := m.Snapshot().Services["user-service"]
			Expect(svc.Rejections).To(Equal(int64(1)))
			Expect(svc.Failures).To(Equal(int64(2)))
			Expect(svc.Requests).To(BeZero())
		})
	})

	Describe("RecordResponse", func() {
		It("should record response time and status code", func() {
			m.RecordResponse("user-service", 100*time.Millisecond, 200)
			m.RecordResponse("user-service", 200*time.Millisecond, 404)

			svc := m.Snapshot().Services["user-service"]
			Expect(svc.AvgResponse).To(Equal(150 * time.Millisecond))
			Expect(svc.StatusCodes).To(HaveKeyWithValue(200, int64(1)))
			Expect(svc.StatusCodes).To(HaveKeyWithValue(404, int64(1)))
		})

		It("should calculate percentiles", func() {
			for i := 1; i <= 100; i++ {
				m.RecordResponse("user-service", time.Duration(i)*time.Millisecond, 200)
			}

			svc := m.Snapshot().Services["user-service"]
			Expect(svc.P50Response).To(BeNumerically("~", 50*time.Millisecond, time.Millisecond))
			Expect(svc.P95Response).To(BeNumerically("~", 95*time.Millisecond, time.Millisecond))
			Expect(svc.P99Response).To(BeNumerically("~", 99*time.Millisecond, time.Millisecond))
		})

		It("should keep only the most recent 1000 samples", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordResponse("user-service", time.Duration(i)*time.Millisecond, 200)
			}

			svc := m.Snapshot().Services["user-service"]
			Expect(svc.AvgResponse).To(BeNumerically(">", 500*time.Millisecond))
		})
	})

	Describe("UpdateHealthStatus", func() {
		It("should leave health unset until a probe reports", func() {
			m.IncrementRequests("user-service")
			Expect(m.Snapshot().Services["user-service"].Healthy).To(BeNil())
		})

		It("should track health changes", func() {
			m.UpdateHealthStatus("user-service", true)
			Expect(*m.Snapshot().Services["user-service"].Healthy).To(BeTrue())

			m.UpdateHealthStatus("user-service", false)
			Expect(*m.Snapshot().Services["user-service"].Healthy).To(BeFalse())
		})
	})

	Describe("UpdateBreakerStatus", func() {
		It("should track breaker state", func() {
			m.UpdateBreakerStatus("user-service", true)
			Expect(m.Snapshot().Services["user-service"].BreakerOpen).To(BeTrue())
		})
	})

	Describe("Snapshot", func() {
		It("should handle empty metrics", func() {
			snap := m.Snapshot()
			Expect(snap.TotalRequests).To(BeZero())
			Expect(snap.Services).To(BeEmpty())
		})

		It("should return an independent snapshot", func() {
			m.RecordResponse("user-service", time.Millisecond, 200)
			snap := m.Snapshot()
			m.RecordResponse("user-service", time.Millisecond, 200)

			Expect(snap.Services["user-service"].StatusCodes[200]).To(Equal(int64(1)))
		})
	})
})
