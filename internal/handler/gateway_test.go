package handler_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/aggregator"
	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/handler"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
	"github.com/angeloszaimis/api-gateway/internal/routing"
)

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body
}

var _ = Describe("GatewayHandler", func() {
	var (
		h        *handler.GatewayHandler
		registry *backend.Registry
		breakers *circuitbreaker.Registry
		backendS *httptest.Server
		calls    atomic.Int32
		status   atomic.Int32
	)

	BeforeEach(func() {
		log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		calls.Store(0)
		status.Store(http.StatusOK)

		backendS = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(status.Load()))
			_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
		}))
		u, err := url.Parse(backendS.URL)
		Expect(err).NotTo(HaveOccurred())

		registry = backend.NewRegistry()
		registry.Register("user-service", u)
		registry.Register("product-service", u)
		registry.Register("category-service", u)

		breakers = circuitbreaker.NewRegistry(3, 30*time.Second)
		table, err := routing.NewTable(routing.DefaultRules())
		Expect(err).NotTo(HaveOccurred())

		collector := metrics.NewCollector(100, log)
		forwarder := proxy.NewForwarder(log, breakers, collector, time.Second)
		router := routing.NewRouter(log, table, registry, breakers, forwarder, collector)
		agg := aggregator.NewAggregator(log, registry, breakers, forwarder, collector)

		h = handler.NewGatewayHandler(log,
			handler.Info{Name: "api-gateway", Version: "1.0.0", Environment: "dev"},
			registry, breakers, router, agg, aggregator.DefaultServices(), collector)
	})

	AfterEach(func() {
		backendS.Close()
	})

	Describe("Proxy", func() {
		It("should return the backend response verbatim", func() {
			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/api/item/7", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal(`{"path":"/products/7"}`))
		})

		It("should forward backend 404s", func() {
			status.Store(http.StatusNotFound)
			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/api/users/404", nil))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(breakers.GetBreaker("user-service").State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return 503 with known services for unknown prefixes", func() {
			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			body := decode(rec)
			Expect(body["success"]).To(BeFalse())
			Expect(body["availableServices"]).To(ConsistOf("category-service", "product-service", "user-service"))
		})

		It("should return 503 without calling the backend when the breaker is open", func() {
			for i := 0; i < 3; i++ {
				breakers.RecordFailure("user-service")
			}

			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decode(rec)["service"]).To(Equal("user-service"))
			Expect(calls.Load()).To(BeZero())
		})

		It("should return 413 without calling the backend for oversized bodies", func() {
			body := strings.NewReader(strings.Repeat("a", 10<<20+1))

			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodPost, "/api/users", body))

			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(decode(rec)["error"]).To(Equal("Request body too large"))
			Expect(calls.Load()).To(BeZero())
			Expect(breakers.GetBreaker("user-service").Failures()).To(BeZero())
		})

		It("should return 503 with the transport code for unreachable backends", func() {
			backendS.Close()

			rec := httptest.NewRecorder()
			h.Proxy(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(decode(rec)["code"]).To(Equal(proxy.CodeConnRefused))
			Expect(breakers.GetBreaker("user-service").Failures()).To(Equal(1))
		})
	})

	Describe("Dashboard", func() {
		It("should return 401 without calling any backend when unauthenticated", func() {
			rec := httptest.NewRecorder()
			h.Dashboard(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(calls.Load()).To(BeZero())
		})

		It("should aggregate every section when authenticated", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			req.Header.Set("Authorization", "Bearer token")
			rec := httptest.NewRecorder()

			h.Dashboard(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			data := decode(rec)["data"].(map[string]any)
			Expect(data).To(HaveKey("user"))
			Expect(data).To(HaveKey("products"))
			Expect(data).To(HaveKey("categories"))
			Expect(calls.Load()).To(Equal(int32(3)))
		})
	})

	Describe("Search", func() {
		It("should return 400 without q", func() {
			rec := httptest.NewRecorder()
			h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(calls.Load()).To(BeZero())
		})

		It("should make exactly one outbound call for anonymous callers", func() {
			rec := httptest.NewRecorder()
			h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=foo", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(calls.Load()).To(Equal(int32(1)))

			body := decode(rec)
			Expect(body["query"]).To(Equal("foo"))
			data := body["data"].(map[string]any)
			Expect(data["products"].(map[string]any)["available"]).To(BeTrue())
			Expect(data["users"].(map[string]any)["available"]).To(BeFalse())
		})
	})

	Describe("Registry", func() {
		It("should list registered services", func() {
			rec := httptest.NewRecorder()
			h.ListRegistry(rec, httptest.NewRequest(http.MethodGet, "/registry", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			body := decode(rec)
			Expect(body["success"]).To(BeTrue())
			Expect(body["count"]).To(BeNumerically("==", 3))
			Expect(body["services"]).To(HaveKey("user-service"))
		})

		It("should register a service", func() {
			rec := httptest.NewRecorder()
			h.Register(rec, httptest.NewRequest(http.MethodPost, "/registry",
				strings.NewReader(`{"name":"order-service","url":"http://localhost:3004"}`)))

			Expect(rec.Code).To(Equal(http.StatusCreated))
			svc, err := registry.Discover("order-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.URL()).To(Equal("http://localhost:3004"))
			Expect(svc.Healthy).To(BeTrue())
		})

		It("should store a base URL with a trailing slash without it", func() {
			rec := httptest.NewRecorder()
			h.Register(rec, httptest.NewRequest(http.MethodPost, "/registry",
				strings.NewReader(`{"name":"order-service","url":"http://localhost:3004/"}`)))

			Expect(rec.Code).To(Equal(http.StatusCreated))
			svc, err := registry.Discover("order-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.URL()).To(Equal("http://localhost:3004"))
		})

		It("should return 413 for oversized registration bodies", func() {
			payload := `{"name":"` + strings.Repeat("a", 10<<20) + `"}`

			rec := httptest.NewRecorder()
			h.Register(rec, httptest.NewRequest(http.MethodPost, "/registry", strings.NewReader(payload)))

			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(registry.Names()).To(HaveLen(3))
		})

		DescribeTable("should reject invalid registrations",
			func(payload string) {
				rec := httptest.NewRecorder()
				h.Register(rec, httptest.NewRequest(http.MethodPost, "/registry", strings.NewReader(payload)))

				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(registry.Names()).To(HaveLen(3))
			},
			Entry("malformed JSON", `{"name":`),
			Entry("missing name", `{"url":"http://localhost:3004"}`),
			Entry("invalid name", `{"name":"Order Service","url":"http://localhost:3004"}`),
			Entry("missing url", `{"name":"order-service"}`),
			Entry("non-http url", `{"name":"order-service","url":"ftp://localhost:3004"}`),
		)
	})

	Describe("diagnostics", func() {
		It("should describe the gateway on the root endpoint", func() {
			rec := httptest.NewRecorder()
			h.Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			body := decode(rec)
			Expect(body["name"]).To(Equal("api-gateway"))
			Expect(body["endpoints"]).To(HaveKey("ANY /api/users/*"))
		})

		It("should report health with the registry snapshot", func() {
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			body := decode(rec)
			Expect(body["status"]).To(Equal("healthy"))
			Expect(body["services"]).To(HaveKey("product-service"))
		})

		It("should expose breaker stats on debug/services", func() {
			breakers.RecordFailure("user-service")

			rec := httptest.NewRecorder()
			h.DebugServices(rec, httptest.NewRequest(http.MethodGet, "/debug/services", nil))

			body := decode(rec)
			stats := body["circuitBreakers"].(map[string]any)["user-service"].(map[string]any)
			Expect(stats["state"]).To(Equal("CLOSED"))
			Expect(stats["consecutiveFailures"]).To(BeNumerically("==", 1))
		})

		It("should list endpoints on 404", func() {
			rec := httptest.NewRecorder()
			h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rec)["availableEndpoints"]).To(HaveKey("GET /health"))
		})
	})
})
