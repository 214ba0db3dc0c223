package backend_test

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/api-gateway/internal/backend"
)

var _ = Describe("Registry", func() {
	var registry *backend.Registry

	BeforeEach(func() {
		registry = backend.NewRegistry()
	})

	Describe("Register", func() {
		It("should store a healthy registration", func() {
			svc := registry.Register("user-service", mustParseURL("http://localhost:3001"))

			Expect(svc.Name).To(Equal("user-service"))
			Expect(svc.URL()).To(Equal("http://localhost:3001"))
			Expect(svc.Healthy).To(BeTrue())
			Expect(svc.RegisteredAt).NotTo(BeZero())
			Expect(svc.LastHealthCheckAt).To(BeNil())
		})

		It("should overwrite an existing registration", func() {
			registry.Register("user-service", mustParseURL("http://localhost:3001"))
			registry.UpdateHealth("user-service", false)

			registry.Register("user-service", mustParseURL("http://localhost:4001"))

			svc, err := registry.Discover("user-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.URL()).To(Equal("http://localhost:4001"))
			Expect(svc.Healthy).To(BeTrue())
			Expect(registry.ListServices()).To(HaveLen(1))
		})

		It("should trim trailing slashes from the base URL", func() {
			svc := registry.Register("user-service", mustParseURL("http://localhost:3001/"))
			Expect(svc.URL()).To(Equal("http://localhost:3001"))

			svc = registry.Register("product-service", mustParseURL("http://localhost:3002/v1/"))
			Expect(svc.URL()).To(Equal("http://localhost:3002/v1"))
		})

		It("should not alias the caller's URL", func() {
			u := mustParseURL("http://localhost:3001")
			registry.Register("user-service", u)
			u.Host = "evil:1"

			svc, _ := registry.Discover("user-service")
			Expect(svc.URL()).To(Equal("http://localhost:3001"))
		})
	})

	Describe("Discover", func() {
		It("should fail with ServiceNotFoundError for unknown names", func() {
			registry.Register("product-service", mustParseURL("http://localhost:3002"))
			registry.Register("category-service", mustParseURL("http://localhost:3003"))

			_, err := registry.Discover("order-service")

			var notFound *backend.ServiceNotFoundError
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Name).To(Equal("order-service"))
			Expect(notFound.Available).To(Equal([]string{"category-service", "product-service"}))
		})

		It("should return unhealthy services", func() {
			registry.Register("user-service", mustParseURL("http://localhost:3001"))
			registry.UpdateHealth("user-service", false)

			svc, err := registry.Discover("user-service")
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Healthy).To(BeFalse())
		})
	})

	Describe("UpdateHealth", func() {
		BeforeEach(func() {
			registry.Register("user-service", mustParseURL("http://localhost:3001"))
		})

		It("should report flips and stamp the check time", func() {
			Expect(registry.UpdateHealth("user-service", false)).To(BeTrue())
			Expect(registry.UpdateHealth("user-service", false)).To(BeFalse())

			svc, _ := registry.Discover("user-service")
			Expect(svc.Healthy).To(BeFalse())
			Expect(svc.LastHealthCheckAt).NotTo(BeNil())
		})

		It("should ignore unknown services", func() {
			Expect(registry.UpdateHealth("ghost-service", false)).To(BeFalse())
			Expect(registry.Names()).To(Equal([]string{"user-service"}))
		})
	})

	Describe("ListServices", func() {
		It("should return an independent snapshot", func() {
			registry.Register("user-service", mustParseURL("http://localhost:3001"))

			snap := registry.ListServices()
			registry.UpdateHealth("user-service", false)

			Expect(snap["user-service"].Healthy).To(BeTrue())
			Expect(registry.ListServices()["user-service"].Healthy).To(BeFalse())
		})

		It("should marshal the base URL as a string", func() {
			registry.Register("user-service", mustParseURL("http://localhost:3001"))

			raw, err := json.Marshal(registry.ListServices())
			Expect(err).NotTo(HaveOccurred())

			var decoded map[string]map[string]interface{}
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
			Expect(decoded["user-service"]["url"]).To(Equal("http://localhost:3001"))
			Expect(decoded["user-service"]["healthy"]).To(BeTrue())
		})
	})

	Describe("Concurrent access", func() {
		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					registry.Register("user-service", mustParseURL("http://localhost:3001"))
					registry.UpdateHealth("user-service", i%2 == 0)
					_, _ = registry.Discover("user-service")
					_ = registry.ListServices()
				}(i)
			}
			wg.Wait()

			Expect(registry.Names()).To(Equal([]string{"user-service"}))
		})
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
