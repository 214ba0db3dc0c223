package backend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Service is a snapshot of one registered backend instance.
type Service struct {
	Name              string     `json:"name"`
	BaseURL           *url.URL   `json:"-"`
	Healthy           bool       `json:"healthy"`
	RegisteredAt      time.Time  `json:"registeredAt"`
	LastHealthCheckAt *time.Time `json:"lastHealthCheck"`
}

// URL returns the base URL as a string, or "" when unset.
func (s Service) URL() string {
	if s.BaseURL == nil {
		return ""
	}
	return s.BaseURL.String()
}

// MarshalJSON exposes the base URL as a plain string.
func (s Service) MarshalJSON() ([]byte, error) {
	type alias Service
	return json.Marshal(struct {
		alias
		URL string `json:"url"`
	}{alias: alias(s), URL: s.URL()})
}

// ServiceNotFoundError is returned when no registration exists for a name.
type ServiceNotFoundError struct {
	Name      string
	Available []string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Registry maps service names to their registration. Safe for concurrent use.
type Registry struct {
	mutex    sync.RWMutex
	services map[string]*Service
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*Service),
		now:      time.Now,
	}
}

// Register inserts or overwrites the registration for name. A re-registered
// service starts healthy again with a fresh registration time. Trailing
// slashes are trimmed from the base path.
func (r *Registry) Register(name string, baseURL *url.URL) Service {
	u := *baseURL
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	svc := &Service{
		Name:         name,
		BaseURL:      &u,
		Healthy:      true,
		RegisteredAt: r.now(),
	}
	r.services[name] = svc
	return svc.clone()
}

// Discover returns the registration for name regardless of its health flag.
func (r *Registry) Discover(name string) (Service, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return Service{}, &ServiceNotFoundError{Name: name, Available: r.namesLocked()}
	}
	return svc.clone(), nil
}

// UpdateHealth records a probe outcome. Unknown names are ignored since a
// probe may race with re-registration. Returns true if the flag flipped.
func (r *Registry) UpdateHealth(name string, healthy bool) (changed bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	svc, ok := r.services[name]
	if !ok {
		return false
	}

	checkedAt := r.now()
	svc.LastHealthCheckAt = &checkedAt

	if svc.Healthy == healthy {
		return false
	}
	svc.Healthy = healthy
	return true
}

// ListServices returns a copy of every registration keyed by name.
func (r *Registry) ListServices() map[string]Service {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string]Service, len(r.services))
	for name, svc := range r.services {
		out[name] = svc.clone()
	}
	return out
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) clone() Service {
	c := *s
	if s.BaseURL != nil {
		u := *s.BaseURL
		c.BaseURL = &u
	}
	if s.LastHealthCheckAt != nil {
		t := *s.LastHealthCheckAt
		c.LastHealthCheckAt = &t
	}
	return c
}
