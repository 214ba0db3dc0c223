package circuitbreaker

import (
	"sync"
	"time"
)

type Option func(*CircuitBreaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

func withName(name string) Option {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// Registry lazily creates one breaker per service name.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	cooldown  time.Duration
	opts      []Option
}

func NewRegistry(threshold int, cooldown time.Duration, opts ...Option) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		cooldown:  cooldown,
		opts:      opts,
	}
}

func (r *Registry) GetBreaker(service string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[service]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[service]; exists {
		return cb
	}

	opts := append([]Option{withName(service)}, r.opts...)
	cb = NewCircuitBreaker(r.threshold, r.cooldown, opts...)
	r.breakers[service] = cb
	return cb
}

func (r *Registry) IsOpen(service string) bool {
	return r.GetBreaker(service).IsOpen()
}

func (r *Registry) RecordFailure(service string) {
	r.GetBreaker(service).RecordFailure()
}

func (r *Registry) RecordSuccess(service string) {
	r.GetBreaker(service).RecordSuccess()
}

// Stats returns the state of every breaker created so far.
func (r *Registry) Stats() map[string]Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}
