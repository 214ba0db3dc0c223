package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota // Dispatch allowed
	StateOpen                // Dispatch rejected until cooldown elapses
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// ErrCircuitOpen is returned when a dispatch is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State               State      `json:"-"`
	StateName           string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
}

// StateChangeFunc observes transitions. It runs with the breaker lock held
// and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

type CircuitBreaker struct {
	mutex    sync.Mutex
	name     string
	state    State
	failures int
	openedAt time.Time
	// probing is set by Recover and cleared by the next recorded outcome.
	probing bool

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onStateChange    StateChangeFunc
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
	if cb.failureThreshold < 1 {
		cb.failureThreshold = DefaultFailureThreshold
	}
	if cb.cooldown <= 0 {
		cb.cooldown = DefaultCooldown
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// IsOpen reports whether a dispatch must be rejected. It first applies the
// cooldown transition, so a breaker whose cooldown has elapsed reports closed
// and lets the next request through as a recovery probe.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.recoverLocked()
	return cb.state == StateOpen
}

// Recover performs the Open -> Closed cooldown transition if it is due and
// reports whether it happened. The failure counter is reset to zero.
func (cb *CircuitBreaker) Recover() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.recoverLocked()
}

func (cb *CircuitBreaker) recoverLocked() bool {
	if cb.state != StateOpen || cb.now().Sub(cb.openedAt) < cb.cooldown {
		return false
	}

	cb.failures = 0
	cb.probing = true
	cb.transitionLocked(StateClosed)
	return true
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++

	switch {
	case cb.probing:
		// The recovery probe failed: reopen without waiting for a full
		// threshold's worth of failures.
		cb.failures = max(cb.failures, cb.failureThreshold)
		cb.open()
	case cb.state == StateClosed && cb.failures >= cb.failureThreshold:
		cb.open()
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	stats := Stats{
		State:               cb.state,
		StateName:           cb.state.String(),
		ConsecutiveFailures: cb.failures,
	}
	if cb.state == StateOpen {
		openedAt := cb.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}

func (cb *CircuitBreaker) open() {
	cb.probing = false
	cb.openedAt = cb.now()
	cb.transitionLocked(StateOpen)
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}
