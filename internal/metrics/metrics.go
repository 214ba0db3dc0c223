package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	rejections    map[string]int64
	failures      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	breakerOpen   map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"totalRequests"`
	Uptime        time.Duration             `json:"uptime"`
	Services      map[string]ServiceMetrics `json:"services"`
}

type ServiceMetrics struct {
	Requests    int64         `json:"requests"`
	Rejections  int64         `json:"rejections"`
	Failures    int64         `json:"failures"`
	Healthy     *bool         `json:"healthy,omitempty"`
	BreakerOpen bool          `json:"breakerOpen"`
	AvgResponse time.Duration `json:"avgResponse"`
	P50Response time.Duration `json:"p50Response"`
	P95Response time.Duration `json:"p95Response"`
	P99Response time.Duration `json:"p99Response"`
	StatusCodes map[int]int64 `json:"statusCodes,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		rejections:    make(map[string]int64),
		failures:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		breakerOpen:   make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[service]++
}

func (m *Metrics) RecordRejection(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[service]++
}

func (m *Metrics) RecordFailure(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failures[service]++
}

func (m *Metrics) RecordResponse(service string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[service] = append(m.responseTimes[service], duration)

	if len(m.responseTimes[service]) > maxSamples {
		m.responseTimes[service] = m.responseTimes[service][1:]
	}

	if m.statusCodes[service] == nil {
		m.statusCodes[service] = make(map[int]int64)
	}
	m.statusCodes[service][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(service string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[service] = healthy
}

func (m *Metrics) UpdateBreakerStatus(service string, open bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.breakerOpen[service] = open
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Services: make(map[string]ServiceMetrics),
	}

	all := make(map[string]struct{})
	for _, keys := range []map[string]int64{m.requests, m.rejections, m.failures} {
		for service := range keys {
			all[service] = struct{}{}
		}
	}
	for service := range m.responseTimes {
		all[service] = struct{}{}
	}
	for service := range m.healthStatus {
		all[service] = struct{}{}
	}
	for service := range m.breakerOpen {
		all[service] = struct{}{}
	}

	for service := range all {
		snap.TotalRequests += m.requests[service]

		sm := ServiceMetrics{
			Requests:    m.requests[service],
			Rejections:  m.rejections[service],
			Failures:    m.failures[service],
			BreakerOpen: m.breakerOpen[service],
		}

		if healthy, ok := m.healthStatus[service]; ok {
			sm.Healthy = &healthy
		}

		if codes := m.statusCodes[service]; len(codes) > 0 {
			sm.StatusCodes = make(map[int]int64, len(codes))
			for code, n := range codes {
				sm.StatusCodes[code] = n
			}
		}

		durations := m.responseTimes[service]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[service] = sm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
