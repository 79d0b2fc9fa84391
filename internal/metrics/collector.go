package metrics

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// GlobalStats aggregates request metrics across all domains. Latency fields
// are zero until a sample has been recorded.
type GlobalStats struct {
	StartedAt      time.Time
	TotalRequests  uint64
	Successes      uint64
	Failures       uint64
	AverageLatency time.Duration
	P95Latency     time.Duration
}

// DomainStats is a domain-scoped snapshot. LastStatus is the most recent
// HTTP status, 0 after a transport error or before any response.
type DomainStats struct {
	Domain              string
	TotalRequests       uint64
	Successes           uint64
	Failures            uint64
	AverageLatency      time.Duration
	P95Latency          time.Duration
	ConsecutiveFailures int
	LastStatus          int
}

// Snapshot pairs the global view with per-domain breakdowns sorted by name.
type Snapshot struct {
	Global  GlobalStats
	Domains []DomainStats
}

type accumulator struct {
	totalRequests       uint64
	successes           uint64
	failures            uint64
	latencies           []time.Duration
	window              int
	consecutiveFailures int
	lastStatus          int
}

func (a *accumulator) record(status int, latency time.Duration) {
	a.totalRequests++
	a.lastStatus = status

	if status < 500 {
		a.successes++
		a.consecutiveFailures = 0
	} else {
		a.failures++
		a.consecutiveFailures++
	}

	if len(a.latencies) == a.window {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, latency)
}

func (a *accumulator) latencyStats() (avg, p95 time.Duration) {
	if len(a.latencies) == 0 {
		return 0, 0
	}
	samples := slices.Clone(a.latencies)
	slices.Sort(samples)
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples)), samples[percentileIndex(len(samples))]
}

// percentileIndex locates the 95th percentile in a sorted sample set.
func percentileIndex(n int) int {
	idx := (n*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return idx
}

// Collector keeps rolling request statistics for the orchestration layer.
// Safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	global  GlobalStats
	window  int
	domains map[string]*accumulator
}

const defaultWindow = 128

// NewCollector builds a Collector with a 128-sample latency window.
func NewCollector() *Collector {
	return NewCollectorWithWindow(defaultWindow)
}

// NewCollectorWithWindow overrides the window, floored at 16 samples.
func NewCollectorWithWindow(window int) *Collector {
	if window < 16 {
		window = 16
	}
	return &Collector{
		global:  GlobalStats{StartedAt: time.Now().UTC()},
		window:  window,
		domains: make(map[string]*accumulator),
	}
}

func (c *Collector) accumulator(domain string) *accumulator {
	acc, ok := c.domains[domain]
	if !ok {
		acc = &accumulator{window: c.window}
		c.domains[domain] = acc
	}
	return acc
}

// RecordResponse records a completed request. Statuses below 500 count as
// successes. The global average is an exponential blend and the global p95
// is computed over all domains' windows.
func (c *Collector) RecordResponse(domain string, status int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.TotalRequests++
	if status < 500 {
		c.global.Successes++
	} else {
		c.global.Failures++
	}

	if c.global.AverageLatency == 0 {
		c.global.AverageLatency = latency
	} else {
		blended := c.global.AverageLatency.Seconds()*0.9 + latency.Seconds()*0.1
		c.global.AverageLatency = time.Duration(blended * float64(time.Second))
	}

	c.accumulator(domain).record(status, latency)

	var samples []time.Duration
	for _, acc := range c.domains {
		samples = append(samples, acc.latencies...)
	}
	slices.Sort(samples)
	if len(samples) > 0 {
		c.global.P95Latency = samples[percentileIndex(len(samples))]
	}
}

// RecordError records a request that never produced a response.
func (c *Collector) RecordError(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.global.TotalRequests++
	c.global.Failures++

	acc := c.accumulator(domain)
	acc.totalRequests++
	acc.failures++
	acc.consecutiveFailures++
	acc.lastStatus = 0
}

// Snapshot copies out the current statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Global: c.global}
	for domain, acc := range c.domains {
		avg, p95 := acc.latencyStats()
		snap.Domains = append(snap.Domains, DomainStats{
			Domain:              domain,
			TotalRequests:       acc.totalRequests,
			Successes:           acc.successes,
			Failures:            acc.failures,
			AverageLatency:      avg,
			P95Latency:          p95,
			ConsecutiveFailures: acc.consecutiveFailures,
			LastStatus:          acc.lastStatus,
		})
	}
	slices.SortFunc(snap.Domains, func(a, b DomainStats) int {
		return strings.Compare(a.Domain, b.Domain)
	})
	return snap
}
