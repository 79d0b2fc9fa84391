// Package performance tracks rolling latency and error-rate statistics per
// domain and raises alerts when thresholds are crossed.
package performance

import (
	"fmt"
	"sync"
	"time"
)

// Config sets the monitoring thresholds.
type Config struct {
	Window             int
	LatencyThreshold   time.Duration
	ErrorRateThreshold float64
	MinSamples         int
}

// DefaultConfig alerts on 4s average latency or a 25% error rate.
func DefaultConfig() Config {
	return Config{
		Window:             100,
		LatencyThreshold:   4 * time.Second,
		ErrorRateThreshold: 0.25,
		MinSamples:         10,
	}
}

// SlowDomain is a domain whose average latency crossed the threshold.
type SlowDomain struct {
	Domain  string
	Latency time.Duration
}

// ErrorDomain is a domain whose error rate crossed the threshold.
type ErrorDomain struct {
	Domain string
	Rate   float64
}

// Report summarises current performance. GlobalLatency is zero until a
// sample has been recorded.
type Report struct {
	GlobalLatency time.Duration
	SlowDomains   []SlowDomain
	ErrorDomains  []ErrorDomain
	Alerts        []string
}

type domainPerformance struct {
	latencies []time.Duration
	successes int
	failures  int
	window    int
}

func (d *domainPerformance) record(latency time.Duration, success bool) {
	if len(d.latencies) == d.window {
		d.latencies = d.latencies[1:]
	}
	d.latencies = append(d.latencies, latency)
	if success {
		d.successes++
	} else {
		d.failures++
	}
}

func (d *domainPerformance) averageLatency() (time.Duration, bool) {
	if len(d.latencies) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, l := range d.latencies {
		total += l
	}
	return total / time.Duration(len(d.latencies)), true
}

func (d *domainPerformance) errorRate() (float64, bool) {
	total := d.successes + d.failures
	if total == 0 {
		return 0, false
	}
	return float64(d.failures) / float64(total), true
}

// Monitor observes per-domain performance with rolling windows. Safe for
// concurrent use.
type Monitor struct {
	mu              sync.Mutex
	config          Config
	domains         map[string]*domainPerformance
	globalLatencies []time.Duration
}

// NewMonitor builds a Monitor. A non-positive window is coerced to one.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	return &Monitor{
		config:  cfg,
		domains: make(map[string]*domainPerformance),
	}
}

func (m *Monitor) domain(domain string) *domainPerformance {
	d, ok := m.domains[domain]
	if !ok {
		d = &domainPerformance{window: m.config.Window}
		m.domains[domain] = d
	}
	return d
}

// Record feeds one measurement and returns an alert report once enough
// samples have accumulated, nil before that.
func (m *Monitor) Record(domain string, latency time.Duration, success bool) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.globalLatencies) == m.config.Window {
		m.globalLatencies = m.globalLatencies[1:]
	}
	m.globalLatencies = append(m.globalLatencies, latency)

	d := m.domain(domain)
	d.record(latency, success)

	if len(d.latencies) < m.config.MinSamples && len(m.globalLatencies) < m.config.MinSamples {
		return nil
	}

	report := m.buildReportLocked()

	if report.GlobalLatency > m.config.LatencyThreshold {
		report.Alerts = append(report.Alerts, fmt.Sprintf(
			"Global latency %.2fs exceeded threshold %.2fs",
			report.GlobalLatency.Seconds(),
			m.config.LatencyThreshold.Seconds()))
	}
	for _, slow := range report.SlowDomains {
		report.Alerts = append(report.Alerts, fmt.Sprintf(
			"Domain %s average latency %.2fs exceeds threshold",
			slow.Domain, slow.Latency.Seconds()))
	}
	for _, errs := range report.ErrorDomains {
		report.Alerts = append(report.Alerts, fmt.Sprintf(
			"Domain %s error rate %.1f%% exceeds threshold",
			errs.Domain, errs.Rate*100))
	}
	return report
}

// Snapshot reports current averages without alert strings.
func (m *Monitor) Snapshot() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buildReportLocked()
}

func (m *Monitor) buildReportLocked() *Report {
	report := &Report{}
	if avg, ok := m.globalLatencyLocked(); ok {
		report.GlobalLatency = avg
	}
	for name, d := range m.domains {
		if avg, ok := d.averageLatency(); ok && avg > m.config.LatencyThreshold {
			report.SlowDomains = append(report.SlowDomains, SlowDomain{Domain: name, Latency: avg})
		}
		if rate, ok := d.errorRate(); ok && rate >= m.config.ErrorRateThreshold {
			report.ErrorDomains = append(report.ErrorDomains, ErrorDomain{Domain: name, Rate: rate})
		}
	}
	return report
}

func (m *Monitor) globalLatencyLocked() (time.Duration, bool) {
	if len(m.globalLatencies) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, l := range m.globalLatencies {
		total += l
	}
	return total / time.Duration(len(m.globalLatencies)), true
}
