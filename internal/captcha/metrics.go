package captcha

import (
	"sync"
	"time"
)

// Metrics tracks usage statistics for CAPTCHA providers.
type Metrics struct {
	mu        sync.RWMutex
	providers map[string]*ProviderStats
}

// ProviderStats contains statistics for a single provider.
type ProviderStats struct {
	Attempts    int64     // Total solve attempts
	Successes   int64     // Successful solves
	Failures    int64     // Failed solves
	TotalCost   float64   // Total cost in USD
	TotalTimeMs int64     // Total time spent solving in milliseconds
	LastUsed    time.Time // Last time this provider was used
	LastBalance float64   // Last known balance (from Balance() call)
	LastError   string    // Last error message
	LastErrorAt time.Time // When the last error occurred
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		providers: make(map[string]*ProviderStats),
	}
}

// RecordAttempt records a solve attempt for a provider.
func (m *Metrics) RecordAttempt(provider string, success bool, cost float64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.Attempts++
	stats.LastUsed = time.Now()
	stats.TotalTimeMs += duration.Milliseconds()

	if success {
		stats.Successes++
		stats.TotalCost += cost
	} else {
		stats.Failures++
	}
}

// RecordError records an error for a provider.
func (m *Metrics) RecordError(provider string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.LastError = errMsg
	stats.LastErrorAt = time.Now()
}

// UpdateBalance updates the cached balance for a provider.
func (m *Metrics) UpdateBalance(provider string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(provider)
	stats.LastBalance = balance
}

// GetStats returns a copy of stats for a provider, or nil if untracked.
func (m *Metrics) GetStats(provider string) *ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists {
		return nil
	}

	clone := *stats
	return &clone
}

// ProviderReport is a point-in-time view of one provider's usage.
type ProviderReport struct {
	Attempts    int64   `json:"attempts"`
	Successes   int64   `json:"successes"`
	Failures    int64   `json:"failures"`
	SuccessRate float64 `json:"successRate"`
	TotalCost   float64 `json:"totalCost"`
	AvgTimeMs   int64   `json:"avgTimeMs"`
	LastBalance float64 `json:"lastBalance"`
	LastUsed    string  `json:"lastUsed,omitempty"`
	LastError   string  `json:"lastError,omitempty"`
	LastErrorAt string  `json:"lastErrorAt,omitempty"`
}

// Report aggregates usage across all providers.
type Report struct {
	Providers      map[string]ProviderReport `json:"providers"`
	TotalAttempts  int64                     `json:"totalAttempts"`
	TotalSuccesses int64                     `json:"totalSuccesses"`
	TotalFailures  int64                     `json:"totalFailures"`
	SuccessRate    float64                   `json:"successRate"`
	TotalCost      float64                   `json:"totalCost"`
}

// Snapshot returns the current usage report.
func (m *Metrics) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{Providers: make(map[string]ProviderReport, len(m.providers))}

	for name, stats := range m.providers {
		pr := ProviderReport{
			Attempts:    stats.Attempts,
			Successes:   stats.Successes,
			Failures:    stats.Failures,
			TotalCost:   stats.TotalCost,
			LastBalance: stats.LastBalance,
			LastError:   stats.LastError,
		}
		if stats.Attempts > 0 {
			pr.SuccessRate = float64(stats.Successes) / float64(stats.Attempts) * 100
			pr.AvgTimeMs = stats.TotalTimeMs / stats.Attempts
		}
		if !stats.LastUsed.IsZero() {
			pr.LastUsed = stats.LastUsed.Format(time.RFC3339)
		}
		if !stats.LastErrorAt.IsZero() {
			pr.LastErrorAt = stats.LastErrorAt.Format(time.RFC3339)
		}
		report.Providers[name] = pr

		report.TotalAttempts += stats.Attempts
		report.TotalSuccesses += stats.Successes
		report.TotalFailures += stats.Failures
		report.TotalCost += stats.TotalCost
	}

	if report.TotalAttempts > 0 {
		report.SuccessRate = float64(report.TotalSuccesses) / float64(report.TotalAttempts) * 100
	}
	return report
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = make(map[string]*ProviderStats)
}

// getOrCreate returns existing stats or creates new ones for a provider.
// Must be called with lock held.
func (m *Metrics) getOrCreate(provider string) *ProviderStats {
	stats, exists := m.providers[provider]
	if !exists {
		stats = &ProviderStats{}
		m.providers[provider] = stats
	}
	return stats
}

// SuccessRate returns the success rate for a provider as a percentage.
func (m *Metrics) SuccessRate(provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists || stats.Attempts == 0 {
		return 0
	}

	return float64(stats.Successes) / float64(stats.Attempts) * 100
}

// AverageTime returns the average solve time for a provider.
func (m *Metrics) AverageTime(provider string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.providers[provider]
	if !exists || stats.Attempts == 0 {
		return 0
	}

	avgMs := stats.TotalTimeMs / stats.Attempts
	return time.Duration(avgMs) * time.Millisecond
}

// TotalCost returns the total cost across all providers.
func (m *Metrics) TotalCost() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, stats := range m.providers {
		total += stats.TotalCost
	}
	return total
}
