// Package proxy rotates upstream proxies and tracks their health. Endpoints
// accumulate success and failure counts, get banned after repeated failures,
// and are selected by one of several rotation strategies.
package proxy

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy names a proxy selection policy.
type Strategy string

const (
	// StrategySequential cycles through available proxies in order.
	StrategySequential Strategy = "sequential"
	// StrategyRandom picks uniformly among available proxies.
	StrategyRandom Strategy = "random"
	// StrategySmart picks the highest-scoring proxy.
	StrategySmart Strategy = "smart"
	// StrategyWeighted picks randomly with score-proportional weights.
	StrategyWeighted Strategy = "weighted"
	// StrategyRoundRobinSmart cycles, skipping proxies that failed recently.
	StrategyRoundRobinSmart Strategy = "round_robin_smart"
)

// ParseStrategy maps a configuration value onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategySequential, StrategyRandom, StrategySmart, StrategyWeighted, StrategyRoundRobinSmart:
		return Strategy(s), true
	}
	return "", false
}

// Config controls rotation and banning.
type Config struct {
	Strategy         Strategy
	BanTime          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig bans a proxy for five minutes after every third failure.
func DefaultConfig() Config {
	return Config{
		Strategy:         StrategySequential,
		BanTime:          5 * time.Minute,
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	}
}

// Stats is the per-endpoint health record. Zero times mean never.
type Stats struct {
	Successes   uint64
	Failures    uint64
	LastUsed    time.Time
	LastFailure time.Time
}

// Report summarises pool health.
type Report struct {
	Total     int
	Available int
	Banned    int
	Details   map[string]Stats
}

type entry struct {
	endpoint    string
	stats       Stats
	bannedUntil time.Time
}

func (e *entry) available(now time.Time) bool {
	return e.bannedUntil.IsZero() || !now.Before(e.bannedUntil)
}

// score blends success rate with how long the endpoint has rested. A proxy
// that was never used scores as fully rested.
func (e *entry) score(now time.Time) float64 {
	total := e.stats.Successes + e.stats.Failures
	successRate := 1.0
	if total > 0 {
		successRate = float64(e.stats.Successes) / float64(total)
	}
	recency := 1.0
	if !e.stats.LastUsed.IsZero() {
		recency = now.Sub(e.stats.LastUsed).Seconds() / 300.0
		if recency < 0 {
			recency = 0
		} else if recency > 1 {
			recency = 1
		}
	}
	return successRate*0.7 + recency*0.3
}

// Manager rotates proxies according to the configured strategy. Safe for
// concurrent use.
type Manager struct {
	mu           sync.Mutex
	config       Config
	proxies      []*entry
	currentIndex int
}

// NewManager builds an empty Manager. A non-positive failure threshold is
// coerced to one.
func NewManager(cfg Config) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Manager{config: cfg}
}

// Load replaces the pool with the given endpoints.
func (m *Manager) Load(proxies []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies = m.proxies[:0]
	for _, p := range proxies {
		m.addLocked(p)
	}
}

// AddProxy appends an endpoint, ignoring duplicates.
func (m *Manager) AddProxy(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(proxy)
}

func (m *Manager) addLocked(proxy string) {
	for _, e := range m.proxies {
		if e.endpoint == proxy {
			return
		}
	}
	m.proxies = append(m.proxies, &entry{endpoint: proxy})
}

// RemoveProxy drops an endpoint from the pool.
func (m *Manager) RemoveProxy(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.proxies[:0]
	for _, e := range m.proxies {
		if e.endpoint != proxy {
			kept = append(kept, e)
		}
	}
	m.proxies = kept
}

// NextProxy selects the next endpoint. Expired bans are lifted on the way;
// when every endpoint is banned the one closest to expiry is force-unbanned
// so the pool never deadlocks. Reports false only for an empty pool.
func (m *Manager) NextProxy() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return "", false
	}

	now := time.Now()
	var available []int
	for i, e := range m.proxies {
		if e.bannedUntil.IsZero() {
			available = append(available, i)
		} else if !now.Before(e.bannedUntil) {
			e.bannedUntil = time.Time{}
			available = append(available, i)
		}
	}

	var selected int
	if len(available) == 0 {
		selected = 0
		for i, e := range m.proxies {
			if e.bannedUntil.Before(m.proxies[selected].bannedUntil) {
				selected = i
			}
		}
		m.proxies[selected].bannedUntil = time.Time{}
	} else {
		selected = m.selectLocked(available, now)
	}

	e := m.proxies[selected]
	e.stats.LastUsed = time.Now()
	return e.endpoint, true
}

func (m *Manager) selectLocked(available []int, now time.Time) int {
	switch m.config.Strategy {
	case StrategyRandom:
		return available[rand.Intn(len(available))]
	case StrategySmart:
		best := available[0]
		bestScore := m.proxies[best].score(now)
		for _, idx := range available[1:] {
			if s := m.proxies[idx].score(now); s > bestScore {
				best, bestScore = idx, s
			}
		}
		return best
	case StrategyWeighted:
		return m.weightedLocked(available, now)
	case StrategyRoundRobinSmart:
		var rested []int
		for _, idx := range available {
			lf := m.proxies[idx].stats.LastFailure
			if lf.IsZero() || now.Sub(lf) > m.config.Cooldown {
				rested = append(rested, idx)
			}
		}
		pool := available
		if len(rested) > 0 {
			pool = rested
		}
		idx := pool[m.currentIndex%len(pool)]
		m.currentIndex = (m.currentIndex + 1) % len(pool)
		return idx
	default:
		idx := available[m.currentIndex%len(available)]
		m.currentIndex = (m.currentIndex + 1) % len(available)
		return idx
	}
}

// weightedLocked draws an index with probability proportional to its score,
// floored at 0.1 so a failing proxy still gets occasional traffic.
func (m *Manager) weightedLocked(available []int, now time.Time) int {
	weights := make([]float64, len(available))
	var total float64
	for i, idx := range available {
		w := m.proxies[idx].score(now)
		if w < 0.1 {
			w = 0.1
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return available[rand.Intn(len(available))]
	}

	target := rand.Float64() * total
	for i, w := range weights {
		if target <= w {
			return available[i]
		}
		target -= w
	}
	return available[len(available)-1]
}

// ReportSuccess credits an endpoint and lifts any ban.
func (m *Manager) ReportSuccess(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.find(proxy); e != nil {
		e.stats.Successes++
		e.bannedUntil = time.Time{}
	}
}

// ReportFailure records a failure. Every FailureThreshold-th failure bans
// the endpoint for BanTime.
func (m *Manager) ReportFailure(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.find(proxy)
	if e == nil {
		return
	}
	e.stats.Failures++
	e.stats.LastFailure = time.Now()
	if e.stats.Failures%uint64(m.config.FailureThreshold) == 0 {
		e.bannedUntil = time.Now().Add(m.config.BanTime)
	}
}

func (m *Manager) find(proxy string) *entry {
	for _, e := range m.proxies {
		if e.endpoint == proxy {
			return e
		}
	}
	return nil
}

// HealthReport snapshots pool state.
func (m *Manager) HealthReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	report := Report{
		Total:   len(m.proxies),
		Details: make(map[string]Stats, len(m.proxies)),
	}
	for _, e := range m.proxies {
		if e.available(now) {
			report.Available++
		} else {
			report.Banned++
		}
		report.Details[e.endpoint] = e.stats
	}
	return report
}
