// Package metrics provides request statistics for the scraper. A rolling
// Collector feeds snapshots to callers while package-level Prometheus
// metrics expose the same activity for scraping.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total requests by domain and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudscraper_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"domain", "status"},
	)

	// RequestDuration tracks request duration by domain.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudscraper_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"domain"},
	)

	// ChallengesTotal counts challenge events by type and outcome
	// (detected, solved, failed).
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudscraper_challenges_total",
			Help: "Challenge events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// ChallengeSolveDuration tracks how long solving a challenge took.
	ChallengeSolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudscraper_challenge_solve_duration_seconds",
			Help:    "Challenge solve duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~128s
		},
		[]string{"type"},
	)

	// ActiveClients shows pooled HTTP clients currently alive.
	ActiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_active_clients",
			Help: "Number of pooled HTTP clients",
		},
	)

	// ProxiesAvailable shows proxies currently selectable.
	ProxiesAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_proxies_available",
			Help: "Proxies available for rotation",
		},
	)

	// ProxiesBanned shows proxies sitting out a ban.
	ProxiesBanned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_proxies_banned",
			Help: "Proxies currently banned",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscraper_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudscraper_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ChallengesTotal,
		ChallengeSolveDuration,
		ActiveClients,
		ProxiesAvailable,
		ProxiesBanned,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory metrics.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed request.
func RecordRequest(domain string, status int, duration time.Duration) {
	RequestsTotal.WithLabelValues(domain, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

// RecordChallengeDetected records a detected challenge.
func RecordChallengeDetected(challengeType string) {
	ChallengesTotal.WithLabelValues(challengeType, "detected").Inc()
}

// RecordChallengeSolved records a solved challenge and how long the
// solve took.
func RecordChallengeSolved(challengeType string, duration time.Duration) {
	ChallengesTotal.WithLabelValues(challengeType, "solved").Inc()
	ChallengeSolveDuration.WithLabelValues(challengeType).Observe(duration.Seconds())
}

// RecordChallengeFailed records a failed challenge attempt.
func RecordChallengeFailed(challengeType string) {
	ChallengesTotal.WithLabelValues(challengeType, "failed").Inc()
}

// UpdateProxyMetrics updates proxy pool gauges.
func UpdateProxyMetrics(available, banned int) {
	ProxiesAvailable.Set(float64(available))
	ProxiesBanned.Set(float64(banned))
}

// UpdateClientMetrics updates the pooled client gauge.
func UpdateClientMetrics(count int) {
	ActiveClients.Set(float64(count))
}
