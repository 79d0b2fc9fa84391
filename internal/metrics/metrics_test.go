package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics endpoint status = %d, want 200", w.Code)
	}
	return w.Body.String()
}

func TestHandler(t *testing.T) {
	RecordRequest("example.com", 200, 1*time.Second)
	UpdateProxyMetrics(3, 1)
	UpdateClientMetrics(2)

	body := scrape(t)

	expectedMetrics := []string{
		"cloudscraper_proxies_available",
		"cloudscraper_proxies_banned",
		"cloudscraper_active_clients",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	body := scrape(t)
	if !strings.Contains(body, "cloudscraper_build_info") {
		t.Error("Expected cloudscraper_build_info metric")
	}
	if !strings.Contains(body, "version=\"1.0.0\"") {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, "go_version=\"go1.24\"") {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordRequest(t *testing.T) {
	RecordRequest("example.com", 200, 1*time.Second)
	RecordRequest("example.com", 503, 500*time.Millisecond)
	RecordRequest("example.org", 200, 2*time.Second)

	body := scrape(t)
	if !strings.Contains(body, `cloudscraper_requests_total{domain="example.com",status="200"}`) {
		t.Error("Expected per-domain requests_total sample")
	}
	if !strings.Contains(body, "cloudscraper_request_duration_seconds") {
		t.Error("Expected cloudscraper_request_duration_seconds metric")
	}
}

func TestRecordChallengeCounters(t *testing.T) {
	RecordChallengeDetected("javascript_v1")
	RecordChallengeSolved("javascript_v1", 2*time.Second)
	RecordChallengeSolved("turnstile", 3*time.Second)
	RecordChallengeFailed("javascript_v2")

	body := scrape(t)
	if !strings.Contains(body, `cloudscraper_challenges_total{outcome="detected",type="javascript_v1"}`) {
		t.Error("Expected detected challenge sample")
	}
	if !strings.Contains(body, `cloudscraper_challenges_total{outcome="solved",type="turnstile"}`) {
		t.Error("Expected solved challenge sample")
	}
	if !strings.Contains(body, `cloudscraper_challenges_total{outcome="failed",type="javascript_v2"}`) {
		t.Error("Expected failed challenge sample")
	}
	if !strings.Contains(body, "cloudscraper_challenge_solve_duration_seconds") {
		t.Error("Expected challenge solve duration histogram")
	}
}

func TestUpdateProxyMetrics(t *testing.T) {
	UpdateProxyMetrics(4, 2)

	body := scrape(t)
	if !strings.Contains(body, "cloudscraper_proxies_available 4") {
		t.Error("Expected proxies_available to be 4")
	}
	if !strings.Contains(body, "cloudscraper_proxies_banned 2") {
		t.Error("Expected proxies_banned to be 2")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	body := scrape(t)
	if !strings.Contains(body, "cloudscraper_memory_usage_bytes") {
		t.Error("Expected cloudscraper_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "cloudscraper_memory_sys_bytes") {
		t.Error("Expected cloudscraper_memory_sys_bytes metric")
	}
	if !strings.Contains(body, "cloudscraper_goroutines") {
		t.Error("Expected cloudscraper_goroutines metric")
	}
}
