package proxy

import (
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/solvers"
)

var _ solvers.ProxyPool = (*Manager)(nil)

func TestManagerSequentialRotation(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.Load([]string{"http://1.1.1.1:8080", "http://2.2.2.2:8080", "http://3.3.3.3:8080"})

	want := []string{"http://1.1.1.1:8080", "http://2.2.2.2:8080", "http://3.3.3.3:8080", "http://1.1.1.1:8080"}
	for i, w := range want {
		got, ok := m.NextProxy()
		if !ok || got != w {
			t.Fatalf("NextProxy() #%d = %q/%v, want %q", i+1, got, ok, w)
		}
	}
}

func TestManagerEmptyPool(t *testing.T) {
	m := NewManager(DefaultConfig())
	if got, ok := m.NextProxy(); ok {
		t.Errorf("NextProxy() = %q/true on an empty pool", got)
	}
}

func TestManagerBansAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.BanTime = time.Minute
	m := NewManager(cfg)
	m.AddProxy("http://1.1.1.1:8080")

	p, _ := m.NextProxy()
	m.ReportFailure(p)

	report := m.HealthReport()
	if report.Banned != 1 || report.Available != 0 {
		t.Errorf("HealthReport() = %d banned / %d available, want 1/0", report.Banned, report.Available)
	}

	// A fully banned pool force-unbans rather than starving the caller.
	got, ok := m.NextProxy()
	if !ok || got != p {
		t.Errorf("NextProxy() = %q/%v on an all-banned pool, want the force-unbanned %q", got, ok, p)
	}
}

func TestManagerFailureThresholdModulo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	m := NewManager(cfg)
	m.AddProxy("http://1.1.1.1:8080")

	m.ReportFailure("http://1.1.1.1:8080")
	m.ReportFailure("http://1.1.1.1:8080")
	if report := m.HealthReport(); report.Banned != 0 {
		t.Fatalf("banned after 2 failures with threshold 3")
	}

	m.ReportFailure("http://1.1.1.1:8080")
	if report := m.HealthReport(); report.Banned != 1 {
		t.Errorf("not banned after 3 failures with threshold 3")
	}
}

func TestManagerReportSuccessLiftsBan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	m := NewManager(cfg)
	m.AddProxy("http://1.1.1.1:8080")

	m.ReportFailure("http://1.1.1.1:8080")
	m.ReportSuccess("http://1.1.1.1:8080")

	if report := m.HealthReport(); report.Available != 1 {
		t.Errorf("Available = %d after a success, want the ban lifted", report.Available)
	}
}

func TestManagerSmartPrefersHealthyProxy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategySmart
	cfg.FailureThreshold = 10
	m := NewManager(cfg)
	m.Load([]string{"http://good:8080", "http://bad:8080"})

	for i := 0; i < 3; i++ {
		m.ReportSuccess("http://good:8080")
		m.ReportFailure("http://bad:8080")
	}

	if got, _ := m.NextProxy(); got != "http://good:8080" {
		t.Errorf("NextProxy() = %q, want the proxy with the better record", got)
	}
}

func TestManagerRoundRobinSmartSkipsRecentFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRoundRobinSmart
	cfg.Cooldown = time.Minute
	m := NewManager(cfg)
	m.Load([]string{"http://flaky:8080", "http://steady:8080"})

	m.ReportFailure("http://flaky:8080")

	for i := 0; i < 3; i++ {
		if got, _ := m.NextProxy(); got != "http://steady:8080" {
			t.Fatalf("NextProxy() #%d = %q, want the proxy outside its cooldown", i+1, got)
		}
	}
}

func TestManagerRandomCoversPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyRandom
	m := NewManager(cfg)
	m.Load([]string{"http://1.1.1.1:8080", "http://2.2.2.2:8080"})

	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		p, _ := m.NextProxy()
		seen[p] = true
	}
	if len(seen) != 2 {
		t.Errorf("random rotation used %d of 2 proxies over 64 draws", len(seen))
	}
}

func TestManagerWeightedFavorsHealthyProxy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyWeighted
	cfg.FailureThreshold = 1000
	m := NewManager(cfg)
	m.Load([]string{"http://good:8080", "http://bad:8080"})

	for i := 0; i < 5; i++ {
		m.ReportSuccess("http://good:8080")
		m.ReportFailure("http://bad:8080")
	}

	counts := make(map[string]int)
	for i := 0; i < 200; i++ {
		p, _ := m.NextProxy()
		counts[p]++
	}
	if counts["http://good:8080"] <= counts["http://bad:8080"] {
		t.Errorf("weighted rotation picked good %d times and bad %d times", counts["http://good:8080"], counts["http://bad:8080"])
	}
}

func TestManagerAddAndRemove(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddProxy("http://1.1.1.1:8080")
	m.AddProxy("http://1.1.1.1:8080")
	if report := m.HealthReport(); report.Total != 1 {
		t.Fatalf("Total = %d after duplicate adds, want 1", report.Total)
	}

	m.RemoveProxy("http://1.1.1.1:8080")
	if _, ok := m.NextProxy(); ok {
		t.Error("NextProxy() ok = true after removing the only proxy")
	}
}

func TestManagerHealthReportDetails(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddProxy("http://1.1.1.1:8080")
	m.ReportSuccess("http://1.1.1.1:8080")
	m.ReportFailure("http://1.1.1.1:8080")

	stats, ok := m.HealthReport().Details["http://1.1.1.1:8080"]
	if !ok {
		t.Fatal("no details entry for the loaded proxy")
	}
	if stats.Successes != 1 || stats.Failures != 1 {
		t.Errorf("stats = %d/%d, want 1 success and 1 failure", stats.Successes, stats.Failures)
	}
	if stats.LastFailure.IsZero() {
		t.Error("LastFailure is zero after a reported failure")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"sequential", StrategySequential, true},
		{"random", StrategyRandom, true},
		{"smart", StrategySmart, true},
		{"weighted", StrategyWeighted, true},
		{"round_robin_smart", StrategyRoundRobinSmart, true},
		{"sticky", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseStrategy(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q/%v, want %q/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
