package state

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/solvers"
)

var _ solvers.FailureRecorder = (*Manager)(nil)

func TestManagerTracksOutcomes(t *testing.T) {
	m := NewManager()
	m.RecordFailure("example.com", "timeout")
	m.RecordSuccess("example.com")

	s, ok := m.Get("example.com")
	if !ok {
		t.Fatal("Get() ok = false, want tracked state")
	}
	if s.FailureStreak != 0 {
		t.Errorf("FailureStreak = %d, want 0 after a success", s.FailureStreak)
	}
	if s.SuccessStreak != 1 {
		t.Errorf("SuccessStreak = %d, want 1", s.SuccessStreak)
	}
	if s.LastSuccess.IsZero() {
		t.Error("LastSuccess is zero, want a timestamp")
	}
	if len(s.RecentErrors) != 0 {
		t.Errorf("RecentErrors has %d entries, want the history cleared", len(s.RecentErrors))
	}
	if s.LastError != "" {
		t.Errorf("LastError = %q, want cleared", s.LastError)
	}
}

func TestTimingStateSuccessRate(t *testing.T) {
	ts := newTimingState()
	if ts.SuccessRate != 1.0 {
		t.Fatalf("initial SuccessRate = %v, want 1.0", ts.SuccessRate)
	}

	ts.ApplyOutcome(false)
	if math.Abs(ts.SuccessRate-0.95) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 0.95 after one failure", ts.SuccessRate)
	}
	if ts.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", ts.ConsecutiveFailures)
	}

	ts.ApplyOutcome(true)
	if ts.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want reset on success", ts.ConsecutiveFailures)
	}
}

func TestTimingStateOptimalDelay(t *testing.T) {
	ts := newTimingState()

	ts.RegisterOutcome(true, 300*time.Millisecond, 2*time.Second)
	if ts.OptimalDelay != 2*time.Second {
		t.Fatalf("OptimalDelay = %v, want seeded with the first successful delay", ts.OptimalDelay)
	}

	ts.RegisterOutcome(true, 300*time.Millisecond, 4*time.Second)
	if ts.OptimalDelay <= 2*time.Second || ts.OptimalDelay >= 4*time.Second {
		t.Errorf("OptimalDelay = %v, want blended between 2s and 4s", ts.OptimalDelay)
	}

	before := ts.OptimalDelay
	ts.RegisterOutcome(false, time.Second, 9*time.Second)
	if ts.OptimalDelay != before {
		t.Errorf("OptimalDelay = %v, want unchanged by failures", ts.OptimalDelay)
	}
}

func TestTimingStateDelayHistoryCap(t *testing.T) {
	ts := newTimingState()
	for i := 0; i < recentDelayLimit+8; i++ {
		ts.RegisterOutcome(true, time.Second, time.Duration(i)*time.Millisecond)
	}
	if len(ts.RecentDelays) != recentDelayLimit {
		t.Errorf("RecentDelays has %d entries, want capped at %d", len(ts.RecentDelays), recentDelayLimit)
	}
	if ts.RecentDelays[len(ts.RecentDelays)-1] != time.Duration(recentDelayLimit+7)*time.Millisecond {
		t.Error("RecentDelays dropped the newest entry instead of the oldest")
	}
}

func TestBurstStateWindow(t *testing.T) {
	b := newBurstState()
	base := time.Now()

	b.Record(base)
	b.Record(base.Add(time.Second))
	b.Record(base.Add(61 * time.Second))

	if len(b.Window) != 2 {
		t.Errorf("Window has %d entries, want 2 after pruning the stale one", len(b.Window))
	}

	b.SetCooldown(5 * time.Second)
	remaining, active := b.CooldownRemaining(time.Now())
	if !active || remaining <= 0 || remaining > 5*time.Second {
		t.Errorf("CooldownRemaining() = %v/%v, want an active cooldown up to 5s", remaining, active)
	}

	_, active = b.CooldownRemaining(time.Now().Add(6 * time.Second))
	if active {
		t.Error("CooldownRemaining() still active past the deadline")
	}
}

func TestSessionStateTouch(t *testing.T) {
	s := newSessionState()
	now := time.Now()

	s.Touch(now)
	if !strings.HasPrefix(s.ID, "sess-") {
		t.Errorf("ID = %q, want the sess- prefix", s.ID)
	}
	id := s.ID

	s.Touch(now.Add(time.Second))
	if s.ID != id {
		t.Errorf("ID changed from %q to %q across touches", id, s.ID)
	}
	if s.RequestCount != 2 {
		t.Errorf("RequestCount = %d, want 2", s.RequestCount)
	}
	if s.MinInterval != 500*time.Millisecond {
		t.Errorf("MinInterval = %v, want the 500ms default", s.MinInterval)
	}
}

func TestDomainStateErrorHistoryCap(t *testing.T) {
	s := newDomainState()
	for i := 0; i < errorHistoryLimit+10; i++ {
		s.PushError(500, fmt.Sprintf("error %d", i))
	}
	if len(s.RecentErrors) != errorHistoryLimit {
		t.Errorf("RecentErrors has %d entries, want capped at %d", len(s.RecentErrors), errorHistoryLimit)
	}
	if s.RecentErrors[0].Message != "error 10" {
		t.Errorf("oldest message = %q, want %q", s.RecentErrors[0].Message, "error 10")
	}
}

func TestManagerSnapshotIsolation(t *testing.T) {
	m := NewManager()
	m.Update("example.com", func(s *DomainState) {
		s.SetCookie("cf_clearance", "tok")
		s.SetMetadata("note", "v1")
	})

	snap, _ := m.Get("example.com")
	snap.Cookies["cf_clearance"] = "mutated"
	snap.Metadata["note"] = "mutated"

	fresh, _ := m.Get("example.com")
	if fresh.Cookies["cf_clearance"] != "tok" {
		t.Error("mutating a snapshot leaked into the manager's cookies")
	}
	if fresh.Metadata["note"] != "v1" {
		t.Error("mutating a snapshot leaked into the manager's metadata")
	}
}

func TestManagerClear(t *testing.T) {
	m := NewManager()
	m.RecordSuccess("a.example.com")
	m.RecordSuccess("b.example.com")

	if got := len(m.Domains()); got != 2 {
		t.Fatalf("Domains() has %d entries, want 2", got)
	}

	m.Clear("a.example.com")
	if _, ok := m.Get("a.example.com"); ok {
		t.Error("Get() found a cleared domain")
	}

	m.ClearAll()
	if got := len(m.Domains()); got != 0 {
		t.Errorf("Domains() has %d entries after ClearAll, want 0", got)
	}
}

func TestManagerEvictIdle(t *testing.T) {
	m := NewManager()
	m.RecordSuccess("stale.example.com")
	m.RecordSuccess("fresh.example.com")
	m.Update("stale.example.com", func(s *DomainState) {
		s.LastAccess = time.Now().Add(-time.Hour)
	})

	if removed := m.evictIdle(30 * time.Minute); removed != 1 {
		t.Fatalf("evictIdle() removed %d domains, want 1", removed)
	}
	if _, ok := m.Get("stale.example.com"); ok {
		t.Error("Get() found a domain past the idle cutoff")
	}
	if _, ok := m.Get("fresh.example.com"); !ok {
		t.Error("Get() lost a domain still inside the idle window")
	}
}

func TestManagerCloseStopsEviction(t *testing.T) {
	m := NewManager()
	m.StartEviction(time.Minute)
	m.StartEviction(time.Minute) // second start is a no-op
	m.Close()
	m.Close() // double close must not panic
}

func TestManagerConcurrent(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			domain := fmt.Sprintf("host%d.example.com", n%2)
			for j := 0; j < 50; j++ {
				m.MarkRequest(domain)
				m.RecordTimedOutcome(domain, j%3 != 0, 200*time.Millisecond, time.Second, "")
				m.Get(domain)
			}
		}(i)
	}
	wg.Wait()

	for _, domain := range m.Domains() {
		s, _ := m.Get(domain)
		if s.Session.RequestCount == 0 {
			t.Errorf("domain %s has no recorded requests", domain)
		}
	}
}
