package timing

import (
	"net/http"
	"testing"
	"time"
)

func TestAdaptiveDelayWithinEnvelope(t *testing.T) {
	for _, behavior := range []Behavior{BehaviorCasual, BehaviorFocused, BehaviorResearch, BehaviorMobile} {
		t.Run(string(behavior), func(t *testing.T) {
			a := NewAdaptive()
			a.SetBehavior(behavior)
			profile := a.ActiveProfile()

			min := time.Duration(profile.MinDelay*float64(time.Second)) - time.Millisecond
			max := time.Duration(profile.MaxDelay*float64(time.Second)) + time.Millisecond

			for i := 0; i < 20; i++ {
				d := a.CalculateDelay("example.com", Request{Method: http.MethodGet, ContentLength: 2000})
				if d < min || d > max {
					t.Fatalf("CalculateDelay() = %v, want within [%v, %v]", d, min, max)
				}
			}
		})
	}
}

func TestAdaptiveLearnsFromSuccess(t *testing.T) {
	a := NewAdaptive()
	req := Request{Method: http.MethodGet, ContentLength: 2000}

	delay1 := a.CalculateDelay("example.com", req)
	if delay1 <= 100*time.Millisecond {
		t.Fatalf("CalculateDelay() = %v, want more than 100ms", delay1)
	}

	for i := 0; i < 20; i++ {
		a.RecordOutcome("example.com", Outcome{
			Success:      true,
			ResponseTime: 1200 * time.Millisecond,
			AppliedDelay: delay1,
		})
	}

	delay2 := a.CalculateDelay("example.com", req)
	if delay2 > delay1*2 {
		t.Errorf("CalculateDelay() = %v after successes, want at most twice %v", delay2, delay1)
	}
}

func TestAdaptiveFailurePenaltySaturates(t *testing.T) {
	a := NewAdaptive()
	for i := 0; i < 8; i++ {
		a.RecordOutcome("example.com", Outcome{Success: false, ResponseTime: time.Second})
	}

	snap, ok := a.Snapshot("example.com")
	if !ok {
		t.Fatal("Snapshot() ok = false, want learned state")
	}
	if snap.ConsecutiveFailures != 5 {
		t.Errorf("ConsecutiveFailures = %d, want saturated at 5", snap.ConsecutiveFailures)
	}
	if snap.SuccessRate >= 1.0 {
		t.Errorf("SuccessRate = %v, want below 1.0 after failures", snap.SuccessRate)
	}
	if snap.HasOptimalTiming {
		t.Error("HasOptimalTiming = true, want unseeded after failures only")
	}
}

func TestAdaptiveOptimalTiming(t *testing.T) {
	a := NewAdaptive()

	a.RecordOutcome("example.com", Outcome{Success: true, ResponseTime: time.Second, AppliedDelay: 2 * time.Second})
	snap, _ := a.Snapshot("example.com")
	if !snap.HasOptimalTiming || snap.OptimalTiming != 2*time.Second {
		t.Fatalf("OptimalTiming = %v (%v), want seeded at 2s", snap.OptimalTiming, snap.HasOptimalTiming)
	}

	a.RecordOutcome("example.com", Outcome{Success: true, ResponseTime: time.Second, AppliedDelay: 4 * time.Second})
	snap, _ = a.Snapshot("example.com")
	if snap.OptimalTiming <= 2*time.Second || snap.OptimalTiming >= 4*time.Second {
		t.Errorf("OptimalTiming = %v, want blended between 2s and 4s", snap.OptimalTiming)
	}

	a.RecordOutcome("example.com", Outcome{Success: true, ResponseTime: time.Second, AppliedDelay: time.Minute})
	snap, _ = a.Snapshot("example.com")
	if snap.OptimalTiming > 11*time.Second {
		t.Errorf("OptimalTiming = %v, want learned delays capped near 10s", snap.OptimalTiming)
	}
}

func TestAdaptiveSnapshotUnknownDomain(t *testing.T) {
	a := NewAdaptive()
	if _, ok := a.Snapshot("nowhere.example.com"); ok {
		t.Error("Snapshot() ok = true for an untracked domain")
	}
}

func TestSetBehavior(t *testing.T) {
	a := NewAdaptive()
	if got := a.Behavior(); got != BehaviorCasual {
		t.Fatalf("Behavior() = %q, want casual by default", got)
	}

	a.SetBehavior(BehaviorResearch)
	if got := a.Behavior(); got != BehaviorResearch {
		t.Errorf("Behavior() = %q, want research", got)
	}

	a.SetBehavior(Behavior("bogus"))
	if got := a.Behavior(); got != BehaviorResearch {
		t.Errorf("Behavior() = %q, want unknown behaviors ignored", got)
	}
}

func TestParseBehavior(t *testing.T) {
	tests := []struct {
		in   string
		want Behavior
		ok   bool
	}{
		{"casual", BehaviorCasual, true},
		{"Focused", BehaviorFocused, true},
		{"RESEARCH", BehaviorResearch, true},
		{"mobile", BehaviorMobile, true},
		{"warp", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseBehavior(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseBehavior(%q) = %q/%v, want %q/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMethodMultiplier(t *testing.T) {
	tests := []struct {
		method string
		want   float64
	}{
		{http.MethodGet, 1.0},
		{http.MethodPost, 1.35},
		{http.MethodPut, 1.35},
		{http.MethodPatch, 1.35},
		{http.MethodDelete, 0.9},
		{http.MethodHead, 0.6},
		{http.MethodOptions, 0.6},
		{"PROPFIND", 1.0},
	}
	for _, tt := range tests {
		if got := methodMultiplier(tt.method); got != tt.want {
			t.Errorf("methodMultiplier(%q) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestCircadianMultiplierBounds(t *testing.T) {
	for i := 0; i < 64; i++ {
		v := circadianMultiplier()
		if v < 0.2*0.85-1e-9 || v > 1.0*1.15+1e-9 {
			t.Fatalf("circadianMultiplier() = %v, want within [0.17, 1.15]", v)
		}
	}
}
