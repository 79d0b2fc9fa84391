package fingerprint

import (
	"strings"
	"testing"

	"github.com/Rorqualx/cloudscraper-go/internal/solvers"
)

var _ solvers.FingerprintInvalidator = (*Generator)(nil)

func TestGeneratorDomainConsistency(t *testing.T) {
	g := NewGenerator(BrowserChrome)

	fp1 := g.GenerateFor("example.com")
	fp2 := g.GenerateFor("example.com")
	fp3 := g.GenerateFor("example.org")

	if fp1.CanvasFingerprint != fp2.CanvasFingerprint {
		t.Errorf("canvas = %q then %q, want the same identity per domain", fp1.CanvasFingerprint, fp2.CanvasFingerprint)
	}
	if fp1.CanvasFingerprint == fp3.CanvasFingerprint {
		t.Errorf("canvas = %q for both domains, want distinct identities", fp1.CanvasFingerprint)
	}
}

func TestGeneratorGlobalConsistency(t *testing.T) {
	g := NewGenerator(BrowserFirefox).WithConsistency(ConsistencyGlobal)

	fp1 := g.GenerateFor("example.com")
	fp2 := g.GenerateFor("example.org")
	if fp1.AudioFingerprint != fp2.AudioFingerprint {
		t.Errorf("audio = %q and %q, want one shared identity", fp1.AudioFingerprint, fp2.AudioFingerprint)
	}
}

func TestGeneratorNoConsistency(t *testing.T) {
	g := NewGenerator(BrowserChrome).WithConsistency(ConsistencyNone)

	fp1 := g.GenerateFor("example.com")
	fp2 := g.GenerateFor("example.com")
	if fp1.CanvasFingerprint == fp2.CanvasFingerprint && fp1.AudioFingerprint == fp2.AudioFingerprint {
		t.Error("identical identities for consecutive calls, want fresh ones")
	}
}

func TestGeneratorInvalidate(t *testing.T) {
	g := NewGenerator(BrowserChrome)

	fp1 := g.GenerateFor("example.com")
	g.Invalidate("example.com")
	fp2 := g.GenerateFor("example.com")
	if fp1.CanvasFingerprint == fp2.CanvasFingerprint && fp1.AudioFingerprint == fp2.AudioFingerprint {
		t.Error("identity survived Invalidate, want it regenerated")
	}
}

func TestGeneratorSetBrowser(t *testing.T) {
	g := NewGenerator(BrowserChrome)
	fp1 := g.GenerateFor("example.com")
	if !strings.Contains(fp1.UserAgent, "Chrome/120.0.0.0") {
		t.Fatalf("UserAgent = %q, want a Chrome identity", fp1.UserAgent)
	}

	g.SetBrowser(BrowserMobileSafari)
	fp2 := g.GenerateFor("example.com")
	if !strings.Contains(fp2.UserAgent, "iPhone") {
		t.Errorf("UserAgent = %q, want an iPhone identity after the switch", fp2.UserAgent)
	}
	if fp2.Platform != "iPhone" {
		t.Errorf("Platform = %q, want %q", fp2.Platform, "iPhone")
	}

	// Switching back must not resurrect the discarded cache entry.
	g.SetBrowser(BrowserChrome)
	fp3 := g.GenerateFor("example.com")
	if fp3.CanvasFingerprint == fp1.CanvasFingerprint {
		t.Error("cached identity survived a browser switch")
	}
}

func TestGeneratorIdentityShape(t *testing.T) {
	g := NewGenerator(BrowserEdge)
	fp := g.GenerateFor("example.com")

	if !strings.HasPrefix(fp.CanvasFingerprint, "canvas-") || len(fp.CanvasFingerprint) != len("canvas-")+16 {
		t.Errorf("CanvasFingerprint = %q, want canvas-<16 hex digits>", fp.CanvasFingerprint)
	}
	if !strings.HasPrefix(fp.AudioFingerprint, "audio-") || len(fp.AudioFingerprint) != len("audio-")+16 {
		t.Errorf("AudioFingerprint = %q, want audio-<16 hex digits>", fp.AudioFingerprint)
	}
	if fp.ScreenWidth == 0 || fp.ScreenHeight == 0 {
		t.Errorf("screen = %dx%d, want a populated resolution", fp.ScreenWidth, fp.ScreenHeight)
	}
	if fp.AcceptLanguage == "" || fp.Timezone == "" || fp.WebGLRenderer == "" {
		t.Errorf("identity %+v has empty fields", fp)
	}
	if fp.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want a stamp")
	}
}

func TestParseBrowser(t *testing.T) {
	tests := []struct {
		in   string
		want Browser
		ok   bool
	}{
		{"chrome", BrowserChrome, true},
		{"Firefox", BrowserFirefox, true},
		{"mobile-chrome", BrowserMobileChrome, true},
		{"Mobile Safari", BrowserMobileSafari, true},
		{"EDGE", BrowserEdge, true},
		{"netscape", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseBrowser(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseBrowser(%q) = %q/%v, want %q/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		in   string
		want ConsistencyLevel
		ok   bool
	}{
		{"none", ConsistencyNone, true},
		{"Domain", ConsistencyDomain, true},
		{"GLOBAL", ConsistencyGlobal, true},
		{"sticky", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseConsistency(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseConsistency(%q) = %q/%v, want %q/%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
