package useragent

import (
	"errors"
	"strings"
	"testing"

	"github.com/Rorqualx/cloudscraper-go/internal/assets"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(assets.BrowserCatalog)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestSelectProfileDefaults(t *testing.T) {
	m := testManager(t)
	profile, err := m.SelectProfile(DefaultOptions())
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if profile.UserAgent() == "" {
		t.Error("profile has no User-Agent")
	}
	if profile.Headers["Accept"] == "" {
		t.Error("profile has no Accept header")
	}
	if enc := profile.Headers["Accept-Encoding"]; strings.Contains(enc, "br") {
		t.Errorf("Accept-Encoding = %q, brotli should be stripped by default", enc)
	}
	if len(profile.CipherSuites) == 0 {
		t.Error("profile has no cipher suites")
	}
}

func TestSelectProfileAllowBrotli(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.AllowBrotli = true
	profile, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if enc := profile.Headers["Accept-Encoding"]; !strings.Contains(enc, "br") {
		t.Errorf("Accept-Encoding = %q, want brotli kept", enc)
	}
}

func TestSelectProfileBothKindsDisabled(t *testing.T) {
	m := testManager(t)
	_, err := m.SelectProfile(Options{})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("SelectProfile() error = %v, want ErrInvalidOptions", err)
	}
	if !strings.Contains(err.Error(), "cannot both be disabled") {
		t.Errorf("error = %q, want device kind explanation", err)
	}
}

func TestSelectProfileInvalidPlatform(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.Platform = "amiga"
	if _, err := m.SelectProfile(opts); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("SelectProfile() error = %v, want ErrInvalidOptions", err)
	}
}

func TestSelectProfileBrowserNotOnPlatform(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.Platform = "linux"
	opts.Browser = "safari"
	_, err := m.SelectProfile(opts)
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("SelectProfile() error = %v, want ErrInvalidOptions", err)
	}
	if !strings.Contains(err.Error(), "not available") {
		t.Errorf("error = %q, want availability explanation", err)
	}
}

func TestSelectProfilePlatformAndBrowser(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.Platform = "windows"
	opts.Browser = "edge"
	profile, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if ua := profile.UserAgent(); !strings.Contains(ua, "Edg/") {
		t.Errorf("UserAgent() = %q, want an Edge agent", ua)
	}
}

func TestSelectProfileDesktopOnly(t *testing.T) {
	m := testManager(t)
	opts := Options{Desktop: true}
	for i := 0; i < 32; i++ {
		profile, err := m.SelectProfile(opts)
		if err != nil {
			t.Fatalf("SelectProfile() error = %v", err)
		}
		ua := profile.UserAgent()
		if strings.Contains(ua, "iPhone") || strings.Contains(ua, "Android") {
			t.Fatalf("UserAgent() = %q, want a desktop agent", ua)
		}
	}
}

func TestSelectProfileMobileOnly(t *testing.T) {
	m := testManager(t)
	opts := Options{Mobile: true}
	for i := 0; i < 16; i++ {
		profile, err := m.SelectProfile(opts)
		if err != nil {
			t.Fatalf("SelectProfile() error = %v", err)
		}
		ua := profile.UserAgent()
		if !strings.Contains(ua, "iPhone") && !strings.Contains(ua, "Android") {
			t.Fatalf("UserAgent() = %q, want a mobile agent", ua)
		}
	}
}

func TestCustomProfileMatchesCatalog(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.Custom = "Firefox/121.0"
	profile, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if got := profile.UserAgent(); got != "Firefox/121.0" {
		t.Errorf("UserAgent() = %q, want the custom string verbatim", got)
	}
	if got := profile.Headers["Accept-Language"]; got != "en-US,en;q=0.5" {
		t.Errorf("Accept-Language = %q, want the matched browser's value", got)
	}
	// Custom selections keep the catalog encoding list untouched.
	if enc := profile.Headers["Accept-Encoding"]; !strings.Contains(enc, "br") {
		t.Errorf("Accept-Encoding = %q, want the catalog value with brotli", enc)
	}
	if len(profile.CipherSuites) == 0 {
		t.Error("profile has no cipher suites")
	}
}

func TestCustomProfileFallsBackToDefaults(t *testing.T) {
	m := testManager(t)
	opts := DefaultOptions()
	opts.Custom = "MyScraper/1.0"
	profile, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if got := profile.UserAgent(); got != "MyScraper/1.0" {
		t.Errorf("UserAgent() = %q, want the custom string verbatim", got)
	}
	if got := profile.Headers["Accept-Encoding"]; got != "gzip, deflate" {
		t.Errorf("Accept-Encoding = %q, want the generic default", got)
	}
	if got := len(profile.CipherSuites); got != 6 {
		t.Errorf("len(CipherSuites) = %d, want the 6 generic suites", got)
	}
	if profile.CipherSuites[0] != "TLS_AES_128_GCM_SHA256" {
		t.Errorf("CipherSuites[0] = %q, want TLS_AES_128_GCM_SHA256", profile.CipherSuites[0])
	}
}

func TestCustomProfileStillChecksDeviceKinds(t *testing.T) {
	m := testManager(t)
	_, err := m.SelectProfile(Options{Custom: "MyScraper/1.0"})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("SelectProfile() error = %v, want ErrInvalidOptions", err)
	}
}

func TestSelectProfileCipherSuitesCopied(t *testing.T) {
	m := testManager(t)
	opts := Options{Desktop: true, Platform: "darwin", Browser: "safari"}
	first, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	first.CipherSuites[0] = "TAMPERED"
	second, err := m.SelectProfile(opts)
	if err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	if second.CipherSuites[0] == "TAMPERED" {
		t.Error("mutating a returned profile leaked into the catalog")
	}
}

func TestStripBrotli(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		want     string
	}{
		{"trailing br", "gzip, deflate, br", "gzip, deflate"},
		{"leading br", "br, gzip", "gzip"},
		{"uppercase br", "gzip, BR", "gzip"},
		{"only br", "br", ""},
		{"no br", "gzip, deflate", "gzip, deflate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Accept-Encoding": tt.encoding}
			stripBrotli(headers)
			if got := headers["Accept-Encoding"]; got != tt.want {
				t.Errorf("stripBrotli(%q) = %q, want %q", tt.encoding, got, tt.want)
			}
		})
	}
}

func TestDefaultManagerShared(t *testing.T) {
	first, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	second, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if first != second {
		t.Error("Default() returned distinct managers")
	}
	if _, err := SelectProfile(DefaultOptions()); err != nil {
		t.Errorf("SelectProfile() error = %v", err)
	}
}
