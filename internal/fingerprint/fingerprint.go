// Package fingerprint generates browser identities for spoofing client
// surfaces such as Canvas, WebGL, and audio hashes. Identities can be pinned
// per domain so a site keeps seeing the same client across a session.
package fingerprint

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Browser selects the identity family a generated fingerprint mimics.
type Browser string

const (
	BrowserChrome       Browser = "chrome"
	BrowserFirefox      Browser = "firefox"
	BrowserSafari       Browser = "safari"
	BrowserEdge         Browser = "edge"
	BrowserMobileChrome Browser = "mobile_chrome"
	BrowserMobileSafari Browser = "mobile_safari"
)

// ParseBrowser maps a configuration value onto a Browser.
func ParseBrowser(s string) (Browser, bool) {
	switch Browser(normalize(s)) {
	case BrowserChrome:
		return BrowserChrome, true
	case BrowserFirefox:
		return BrowserFirefox, true
	case BrowserSafari:
		return BrowserSafari, true
	case BrowserEdge:
		return BrowserEdge, true
	case BrowserMobileChrome:
		return BrowserMobileChrome, true
	case BrowserMobileSafari:
		return BrowserMobileSafari, true
	}
	return "", false
}

// ConsistencyLevel controls how long a generated identity is reused.
type ConsistencyLevel string

const (
	// ConsistencyNone generates a fresh identity on every call.
	ConsistencyNone ConsistencyLevel = "none"
	// ConsistencyDomain pins one identity per domain.
	ConsistencyDomain ConsistencyLevel = "domain"
	// ConsistencyGlobal shares a single identity across all domains.
	ConsistencyGlobal ConsistencyLevel = "global"
)

// ParseConsistency maps a configuration value onto a ConsistencyLevel.
func ParseConsistency(s string) (ConsistencyLevel, bool) {
	switch ConsistencyLevel(normalize(s)) {
	case ConsistencyNone:
		return ConsistencyNone, true
	case ConsistencyDomain:
		return ConsistencyDomain, true
	case ConsistencyGlobal:
		return ConsistencyGlobal, true
	}
	return "", false
}

// Fingerprint is one complete spoofed client identity.
type Fingerprint struct {
	UserAgent         string
	AcceptLanguage    string
	Platform          string
	ScreenWidth       int
	ScreenHeight      int
	Timezone          string
	WebGLVendor       string
	WebGLRenderer     string
	CanvasFingerprint string
	AudioFingerprint  string
	CreatedAt         time.Time
}

// Generator produces fingerprints for one browser family. It is safe for
// concurrent use.
type Generator struct {
	mu          sync.Mutex
	browser     Browser
	consistency ConsistencyLevel
	cache       map[string]Fingerprint
	global      *Fingerprint
}

// NewGenerator builds a Generator with per-domain consistency.
func NewGenerator(browser Browser) *Generator {
	return &Generator{
		browser:     browser,
		consistency: ConsistencyDomain,
		cache:       make(map[string]Fingerprint),
	}
}

// WithConsistency overrides the reuse policy and returns the generator.
func (g *Generator) WithConsistency(level ConsistencyLevel) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consistency = level
	return g
}

// Browser reports the active identity family.
func (g *Generator) Browser() Browser {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.browser
}

// SetBrowser switches identity families. Cached identities are discarded
// because they would no longer match the new family.
func (g *Generator) SetBrowser(browser Browser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.browser != browser {
		g.cache = make(map[string]Fingerprint)
		g.global = nil
		g.browser = browser
	}
}

// GenerateFor returns the identity to present to domain, honouring the
// configured consistency level.
func (g *Generator) GenerateFor(domain string) Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.consistency {
	case ConsistencyNone:
		return randomFingerprint(g.browser)
	case ConsistencyGlobal:
		if g.global == nil {
			fp := randomFingerprint(g.browser)
			g.global = &fp
		}
		return *g.global
	default:
		fp, ok := g.cache[domain]
		if !ok {
			fp = randomFingerprint(g.browser)
			g.cache[domain] = fp
		}
		return fp
	}
}

// Invalidate drops the cached identity for domain so the next request
// presents a fresh one. Mitigation handlers call this after a bot-management
// block.
func (g *Generator) Invalidate(domain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, domain)
}

type template struct {
	userAgent       string
	platform        string
	acceptLanguages []string
	resolutions     [][2]int
	timezones       []string
	webglVendors    []string
	webglRenderers  []string
}

func randomFingerprint(browser Browser) Fingerprint {
	templates := templatesForBrowser(browser)
	tpl := templates[rand.Intn(len(templates))]

	res := tpl.resolutions[rand.Intn(len(tpl.resolutions))]

	return Fingerprint{
		UserAgent:         tpl.userAgent,
		AcceptLanguage:    tpl.acceptLanguages[rand.Intn(len(tpl.acceptLanguages))],
		Platform:          tpl.platform,
		ScreenWidth:       res[0],
		ScreenHeight:      res[1],
		Timezone:          tpl.timezones[rand.Intn(len(tpl.timezones))],
		WebGLVendor:       tpl.webglVendors[rand.Intn(len(tpl.webglVendors))],
		WebGLRenderer:     tpl.webglRenderers[rand.Intn(len(tpl.webglRenderers))],
		CanvasFingerprint: fmt.Sprintf("canvas-%016x", rand.Uint64()),
		AudioFingerprint:  fmt.Sprintf("audio-%016x", rand.Uint64()),
		CreatedAt:         time.Now().UTC(),
	}
}

func templatesForBrowser(browser Browser) []template {
	switch browser {
	case BrowserFirefox:
		return []template{{
			userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
			platform:        "Win64",
			acceptLanguages: []string{"en-US,en;q=0.8", "fr-FR,fr;q=0.7"},
			resolutions:     [][2]int{{1920, 1080}, {1680, 1050}},
			timezones:       []string{"America/Los_Angeles", "Europe/London"},
			webglVendors:    []string{"Mozilla", "Google Inc."},
			webglRenderers: []string{
				"ANGLE (NVIDIA GeForce GTX 1050 Ti)",
				"ANGLE (Intel(R) UHD Graphics 630)",
			},
		}}
	case BrowserSafari:
		return []template{{
			userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 13_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
			platform:        "MacIntel",
			acceptLanguages: []string{"en-US,en;q=0.9", "en-AU,en;q=0.8"},
			resolutions:     [][2]int{{2560, 1600}, {2880, 1800}},
			timezones:       []string{"America/Los_Angeles", "Australia/Sydney"},
			webglVendors:    []string{"Apple"},
			webglRenderers:  []string{"Apple GPU", "Metal Renderer"},
		}}
	case BrowserMobileChrome:
		return []template{{
			userAgent:       "Mozilla/5.0 (Linux; Android 13; Pixel 7 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			platform:        "Linux armv8l",
			acceptLanguages: []string{"en-US,en;q=0.8", "es-ES,es;q=0.7"},
			resolutions:     [][2]int{{1080, 2400}, {1170, 2532}},
			timezones:       []string{"America/New_York", "Europe/Madrid"},
			webglVendors:    []string{"Qualcomm", "ARM"},
			webglRenderers:  []string{"Adreno (TM) 730", "Mali-G710"},
		}}
	case BrowserMobileSafari:
		return []template{{
			userAgent:       "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			platform:        "iPhone",
			acceptLanguages: []string{"en-US,en;q=0.9", "ja-JP,ja;q=0.8"},
			resolutions:     [][2]int{{1170, 2532}, {1125, 2436}},
			timezones:       []string{"America/Chicago", "Asia/Tokyo"},
			webglVendors:    []string{"Apple"},
			webglRenderers:  []string{"Apple A16 GPU", "Apple A15 GPU"},
		}}
	default:
		// Chrome and Edge share the Chromium identity.
		return []template{{
			userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			platform:        "Win32",
			acceptLanguages: []string{"en-US,en;q=0.9", "en-GB,en;q=0.8"},
			resolutions:     [][2]int{{1920, 1080}, {2560, 1440}, {1366, 768}},
			timezones:       []string{"America/New_York", "Europe/Berlin", "Asia/Tokyo"},
			webglVendors:    []string{"Google Inc.", "Microsoft"},
			webglRenderers: []string{
				"ANGLE (NVIDIA GeForce RTX 3080)",
				"ANGLE (AMD Radeon RX 6800)",
			},
		}}
	}
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c == '-' || c == ' ':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
