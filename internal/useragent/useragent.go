// Package useragent selects browser header and cipher suite profiles
// from the embedded catalog. Selections can be filtered by platform,
// browser and device kind, and custom user agent strings fall back to
// sensible defaults when they match no catalog entry.
package useragent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/Rorqualx/cloudscraper-go/internal/assets"
)

var (
	// ErrProfileNotFound is returned when no catalog entry satisfies the
	// requested platform, browser and device constraints.
	ErrProfileNotFound = errors.New("no matching user agent profile found")

	// ErrInvalidOptions is wrapped by errors describing a rejected
	// Options value.
	ErrInvalidOptions = errors.New("invalid user agent options")
)

// validPlatforms lists the platform names the catalog may be filtered by.
var validPlatforms = []string{"linux", "windows", "darwin", "android", "ios"}

// headerProfile is the per-browser header block of the catalog.
type headerProfile struct {
	UserAgent      string `json:"User-Agent,omitempty"`
	Accept         string `json:"Accept"`
	AcceptLanguage string `json:"Accept-Language"`
	AcceptEncoding string `json:"Accept-Encoding"`
}

// catalog is the top level representation of browsers.json. User agents
// are grouped by device kind ("desktop" or "mobile"), then platform,
// then browser.
type catalog struct {
	Headers      map[string]headerProfile                  `json:"headers"`
	CipherSuites map[string][]string                       `json:"cipherSuite"`
	UserAgents   map[string]map[string]map[string][]string `json:"user_agents"`
}

// Options filters profile selection. The zero value of Custom, Platform
// and Browser means "no constraint".
type Options struct {
	Custom      string
	Platform    string
	Browser     string
	Desktop     bool
	Mobile      bool
	AllowBrotli bool
}

// DefaultOptions permits both device kinds, any platform and browser,
// and keeps brotli disabled.
func DefaultOptions() Options {
	return Options{Desktop: true, Mobile: true}
}

// Profile is a selected browser identity: the headers to send and the
// cipher suite names the browser would offer.
type Profile struct {
	Headers      map[string]string
	CipherSuites []string
}

// UserAgent returns the profile's User-Agent header value.
func (p Profile) UserAgent() string {
	return p.Headers["User-Agent"]
}

// Manager serves profiles from a parsed browser catalog. Catalog data is
// never mutated after New, so a Manager is safe for concurrent use.
type Manager struct {
	data catalog
}

// New parses a browser catalog in the browsers.json format.
func New(data []byte) (*Manager, error) {
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse browser catalog: %w", err)
	}
	return &Manager{data: c}, nil
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
	defaultErr     error
)

// Default returns the shared Manager backed by the embedded catalog,
// parsing it on first use.
func Default() (*Manager, error) {
	defaultOnce.Do(func() {
		defaultManager, defaultErr = New(assets.BrowserCatalog)
	})
	return defaultManager, defaultErr
}

// SelectProfile selects a profile from the embedded catalog.
func SelectProfile(opts Options) (Profile, error) {
	m, err := Default()
	if err != nil {
		return Profile{}, err
	}
	return m.SelectProfile(opts)
}

// SelectProfile picks a profile honoring the given options. Unset
// platform and browser are chosen at random from the matching catalog
// entries, and a non-empty Custom string bypasses catalog selection.
func (m *Manager) SelectProfile(opts Options) (Profile, error) {
	if !opts.Desktop && !opts.Mobile {
		return Profile{}, fmt.Errorf("%w: desktop and mobile cannot both be disabled", ErrInvalidOptions)
	}

	if opts.Custom != "" {
		return m.customProfile(opts.Custom)
	}

	kinds := make([]string, 0, 2)
	if opts.Desktop {
		kinds = append(kinds, "desktop")
	}
	if opts.Mobile {
		kinds = append(kinds, "mobile")
	}

	platform := opts.Platform
	if platform != "" {
		if !slices.Contains(validPlatforms, platform) {
			return Profile{}, fmt.Errorf("%w: invalid platform %q, valid platforms are %s",
				ErrInvalidOptions, platform, strings.Join(validPlatforms, ", "))
		}
	} else {
		platform = m.randomPlatform(kinds)
		if platform == "" {
			return Profile{}, ErrProfileNotFound
		}
	}

	filtered := make(map[string][]string)
	for _, kind := range kinds {
		for browser, agents := range m.data.UserAgents[kind][platform] {
			filtered[browser] = agents
		}
	}
	if len(filtered) == 0 {
		return Profile{}, ErrProfileNotFound
	}

	browser := opts.Browser
	if browser != "" {
		if _, ok := filtered[browser]; !ok {
			return Profile{}, fmt.Errorf("%w: browser %q not available for platform %q",
				ErrInvalidOptions, browser, platform)
		}
	} else {
		browsers := make([]string, 0, len(filtered))
		for b := range filtered {
			browsers = append(browsers, b)
		}
		browser = randomChoice(browsers)
	}

	agents := filtered[browser]
	if len(agents) == 0 {
		return Profile{}, ErrProfileNotFound
	}

	hp, ok := m.data.Headers[browser]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}

	headers := headerMap(hp)
	headers["User-Agent"] = randomChoice(agents)
	if !opts.AllowBrotli {
		stripBrotli(headers)
	}

	return Profile{
		Headers:      headers,
		CipherSuites: slices.Clone(m.data.CipherSuites[browser]),
	}, nil
}

// customProfile builds a profile around a caller-supplied user agent.
// When the string matches a catalog agent the matching browser's headers
// and ciphers are reused, otherwise generic defaults apply.
func (m *Manager) customProfile(custom string) (Profile, error) {
	browser, hp, ok := m.matchCustom(custom)
	if !ok {
		return Profile{
			Headers:      defaultHeaders(custom),
			CipherSuites: defaultCipherSuites(),
		}, nil
	}

	headers := headerMap(hp)
	headers["User-Agent"] = custom

	suites, ok := m.data.CipherSuites[browser]
	if !ok {
		return Profile{Headers: headers, CipherSuites: defaultCipherSuites()}, nil
	}
	return Profile{Headers: headers, CipherSuites: slices.Clone(suites)}, nil
}

// matchCustom finds a catalog browser whose agent list contains the
// custom string as a substring.
func (m *Manager) matchCustom(custom string) (string, headerProfile, bool) {
	for _, platforms := range m.data.UserAgents {
		for _, browsers := range platforms {
			for browser, agents := range browsers {
				hp, ok := m.data.Headers[browser]
				if !ok {
					continue
				}
				for _, agent := range agents {
					if strings.Contains(agent, custom) {
						return browser, hp, true
					}
				}
			}
		}
	}
	return "", headerProfile{}, false
}

// randomPlatform picks a platform that appears under at least one of the
// permitted device kinds.
func (m *Manager) randomPlatform(kinds []string) string {
	seen := make(map[string]struct{})
	pool := make([]string, 0, len(validPlatforms))
	for _, kind := range kinds {
		for platform, browsers := range m.data.UserAgents[kind] {
			if len(browsers) == 0 {
				continue
			}
			if _, ok := seen[platform]; ok {
				continue
			}
			seen[platform] = struct{}{}
			pool = append(pool, platform)
		}
	}
	if len(pool) == 0 {
		return ""
	}
	return randomChoice(pool)
}

func headerMap(hp headerProfile) map[string]string {
	headers := make(map[string]string, 4)
	if hp.UserAgent != "" {
		headers["User-Agent"] = hp.UserAgent
	}
	headers["Accept"] = hp.Accept
	headers["Accept-Language"] = hp.AcceptLanguage
	headers["Accept-Encoding"] = hp.AcceptEncoding
	return headers
}

// stripBrotli removes "br" from the Accept-Encoding header.
func stripBrotli(headers map[string]string) {
	encoding, ok := headers["Accept-Encoding"]
	if !ok {
		return
	}
	parts := strings.Split(encoding, ",")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if strings.EqualFold(trimmed, "br") {
			continue
		}
		kept = append(kept, trimmed)
	}
	headers["Accept-Encoding"] = strings.Join(kept, ", ")
}

func randomChoice(items []string) string {
	return items[rand.Intn(len(items))]
}

func defaultHeaders(custom string) map[string]string {
	return map[string]string{
		"User-Agent":      custom,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate",
	}
}

func defaultCipherSuites() []string {
	return []string{
		"TLS_AES_128_GCM_SHA256",
		"TLS_AES_256_GCM_SHA384",
		"ECDHE-ECDSA-AES128-GCM-SHA256",
		"ECDHE-RSA-AES128-GCM-SHA256",
		"ECDHE-ECDSA-AES256-GCM-SHA384",
		"ECDHE-RSA-AES256-GCM-SHA384",
	}
}
