// Package tlsprofile rotates browser TLS identities per domain. Profiles
// carry the JA3 string, cipher suites, and extension list a real browser
// would present, and rotation varies them on a request interval so one
// domain never sees the same handshake shape indefinitely.
package tlsprofile

import (
	"crypto/tls"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/Rorqualx/cloudscraper-go/internal/fingerprint"
)

// Profile is one browser TLS identity.
type Profile struct {
	Browser       fingerprint.Browser
	JA3           string
	CipherSuites  []string
	ALPNProtocols []string
	Extensions    []uint16
}

// Config controls rotation behaviour.
type Config struct {
	RotateJA3        bool
	RotateCiphers    bool
	PreferredBrowser fingerprint.Browser
	RotationInterval int
}

// DefaultConfig rotates everything every five requests, preferring Chrome.
func DefaultConfig() Config {
	return Config{
		RotateJA3:        true,
		RotateCiphers:    true,
		PreferredBrowser: fingerprint.BrowserChrome,
		RotationInterval: 5,
	}
}

type domainState struct {
	profileIndex          int
	requestsSinceRotation int
}

// Manager hands out TLS profiles per domain and rotates them. Safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	config    Config
	profiles  []Profile
	perDomain map[string]*domainState
}

// NewManager builds a Manager seeded with the default browser profiles.
// The preferred browser is promoted to the front of the rotation order.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		config:    cfg,
		profiles:  defaultProfiles(),
		perDomain: make(map[string]*domainState),
	}
	for i, p := range m.profiles {
		if p.Browser == cfg.PreferredBrowser {
			m.profiles[0], m.profiles[i] = m.profiles[i], m.profiles[0]
			break
		}
	}
	return m
}

func (m *Manager) state(domain string) *domainState {
	st, ok := m.perDomain[domain]
	if !ok {
		st = &domainState{profileIndex: rand.Intn(len(m.profiles))}
		m.perDomain[domain] = st
	}
	return st
}

// CurrentProfile returns the profile to present to domain, rotating first
// when the domain has hit the rotation interval.
func (m *Manager) CurrentProfile(domain string) Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(domain)
	st.requestsSinceRotation++
	if st.requestsSinceRotation >= m.config.RotationInterval {
		m.rotateLocked(st)
	}
	return m.profiles[st.profileIndex].clone()
}

// RotateProfile forces domain onto a different profile. Mitigation handlers
// call this after a bot-management block.
func (m *Manager) RotateProfile(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateLocked(m.state(domain))
}

func (m *Manager) rotateLocked(st *domainState) {
	st.requestsSinceRotation = 0
	if len(m.profiles) <= 1 {
		return
	}
	next := rand.Intn(len(m.profiles) - 1)
	if next >= st.profileIndex {
		next++
	}
	st.profileIndex = next
}

// AddCustomProfile appends a profile to the rotation pool.
func (m *Manager) AddCustomProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, p)
}

func (p Profile) clone() Profile {
	p.CipherSuites = slices.Clone(p.CipherSuites)
	p.ALPNProtocols = slices.Clone(p.ALPNProtocols)
	p.Extensions = slices.Clone(p.Extensions)
	return p
}

// TLSConfig builds a crypto/tls configuration presenting this profile's
// handshake shape: its cipher suites, ALPN protocols and curve order.
// TLS 1.3 suite order is fixed by the runtime, so for 1.3 connections
// only the curve and ALPN parts of the profile show on the wire.
func (p Profile) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion:       tls.VersionTLS12,
		NextProtos:       slices.Clone(p.ALPNProtocols),
		CurvePreferences: p.curvePreferences(),
	}
	for _, name := range p.CipherSuites {
		if id, ok := cipherSuiteID(name); ok {
			cfg.CipherSuites = append(cfg.CipherSuites, id)
		}
	}
	return cfg
}

// curvePreferences derives the curve order from the elliptic curve field
// of the JA3 string (fourth comma-separated segment).
func (p Profile) curvePreferences() []tls.CurveID {
	fallback := []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384}

	fields := strings.Split(p.JA3, ",")
	if len(fields) < 4 || fields[3] == "" {
		return fallback
	}
	var curves []tls.CurveID
	for _, part := range strings.Split(fields[3], "-") {
		id, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			continue
		}
		curves = append(curves, tls.CurveID(id))
	}
	if len(curves) == 0 {
		return fallback
	}
	return curves
}

// cipherSuiteID resolves a cipher suite name to its registry value.
// Unknown names are skipped rather than guessed.
func cipherSuiteID(name string) (uint16, bool) {
	for _, suite := range tls.CipherSuites() {
		if suite.Name == name {
			return suite.ID, true
		}
	}
	return 0, false
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			Browser: fingerprint.BrowserChrome,
			JA3:     "771,4866-4865-4867-49196-49195-52393,0-11-10-35-13-45-16-43,29-23-24,0",
			CipherSuites: []string{
				"TLS_AES_128_GCM_SHA256",
				"TLS_AES_256_GCM_SHA384",
				"TLS_CHACHA20_POLY1305_SHA256",
			},
			ALPNProtocols: []string{"h2", "http/1.1"},
			Extensions:    []uint16{0, 11, 10, 35, 13, 45, 16, 43},
		},
		{
			Browser: fingerprint.BrowserFirefox,
			JA3:     "771,4866-4865-4867-49196-49200,0-11-10-35-13-27,23-24,0",
			CipherSuites: []string{
				"TLS_AES_128_GCM_SHA256",
				"TLS_AES_256_GCM_SHA384",
				"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
			},
			ALPNProtocols: []string{"h2", "http/1.1"},
			Extensions:    []uint16{0, 11, 10, 35, 13, 27},
		},
		{
			Browser: fingerprint.BrowserSafari,
			JA3:     "771,4865-4866-4867-49195-49196,0-11-10-35-13-16,29-23-24,0",
			CipherSuites: []string{
				"TLS_AES_128_GCM_SHA256",
				"TLS_CHACHA20_POLY1305_SHA256",
				"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
			},
			ALPNProtocols: []string{"h2", "http/1.1"},
			Extensions:    []uint16{0, 11, 10, 35, 13, 16},
		},
		{
			Browser: fingerprint.BrowserMobileChrome,
			JA3:     "771,4866-4865-4867-49196,0-11-10-35-13-45,29-23-24,0",
			CipherSuites: []string{
				"TLS_AES_128_GCM_SHA256",
				"TLS_CHACHA20_POLY1305_SHA256",
			},
			ALPNProtocols: []string{"h2", "http/1.1"},
			Extensions:    []uint16{0, 11, 10, 35, 13, 45},
		},
		{
			Browser: fingerprint.BrowserMobileSafari,
			JA3:     "771,4865-4866-4867-49195,0-11-10-35-16,29-23-24,0",
			CipherSuites: []string{
				"TLS_AES_128_GCM_SHA256",
				"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
			},
			ALPNProtocols: []string{"h2", "http/1.1"},
			Extensions:    []uint16{0, 11, 10, 35, 16},
		},
	}
}
