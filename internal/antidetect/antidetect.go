// Package antidetect shapes outgoing traffic so that request patterns look
// less mechanical. It rotates fingerprint-sensitive headers, injects noise
// headers, throttles bursts, and applies cooldowns after server errors.
package antidetect

import (
	"fmt"
	"math/bits"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds the traffic-shaping toggles.
type Config struct {
	RandomizeHeaders     bool
	InjectNoiseHeaders   bool
	HeaderNoiseMin       int
	HeaderNoiseMax       int
	BurstWindow          time.Duration
	MaxRequestsPerWindow int
	Cooldown             time.Duration
	FailureCooldown      time.Duration
	JitterMin            float64
	JitterMax            float64
}

// DefaultConfig returns the shipping defaults.
func DefaultConfig() Config {
	return Config{
		RandomizeHeaders:     true,
		InjectNoiseHeaders:   true,
		HeaderNoiseMin:       1,
		HeaderNoiseMax:       3,
		BurstWindow:          30 * time.Second,
		MaxRequestsPerWindow: 10,
		Cooldown:             3 * time.Second,
		FailureCooldown:      20 * time.Second,
		JitterMin:            0.85,
		JitterMax:            1.25,
	}
}

// RequestContext carries the mutable request view that strategies shape
// before dispatch. DelayHint is zero when no extra wait is requested.
type RequestContext struct {
	URL       *url.URL
	Method    string
	Headers   http.Header
	BodySize  int
	UserAgent string
	DelayHint time.Duration
	Metadata  map[string]string
}

// NewRequestContext builds a context with empty headers and metadata.
func NewRequestContext(u *url.URL, method string) *RequestContext {
	return &RequestContext{
		URL:      u,
		Method:   method,
		Headers:  make(http.Header),
		Metadata: make(map[string]string),
	}
}

// Strategy is a traffic-shaping step applied around each request.
type Strategy interface {
	PrepareRequest(domain string, ctx *RequestContext)
	RecordResponse(domain string, status int, latency time.Duration)
}

type domainState struct {
	recentRequests []time.Time
	failureStreak  int
	cooldownUntil  time.Time
	rollingLatency []float64
	salt           uint32
}

// Layer is the default Strategy combining header jitter, burst throttling,
// and failure cooldowns. Domains are tracked independently and the Layer is
// safe for concurrent use.
type Layer struct {
	mu        sync.Mutex
	config    Config
	perDomain map[string]*domainState
}

// New builds a Layer, coercing inverted ranges in cfg.
func New(cfg Config) *Layer {
	if cfg.HeaderNoiseMax < cfg.HeaderNoiseMin {
		cfg.HeaderNoiseMax = cfg.HeaderNoiseMin
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	return &Layer{
		config:    cfg,
		perDomain: make(map[string]*domainState),
	}
}

// Config returns the active configuration.
func (l *Layer) Config() Config {
	return l.config
}

func (l *Layer) state(domain string) *domainState {
	st, ok := l.perDomain[domain]
	if !ok {
		st = &domainState{salt: rand.Uint32()}
		l.perDomain[domain] = st
	}
	return st
}

// PrepareRequest stamps the request into the domain's burst window and
// mutates ctx with header rotation, noise headers, a delay hint when the
// domain is bursting or cooling down, and a jitter factor for the timing
// layer under the "anti_detection_jitter" metadata key.
func (l *Layer) PrepareRequest(domain string, ctx *RequestContext) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st := l.state(domain)
	st.recentRequests = append(st.recentRequests, now)

	l.enforceBurstLimits(st, ctx, now)
	l.applyCooldown(st, ctx, now)
	l.randomizeHeaders(st, ctx)
	l.injectNoiseHeaders(ctx)

	jitter := l.config.JitterMin + rand.Float64()*(l.config.JitterMax-l.config.JitterMin)
	ctx.Metadata["anti_detection_jitter"] = fmt.Sprintf("%.3f", jitter)
}

// RecordResponse updates the domain's failure streak and latency history.
// Statuses of 500 and above arm the failure cooldown.
func (l *Layer) RecordResponse(domain string, status int, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(domain)
	if status >= http.StatusInternalServerError {
		st.failureStreak++
		st.cooldownUntil = time.Now().Add(l.config.FailureCooldown)
	} else {
		st.failureStreak = 0
	}

	if len(st.rollingLatency) == rollingLatencyWindow {
		st.rollingLatency = st.rollingLatency[1:]
	}
	secs := latency.Seconds()
	if secs > maxTrackedLatencySecs {
		secs = maxTrackedLatencySecs
	}
	st.rollingLatency = append(st.rollingLatency, secs)
}

const (
	rollingLatencyWindow  = 32
	maxTrackedLatencySecs = 30.0
)

func (l *Layer) enforceBurstLimits(st *domainState, ctx *RequestContext, now time.Time) {
	cutoff := now.Add(-l.config.BurstWindow)
	for len(st.recentRequests) > 0 && st.recentRequests[0].Before(cutoff) {
		st.recentRequests = st.recentRequests[1:]
	}
	if len(st.recentRequests) > l.config.MaxRequestsPerWindow && ctx.DelayHint == 0 {
		ctx.DelayHint = l.config.Cooldown
	}
}

func (l *Layer) applyCooldown(st *domainState, ctx *RequestContext, now time.Time) {
	if st.cooldownUntil.IsZero() {
		return
	}
	if now.Before(st.cooldownUntil) {
		if remaining := st.cooldownUntil.Sub(now); remaining > ctx.DelayHint {
			ctx.DelayHint = remaining
		}
	} else {
		st.cooldownUntil = time.Time{}
	}
}

// fingerprintHeaders are rotated because their values commonly feed
// server-side fingerprints.
var fingerprintHeaders = []string{
	"Accept-Language",
	"Sec-Fetch-Site",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Dest",
}

func (l *Layer) randomizeHeaders(st *domainState, ctx *RequestContext) {
	if !l.config.RandomizeHeaders {
		return
	}
	for _, name := range fingerprintHeaders {
		if rand.Float64() < 0.3 {
			ctx.Headers.Set(name, randomHeaderValue(st.salt))
		}
	}
	if ctx.UserAgent != "" {
		ctx.Headers.Set("User-Agent", ctx.UserAgent)
	}
}

func (l *Layer) injectNoiseHeaders(ctx *RequestContext) {
	if !l.config.InjectNoiseHeaders {
		return
	}
	count := l.config.HeaderNoiseMin
	if spread := l.config.HeaderNoiseMax - l.config.HeaderNoiseMin; spread > 0 {
		count += rand.Intn(spread + 1)
	}
	for i := 0; i < count; i++ {
		var token strings.Builder
		for j := 0; j < 8; j++ {
			fmt.Fprintf(&token, "%x", rand.Intn(1<<16))
		}
		name := "x-cf-client-" + token.String()
		ctx.Headers.Set(name, fmt.Sprintf("%d-%d", rand.Uint32(), ctx.BodySize))
	}
}

func randomHeaderValue(salt uint32) string {
	seed := rand.Uint32() ^ salt
	choices := []string{
		fmt.Sprintf("same-origin;sid=%x", seed),
		fmt.Sprintf("cross-site;hash=%x", bits.RotateLeft32(seed, 5)),
		fmt.Sprintf("none;trace=%x", bits.RotateLeft32(seed, -7)),
	}
	return choices[rand.Intn(len(choices))]
}
