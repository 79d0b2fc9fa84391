package scraper

import (
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/captcha"
	"github.com/Rorqualx/cloudscraper-go/internal/config"
	"github.com/Rorqualx/cloudscraper-go/internal/events"
	"github.com/Rorqualx/cloudscraper-go/internal/interpreter"
	"github.com/Rorqualx/cloudscraper-go/internal/timing"
)

// Option customises a Scraper at construction time.
type Option func(*settings)

// settings collects everything New needs before wiring components: the
// declarative configuration plus the injectable collaborator handles that
// cannot be expressed as config values.
type settings struct {
	cfg         *config.Config
	interpreter interpreter.Engine
	captcha     captcha.Provider
	handlers    []events.Handler
	backoffMin  time.Duration
	backoffMax  time.Duration
}

func defaultSettings() *settings {
	return &settings{cfg: config.Load()}
}

// WithConfig replaces the environment-derived configuration wholesale.
// The config is validated during New; out-of-range values are corrected,
// not rejected.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithProxies sets the proxy rotation pool.
func WithProxies(proxies ...string) Option {
	return func(s *settings) {
		s.cfg.Proxies = append([]string(nil), proxies...)
	}
}

// WithBehaviorProfile selects the adaptive timing envelope.
func WithBehaviorProfile(behavior timing.Behavior) Option {
	return func(s *settings) {
		s.cfg.BehaviorProfile = string(behavior)
	}
}

// WithMaxChallengeAttempts bounds the challenge retry loop. Values below
// one are raised to one.
func WithMaxChallengeAttempts(attempts int) Option {
	return func(s *settings) {
		s.cfg.MaxChallengeAttempts = attempts
	}
}

// WithUserAgent pins a custom User-Agent instead of selecting one from
// the browser catalog.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.cfg.UserAgent = ua
	}
}

// WithCaptchaProvider injects a token-solving backend for Turnstile and
// captcha-variant challenges, overriding the provider the configuration
// would build.
func WithCaptchaProvider(p captcha.Provider) Option {
	return func(s *settings) {
		s.captcha = p
	}
}

// WithInterpreter replaces the default otto JavaScript engine used for
// IUAM and managed challenge scripts.
func WithInterpreter(engine interpreter.Engine) Option {
	return func(s *settings) {
		s.interpreter = engine
	}
}

// WithEventHandler registers an additional lifecycle event handler beside
// the built-in logging and metrics handlers.
func WithEventHandler(h events.Handler) Option {
	return func(s *settings) {
		if h != nil {
			s.handlers = append(s.handlers, h)
		}
	}
}

// WithMitigationBackoff overrides the randomized backoff window the
// rate-limit, access-denied, and bot-management handlers fall back to
// when the origin names no wait. Callers that prefer fast failover over
// politeness can shrink it.
func WithMitigationBackoff(min, max time.Duration) Option {
	return func(s *settings) {
		s.backoffMin = min
		s.backoffMax = max
	}
}

// WithoutAdaptiveTiming disables the learned per-domain delay engine.
func WithoutAdaptiveTiming() Option {
	return func(s *settings) { s.cfg.EnableAdaptiveTiming = false }
}

// WithoutAntiDetection disables header jitter and burst throttling.
func WithoutAntiDetection() Option {
	return func(s *settings) { s.cfg.EnableAntiDetection = false }
}

// WithoutSpoofing disables browser fingerprint generation.
func WithoutSpoofing() Option {
	return func(s *settings) { s.cfg.EnableSpoofing = false }
}

// WithoutTLSFingerprinting disables JA3 profile rotation.
func WithoutTLSFingerprinting() Option {
	return func(s *settings) { s.cfg.EnableTLSFingerprinting = false }
}

// WithoutMetrics disables the rolling metrics collector.
func WithoutMetrics() Option {
	return func(s *settings) { s.cfg.EnableMetrics = false }
}

// WithoutMLOptimization disables the delay recommendation model.
func WithoutMLOptimization() Option {
	return func(s *settings) { s.cfg.EnableMLOptimization = false }
}
