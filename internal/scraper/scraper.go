// Package scraper drives origin requests end to end. Each request is
// prepared against the adaptive subsystems (fingerprint, anti-detection,
// proxy rotation, learned delays), sent through a proxy-keyed client pool,
// and evaluated for Cloudflare challenges; detected challenges are solved
// and submitted transparently, with mitigation-driven retries bounded by
// the configured attempt limit.
package scraper

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/antidetect"
	"github.com/Rorqualx/cloudscraper-go/internal/captcha"
	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/config"
	"github.com/Rorqualx/cloudscraper-go/internal/detector"
	"github.com/Rorqualx/cloudscraper-go/internal/events"
	"github.com/Rorqualx/cloudscraper-go/internal/fingerprint"
	"github.com/Rorqualx/cloudscraper-go/internal/interpreter"
	"github.com/Rorqualx/cloudscraper-go/internal/metrics"
	"github.com/Rorqualx/cloudscraper-go/internal/ml"
	"github.com/Rorqualx/cloudscraper-go/internal/performance"
	"github.com/Rorqualx/cloudscraper-go/internal/pipeline"
	"github.com/Rorqualx/cloudscraper-go/internal/proxy"
	"github.com/Rorqualx/cloudscraper-go/internal/solvers"
	"github.com/Rorqualx/cloudscraper-go/internal/state"
	"github.com/Rorqualx/cloudscraper-go/internal/timing"
	"github.com/Rorqualx/cloudscraper-go/internal/tlsprofile"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
	"github.com/Rorqualx/cloudscraper-go/internal/useragent"
)

// adaptiveBundle groups the optional per-request subsystems behind the
// scraper's coarse lock. Fields are nil when the matching feature is
// disabled. The lock covers request preparation and snapshotting only;
// it is never held across network I/O or a sleep.
type adaptiveBundle struct {
	timing       *timing.Adaptive
	antiDetect   *antidetect.Layer
	fingerprint  *fingerprint.Generator
	tls          *tlsprofile.Manager
	proxies      *proxy.Manager
	currentProxy string
	performance  *performance.Monitor
	ml           *ml.Optimizer
}

// Scraper is the orchestrator. It is safe for concurrent use; one
// instance is meant to be shared across all requests of a process.
type Scraper struct {
	cfg         *config.Config
	profile     useragent.Profile
	baseHeaders http.Header

	clients   *clientPool
	pipeline  *pipeline.Pipeline
	detector  *detector.Detector
	catalog   *detector.Catalog // nil without an external signature file
	state     *state.Manager
	collector *metrics.Collector // nil when metrics are disabled
	events    *events.Dispatcher

	mu       sync.Mutex
	adaptive adaptiveBundle

	closed atomic.Bool
}

// New builds a Scraper from functional options. Zero options gives the
// environment-driven default: every adaptive subsystem enabled, no
// proxies, no captcha provider.
func New(opts ...Option) (*Scraper, error) {
	st := defaultSettings()
	for _, opt := range opts {
		opt(st)
	}
	cfg := st.cfg
	cfg.Validate()

	catalogMgr, err := useragent.Default()
	if err != nil {
		return nil, fmt.Errorf("browser catalog: %w", err)
	}
	profile, err := catalogMgr.SelectProfile(useragent.Options{
		Custom:      cfg.UserAgent,
		Platform:    cfg.Platform,
		Browser:     cfg.Browser,
		Desktop:     cfg.Desktop,
		Mobile:      cfg.Mobile,
		AllowBrotli: cfg.AllowBrotli,
	})
	if err != nil {
		return nil, fmt.Errorf("select browser profile: %w", err)
	}
	baseHeaders := http.Header{}
	for name, value := range profile.Headers {
		baseHeaders.Set(name, value)
	}

	var (
		det *detector.Detector
		cat *detector.Catalog
	)
	if cfg.SignaturesPath != "" {
		cat, err = detector.NewCatalog(cfg.SignaturesPath, cfg.SignaturesHotReload)
		if err != nil {
			return nil, fmt.Errorf("signature catalog: %w", err)
		}
		det = detector.NewWithCatalog(cat)
	} else {
		det = detector.New()
	}

	engine := st.interpreter
	if engine == nil {
		engine = interpreter.NewOtto()
	}
	provider := st.captcha
	if provider == nil {
		provider = providerFromConfig(cfg)
	}

	rateLimit := solvers.NewRateLimit()
	accessDenied := solvers.NewAccessDenied()
	botManagement := solvers.NewBotManagement()
	if st.backoffMax > 0 {
		rateLimit = rateLimit.WithDelayRange(st.backoffMin, st.backoffMax)
		accessDenied = accessDenied.WithDelayRange(st.backoffMin, st.backoffMax)
		botManagement = botManagement.WithDelayRange(st.backoffMin, st.backoffMax)
	}

	pipe := pipeline.New(det).
		WithJavaScriptV1(solvers.NewJavaScriptV1(engine)).
		WithJavaScriptV2(solvers.NewJavaScriptV2().WithCaptchaProvider(provider)).
		WithManagedV3(solvers.NewManagedV3(engine)).
		WithTurnstile(solvers.NewTurnstile().WithCaptchaProvider(provider)).
		WithRateLimit(rateLimit).
		WithAccessDenied(accessDenied).
		WithBotManagement(botManagement)

	stateMgr := state.NewManager()
	stateMgr.StartEviction(0)

	var collector *metrics.Collector
	if cfg.EnableMetrics {
		collector = metrics.NewCollector()
	}

	dispatcher := events.NewDispatcher()
	dispatcher.Register(events.LoggingHandler{})
	if collector != nil {
		dispatcher.Register(events.NewMetricsHandler(collector))
		dispatcher.Register(events.PrometheusHandler{})
	}
	for _, h := range st.handlers {
		dispatcher.Register(h)
	}

	s := &Scraper{
		cfg:         cfg,
		profile:     profile,
		baseHeaders: baseHeaders,
		clients:     newClientPool(cfg.RequestTimeout),
		pipeline:    pipe,
		detector:    det,
		catalog:     cat,
		state:       stateMgr,
		collector:   collector,
		events:      dispatcher,
		adaptive:    buildAdaptiveBundle(cfg),
	}

	log.Debug().
		Str("user_agent", profile.UserAgent()).
		Bool("proxies", cfg.HasProxies()).
		Bool("captcha", provider != nil).
		Str("behavior", cfg.BehaviorProfile).
		Strs("solvers", pipe.SolverNames()).
		Msg("scraper ready")
	return s, nil
}

// buildAdaptiveBundle constructs whichever subsystems the configuration
// enables, leaving the rest nil.
func buildAdaptiveBundle(cfg *config.Config) adaptiveBundle {
	var bundle adaptiveBundle

	if cfg.EnableAdaptiveTiming {
		bundle.timing = timing.NewAdaptive()
		if behavior, ok := timing.ParseBehavior(cfg.BehaviorProfile); ok {
			bundle.timing.SetBehavior(behavior)
		}
	}
	if cfg.EnableAntiDetection {
		bundle.antiDetect = antidetect.New(antidetect.DefaultConfig())
	}
	if cfg.EnableSpoofing {
		browser, ok := fingerprint.ParseBrowser(cfg.Browser)
		if !ok {
			browser = fingerprint.BrowserChrome
		}
		gen := fingerprint.NewGenerator(browser)
		if level, ok := fingerprint.ParseConsistency(cfg.SpoofingConsistency); ok {
			gen = gen.WithConsistency(level)
		}
		bundle.fingerprint = gen
	}
	if cfg.EnableTLSFingerprinting {
		tlsCfg := tlsprofile.DefaultConfig()
		if browser, ok := fingerprint.ParseBrowser(cfg.Browser); ok {
			tlsCfg.PreferredBrowser = browser
		}
		bundle.tls = tlsprofile.NewManager(tlsCfg)
	}
	if cfg.HasProxies() {
		proxyCfg := proxy.Config{
			BanTime:          cfg.ProxyBanTime,
			FailureThreshold: cfg.ProxyFailureThreshold,
			Cooldown:         cfg.ProxyCooldown,
		}
		if strategy, ok := proxy.ParseStrategy(cfg.ProxyRotationStrategy); ok {
			proxyCfg.Strategy = strategy
		}
		bundle.proxies = proxy.NewManager(proxyCfg)
		bundle.proxies.Load(cfg.Proxies)
	}
	if cfg.EnablePerformanceMonitoring {
		bundle.performance = performance.NewMonitor(performance.DefaultConfig())
	}
	if cfg.EnableMLOptimization {
		mlCfg := ml.DefaultConfig()
		mlCfg.LearningRate = cfg.MLLearningRate
		bundle.ml = ml.NewOptimizer(mlCfg)
	}
	return bundle
}

// providerFromConfig resolves the configured captcha provider, or nil
// when token solving is not set up.
func providerFromConfig(cfg *config.Config) captcha.Provider {
	if !cfg.HasCaptchaProvider() {
		return nil
	}
	switch cfg.CaptchaProvider {
	case "2captcha":
		return captcha.NewTwoCaptcha(captcha.TwoCaptchaConfig{
			APIKey:  cfg.Captcha2CaptchaAPIKey,
			Timeout: cfg.CaptchaSolverTimeout,
		})
	case "capsolver":
		return captcha.NewCapSolver(captcha.CapSolverConfig{
			APIKey:  cfg.CaptchaCapSolverAPIKey,
			Timeout: cfg.CaptchaSolverTimeout,
		})
	case "chain":
		// CapSolver first, it polls faster and costs less per solve.
		return captcha.NewChain(captcha.NewMetrics(),
			captcha.NewCapSolver(captcha.CapSolverConfig{
				APIKey:  cfg.CaptchaCapSolverAPIKey,
				Timeout: cfg.CaptchaSolverTimeout,
			}),
			captcha.NewTwoCaptcha(captcha.TwoCaptchaConfig{
				APIKey:  cfg.Captcha2CaptchaAPIKey,
				Timeout: cfg.CaptchaSolverTimeout,
			}))
	}
	return nil
}

// UserAgent returns the User-Agent the scraper presents by default.
// Per-domain fingerprints may override it on individual requests.
func (s *Scraper) UserAgent() string {
	return s.profile.UserAgent()
}

// SetBehaviorProfile switches the timing envelope at runtime.
func (s *Scraper) SetBehaviorProfile(behavior timing.Behavior) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptive.timing == nil {
		return fmt.Errorf("set behavior profile: adaptive timing is disabled")
	}
	s.adaptive.timing.SetBehavior(behavior)
	return nil
}

// AddAdaptivePattern registers a caller-supplied detection pattern, built
// from observed challenge pages, alongside the embedded catalog.
func (s *Scraper) AddAdaptivePattern(domain, name string, sources []string, kind challenge.Kind, strategy detector.Strategy) error {
	return s.detector.AddAdaptivePattern(domain, name, sources, kind, strategy)
}

// Metrics returns a snapshot of the rolling metrics, or false when the
// collector is disabled.
func (s *Scraper) Metrics() (metrics.Snapshot, bool) {
	if s.collector == nil {
		return metrics.Snapshot{}, false
	}
	return s.collector.Snapshot(), true
}

// StateFor returns a snapshot of the per-domain state.
func (s *Scraper) StateFor(domain string) (state.DomainState, bool) {
	return s.state.Get(domain)
}

// Domains lists the domains with tracked state.
func (s *Scraper) Domains() []string {
	return s.state.Domains()
}

// ClearState drops the tracked state for one domain.
func (s *Scraper) ClearState(domain string) {
	s.state.Clear(domain)
}

// ProxyHealth reports per-endpoint proxy health, or false when no proxies
// are configured.
func (s *Scraper) ProxyHealth() (proxy.Report, bool) {
	s.mu.Lock()
	pool := s.adaptive.proxies
	s.mu.Unlock()
	if pool == nil {
		return proxy.Report{}, false
	}
	return pool.HealthReport(), true
}

// TimingSnapshot exposes the learned timing state for a domain, or false
// when adaptive timing is disabled or the domain is unknown.
func (s *Scraper) TimingSnapshot(domain string) (timing.Snapshot, bool) {
	s.mu.Lock()
	adaptive := s.adaptive.timing
	s.mu.Unlock()
	if adaptive == nil {
		return timing.Snapshot{}, false
	}
	return adaptive.Snapshot(domain)
}

// PerformanceReport returns the monitor's current aggregate view, or nil
// when performance monitoring is disabled.
func (s *Scraper) PerformanceReport() *performance.Report {
	s.mu.Lock()
	monitor := s.adaptive.performance
	s.mu.Unlock()
	if monitor == nil {
		return nil
	}
	return monitor.Snapshot()
}

// Recommendation returns the optimizer's advice for a domain, or nil when
// ML optimization is disabled or the domain lacks samples.
func (s *Scraper) Recommendation(domain string) *ml.Recommendation {
	s.mu.Lock()
	optimizer := s.adaptive.ml
	s.mu.Unlock()
	if optimizer == nil {
		return nil
	}
	return optimizer.Recommend(domain)
}

// DetectionHistory returns the detector's bounded detection log.
func (s *Scraper) DetectionHistory() []detector.Record {
	return s.detector.History()
}

// ClientCount reports how many transport clients the pool holds.
func (s *Scraper) ClientCount() int {
	return s.clients.size()
}

// Close releases background resources: the signature watcher and the
// state eviction sweep. In-flight requests are not interrupted, but new
// calls fail with ErrScraperClosed.
func (s *Scraper) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return types.ErrScraperClosed
	}
	s.state.Close()
	if s.catalog != nil {
		return s.catalog.Close()
	}
	return nil
}
