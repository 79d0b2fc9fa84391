// Package state tracks per-domain request telemetry: success rates,
// response times, burst windows, session identity, and recent errors.
// The manager is shared by the timing, anti-detection, and mitigation
// layers, which read and feed back signals per domain.
package state

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// errorHistoryLimit caps the per-domain error history (FIFO).
	errorHistoryLimit = 50
	// recentDelayLimit caps the per-domain applied-delay history.
	recentDelayLimit = 32
	// emaAlpha is the smoothing factor for the running averages.
	emaAlpha = 0.05

	// evictionInterval is how often the background sweep runs.
	evictionInterval = 5 * time.Minute
	// defaultMaxIdle is how long a domain may sit untouched before the
	// sweep drops it.
	defaultMaxIdle = 30 * time.Minute
)

// TimingState carries the adaptive timing signals for one domain.
type TimingState struct {
	SuccessRate         float64
	AvgResponseTime     float64 // seconds
	ConsecutiveFailures int
	OptimalDelay        time.Duration // 0 until a successful outcome seeds it
	RecentDelays        []time.Duration
}

func newTimingState() TimingState {
	return TimingState{SuccessRate: 1.0, AvgResponseTime: 1.0}
}

// RegisterOutcome folds a completed request into the running averages.
// The applied delay only moves the optimal delay on success.
func (t *TimingState) RegisterOutcome(success bool, responseTime, appliedDelay time.Duration) {
	t.ApplyOutcome(success)

	secs := responseTime.Seconds()
	if t.AvgResponseTime <= 0 {
		t.AvgResponseTime = secs
	} else {
		t.AvgResponseTime = (1-emaAlpha)*t.AvgResponseTime + emaAlpha*secs
	}

	if success {
		if t.OptimalDelay == 0 {
			t.OptimalDelay = appliedDelay
		} else {
			blended := (1-emaAlpha)*t.OptimalDelay.Seconds() + emaAlpha*appliedDelay.Seconds()
			t.OptimalDelay = time.Duration(blended * float64(time.Second))
		}
	}

	t.RecentDelays = append(t.RecentDelays, appliedDelay)
	if len(t.RecentDelays) > recentDelayLimit {
		t.RecentDelays = t.RecentDelays[1:]
	}
}

// ApplyOutcome folds a success/failure signal into the success rate
// without timing data.
func (t *TimingState) ApplyOutcome(success bool) {
	target := 0.0
	if success {
		target = 1.0
	}
	t.SuccessRate = (1-emaAlpha)*t.SuccessRate + emaAlpha*target

	if success {
		t.ConsecutiveFailures = 0
	} else {
		t.ConsecutiveFailures++
	}
}

// TimingPatternState tracks the observed request cadence for one domain.
type TimingPatternState struct {
	LastRequest time.Time
	AvgInterval time.Duration
	Variance    time.Duration
}

func newTimingPatternState() TimingPatternState {
	return TimingPatternState{
		AvgInterval: 2 * time.Second,
		Variance:    time.Second,
	}
}

// MarkRequest stamps the most recent request time.
func (t *TimingPatternState) MarkRequest(now time.Time) { t.LastRequest = now }

// UpdateTargets replaces the cadence targets.
func (t *TimingPatternState) UpdateTargets(avgInterval, variance time.Duration) {
	t.AvgInterval = avgInterval
	t.Variance = variance
}

// BurstState tracks request timestamps inside a sliding window so burst
// limits and cooldowns can be enforced per domain.
type BurstState struct {
	Window        []time.Time
	MaxBurst      int
	WindowSize    time.Duration
	CooldownBase  time.Duration
	CooldownUntil time.Time
}

func newBurstState() BurstState {
	return BurstState{
		MaxBurst:     5,
		WindowSize:   60 * time.Second,
		CooldownBase: 10 * time.Second,
	}
}

// Record adds a request timestamp, dropping entries that fell out of the
// window.
func (b *BurstState) Record(now time.Time) {
	for len(b.Window) > 0 && b.Window[0].Add(b.WindowSize).Before(now) {
		b.Window = b.Window[1:]
	}
	b.Window = append(b.Window, now)
}

// SetCooldown starts a cooldown of the given length from now.
func (b *BurstState) SetCooldown(d time.Duration) {
	b.CooldownUntil = time.Now().Add(d)
}

// CooldownRemaining returns the time left on an active cooldown.
func (b *BurstState) CooldownRemaining(now time.Time) (time.Duration, bool) {
	if b.CooldownUntil.After(now) {
		return b.CooldownUntil.Sub(now), true
	}
	return 0, false
}

// SessionState identifies a logical browsing session against one domain.
type SessionState struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	MinInterval  time.Duration
	RequestCount int
}

func newSessionState() SessionState {
	return SessionState{MinInterval: 500 * time.Millisecond}
}

// EnsureInitialized assigns a session id on first use.
func (s *SessionState) EnsureInitialized(now time.Time) {
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", now.UnixMilli())
		s.CreatedAt = now
	}
}

// Touch marks session activity and bumps the request counter.
func (s *SessionState) Touch(now time.Time) {
	s.EnsureInitialized(now)
	s.LastActivity = now
	s.RequestCount++
}

// FingerprintProfile remembers the browser identity last presented to a
// domain, so retries stay consistent with earlier requests.
type FingerprintProfile struct {
	GPUVendor       string
	PerformanceTier string
	BrowserType     string
	OperatingSystem string
	CanvasHash      string
	WebGLHash       string
	LastUpdated     time.Time
}

// UpdateProfile replaces the identity fields.
func (f *FingerprintProfile) UpdateProfile(gpuVendor, performanceTier, browserType, operatingSystem string) {
	f.GPUVendor = gpuVendor
	f.PerformanceTier = performanceTier
	f.BrowserType = browserType
	f.OperatingSystem = operatingSystem
	f.LastUpdated = time.Now()
}

// UpdateHashes replaces whichever rendering hashes are provided.
func (f *FingerprintProfile) UpdateHashes(canvasHash, webglHash string) {
	if canvasHash != "" {
		f.CanvasHash = canvasHash
	}
	if webglHash != "" {
		f.WebGLHash = webglHash
	}
	f.LastUpdated = time.Now()
}

// MLStrategyState tracks the outcome counters for the learned strategy
// last applied to a domain.
type MLStrategyState struct {
	LastStrategy string
	Successes    int
	Failures     int
	LastUpdated  time.Time
}

// Record notes the strategy used and whether it worked.
func (m *MLStrategyState) Record(strategy string, success bool) {
	m.LastStrategy = strategy
	if success {
		m.Successes++
	} else {
		m.Failures++
	}
	m.LastUpdated = time.Now()
}

// ErrorRecord is one entry in the bounded per-domain error history. Code
// is the HTTP status when known, 0 otherwise.
type ErrorRecord struct {
	Timestamp time.Time
	Code      int
	Message   string
}

// DomainState aggregates all per-domain telemetry.
type DomainState struct {
	LastAccess    time.Time
	LastSuccess   time.Time
	LastError     string
	FailureStreak int
	SuccessStreak int
	Timing        TimingState
	Pattern       TimingPatternState
	Burst         BurstState
	Session       SessionState
	Fingerprint   FingerprintProfile
	ML            MLStrategyState
	RecentErrors  []ErrorRecord
	Cookies       map[string]string
	StickyHeaders map[string]string
	Metadata      map[string]any
}

func newDomainState() *DomainState {
	return &DomainState{
		Timing:        newTimingState(),
		Pattern:       newTimingPatternState(),
		Burst:         newBurstState(),
		Session:       newSessionState(),
		Cookies:       make(map[string]string),
		StickyHeaders: make(map[string]string),
		Metadata:      make(map[string]any),
	}
}

// RecordSuccess folds in a successful outcome. The error history is
// cleared; a domain that works again has recovered.
func (s *DomainState) RecordSuccess() {
	s.recordOutcome(true, false, 0, 0, "")
}

// RecordFailure folds in a failed outcome with the given error message.
func (s *DomainState) RecordFailure(message string) {
	s.recordOutcome(false, false, 0, 0, message)
}

// RecordTimedOutcome folds in an outcome together with the observed
// response time and the delay that was applied before the request.
func (s *DomainState) RecordTimedOutcome(success bool, responseTime, appliedDelay time.Duration, message string) {
	s.recordOutcome(success, true, responseTime, appliedDelay, message)
}

func (s *DomainState) recordOutcome(success, timed bool, responseTime, appliedDelay time.Duration, message string) {
	now := time.Now()
	if success {
		s.SuccessStreak++
		s.FailureStreak = 0
		s.LastSuccess = now
		s.LastError = ""
		s.RecentErrors = s.RecentErrors[:0]
	} else {
		s.FailureStreak++
		s.SuccessStreak = 0
		if message != "" {
			s.LastError = message
		}
	}

	if timed {
		s.Timing.RegisterOutcome(success, responseTime, appliedDelay)
	} else {
		s.Timing.ApplyOutcome(success)
	}

	if !success {
		if message == "" {
			message = "unknown error"
		}
		s.PushError(0, message)
	}
}

// PushError appends to the bounded error history.
func (s *DomainState) PushError(code int, message string) {
	s.LastError = message
	s.RecentErrors = append(s.RecentErrors, ErrorRecord{
		Timestamp: time.Now(),
		Code:      code,
		Message:   message,
	})
	if len(s.RecentErrors) > errorHistoryLimit {
		s.RecentErrors = s.RecentErrors[1:]
	}
}

// SetCookie pins a cookie value for the domain.
func (s *DomainState) SetCookie(key, value string) { s.Cookies[key] = value }

// SetHeader pins a sticky header for the domain.
func (s *DomainState) SetHeader(key, value string) { s.StickyHeaders[key] = value }

// SetMetadata attaches an arbitrary metadata value.
func (s *DomainState) SetMetadata(key string, value any) { s.Metadata[key] = value }

// MarkRequest stamps a new outgoing request across the cadence, session,
// and burst trackers.
func (s *DomainState) MarkRequest() {
	now := time.Now()
	s.Pattern.MarkRequest(now)
	s.Session.Touch(now)
	s.Burst.Record(now)
}

// UpdateTimingTargets replaces the cadence targets.
func (s *DomainState) UpdateTimingTargets(avgInterval, variance time.Duration) {
	s.Pattern.UpdateTargets(avgInterval, variance)
}

// UpdateSessionMinInterval replaces the minimum request spacing.
func (s *DomainState) UpdateSessionMinInterval(interval time.Duration) {
	s.Session.MinInterval = interval
}

// snapshot returns a copy detached from the manager's internal state.
func (s *DomainState) snapshot() DomainState {
	out := *s
	out.Timing.RecentDelays = slices.Clone(s.Timing.RecentDelays)
	out.Burst.Window = slices.Clone(s.Burst.Window)
	out.RecentErrors = slices.Clone(s.RecentErrors)
	out.Cookies = maps.Clone(s.Cookies)
	out.StickyHeaders = maps.Clone(s.StickyHeaders)
	out.Metadata = maps.Clone(s.Metadata)
	return out
}

// Manager is the thread-safe registry of per-domain state.
type Manager struct {
	mu      sync.RWMutex
	domains map[string]*DomainState

	evicting  bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates an empty state manager.
func NewManager() *Manager {
	return &Manager{
		domains: make(map[string]*DomainState),
		stopCh:  make(chan struct{}),
	}
}

// StartEviction launches a background sweep that drops domains whose
// state has not been touched within maxIdle. Prevents unbounded memory
// growth from domains that are no longer requested. Call Close to stop
// the sweep.
func (m *Manager) StartEviction(maxIdle time.Duration) {
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}

	m.mu.Lock()
	if m.evicting {
		m.mu.Unlock()
		return
	}
	m.evicting = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.evictionLoop(maxIdle)
}

func (m *Manager) evictionLoop(maxIdle time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle(maxIdle)
		case <-m.stopCh:
			return
		}
	}
}

// evictIdle drops domains idle past maxIdle and reports how many went.
func (m *Manager) evictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for domain, s := range m.domains {
		if now.Sub(s.LastAccess) > maxIdle {
			delete(m.domains, domain)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", len(m.domains)).
			Msg("Evicted idle domain state")
	}
	return removed
}

// Close stops the eviction sweep if one was started.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Get returns a snapshot of the domain's state.
func (m *Manager) Get(domain string) (DomainState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.domains[domain]
	if !ok {
		return DomainState{}, false
	}
	return s.snapshot(), true
}

// GetOrCreate returns a snapshot of the domain's state, creating the
// entry first if needed.
func (m *Manager) GetOrCreate(domain string) DomainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryLocked(domain).snapshot()
}

// Update runs fn against the domain's live state under the write lock.
// The entry is created if it does not exist. fn must not retain the
// pointer.
func (m *Manager) Update(domain string, fn func(*DomainState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.entryLocked(domain))
}

func (m *Manager) entryLocked(domain string) *DomainState {
	s, ok := m.domains[domain]
	if !ok {
		s = newDomainState()
		m.domains[domain] = s
	}
	s.LastAccess = time.Now()
	return s
}

// RecordSuccess folds a successful outcome into the domain's state.
func (m *Manager) RecordSuccess(domain string) {
	m.Update(domain, func(s *DomainState) { s.RecordSuccess() })
}

// RecordFailure folds a failed outcome into the domain's state. It also
// satisfies the failure recorder expected by the mitigation handlers.
func (m *Manager) RecordFailure(domain, reason string) {
	m.Update(domain, func(s *DomainState) { s.RecordFailure(reason) })
}

// RecordTimedOutcome folds an outcome with timing data into the domain's
// state.
func (m *Manager) RecordTimedOutcome(domain string, success bool, responseTime, appliedDelay time.Duration, message string) {
	m.Update(domain, func(s *DomainState) {
		s.RecordTimedOutcome(success, responseTime, appliedDelay, message)
	})
}

// MarkRequest stamps an outgoing request for the domain.
func (m *Manager) MarkRequest(domain string) {
	m.Update(domain, func(s *DomainState) { s.MarkRequest() })
}

// PushError appends to the domain's error history.
func (m *Manager) PushError(domain string, code int, message string) {
	m.Update(domain, func(s *DomainState) { s.PushError(code, message) })
}

// Domains returns the tracked domain names in no particular order.
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.domains))
	for domain := range m.domains {
		out = append(out, domain)
	}
	return out
}

// Clear drops the state for one domain.
func (m *Manager) Clear(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, domain)
}

// ClearAll drops all tracked state.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = make(map[string]*DomainState)
}
