package timing

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Behavior selects the high-level pacing envelope.
type Behavior string

const (
	BehaviorCasual   Behavior = "casual"
	BehaviorFocused  Behavior = "focused"
	BehaviorResearch Behavior = "research"
	BehaviorMobile   Behavior = "mobile"
)

// ParseBehavior maps a config string onto a behavior profile.
func ParseBehavior(s string) (Behavior, bool) {
	switch Behavior(strings.ToLower(s)) {
	case BehaviorCasual, BehaviorFocused, BehaviorResearch, BehaviorMobile:
		return Behavior(strings.ToLower(s)), true
	}
	return "", false
}

// Profile is the timing envelope for one behavior. Delays are in seconds.
type Profile struct {
	BaseDelay            float64
	MinDelay             float64
	MaxDelay             float64
	VarianceFactor       float64
	BurstThreshold       int
	CooldownMultiplier   float64
	SuccessRateThreshold float64
}

func (p Profile) clamp(v float64) float64 {
	if v < p.MinDelay {
		return p.MinDelay
	}
	if v > p.MaxDelay {
		return p.MaxDelay
	}
	return v
}

// defaultProfiles returns the built-in behavior envelopes.
func defaultProfiles() map[Behavior]Profile {
	return map[Behavior]Profile{
		BehaviorCasual: {
			BaseDelay:            1.5,
			MinDelay:             0.5,
			MaxDelay:             3.0,
			VarianceFactor:       0.4,
			BurstThreshold:       3,
			CooldownMultiplier:   1.5,
			SuccessRateThreshold: 0.8,
		},
		BehaviorFocused: {
			BaseDelay:            0.9,
			MinDelay:             0.25,
			MaxDelay:             2.0,
			VarianceFactor:       0.3,
			BurstThreshold:       5,
			CooldownMultiplier:   1.2,
			SuccessRateThreshold: 0.85,
		},
		BehaviorResearch: {
			BaseDelay:            2.5,
			MinDelay:             1.0,
			MaxDelay:             6.0,
			VarianceFactor:       0.6,
			BurstThreshold:       2,
			CooldownMultiplier:   2.0,
			SuccessRateThreshold: 0.7,
		},
		BehaviorMobile: {
			BaseDelay:            1.2,
			MinDelay:             0.4,
			MaxDelay:             3.0,
			VarianceFactor:       0.4,
			BurstThreshold:       4,
			CooldownMultiplier:   1.3,
			SuccessRateThreshold: 0.75,
		},
	}
}

// Request is the metadata a delay decision is based on.
type Request struct {
	Method        string
	ContentLength int
}

// Outcome is reported back after each request for adaptive learning.
type Outcome struct {
	Success      bool
	ResponseTime time.Duration
	AppliedDelay time.Duration
}

// Snapshot exposes the learned per-domain timing state.
type Snapshot struct {
	SuccessRate         float64
	ConsecutiveFailures int
	AverageResponseTime time.Duration
	OptimalTiming       time.Duration
	HasOptimalTiming    bool
}

// Strategy computes pre-request delays and learns from outcomes.
type Strategy interface {
	SetBehavior(behavior Behavior)
	Behavior() Behavior
	CalculateDelay(domain string, req Request) time.Duration
	RecordOutcome(domain string, outcome Outcome)
	Snapshot(domain string) (Snapshot, bool)
}

// methodMultiplier scales the base delay by request method. Writes take
// longer to compose than reads; probes barely register.
func methodMultiplier(method string) float64 {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return 1.35
	case http.MethodDelete:
		return 0.9
	case http.MethodHead, http.MethodOptions:
		return 0.6
	}
	return 1.0
}

type domainTiming struct {
	successRate      float64
	consecutiveFails int
	avgResponseTime  float64 // seconds
	optimalTiming    float64 // seconds
	hasOptimal       bool
	lastRequest      time.Time
	recentDelays     []float64
}

func newDomainTiming() *domainTiming {
	return &domainTiming{successRate: 1.0, avgResponseTime: 1.0}
}

const (
	// outcomeAlpha is the smoothing factor for learned outcome signals.
	outcomeAlpha = 0.1
	// maxLearnedDelaySecs caps the delay values fed into learning.
	maxLearnedDelaySecs = 10.0
	// maxLearnedResponseSecs caps response times fed into learning.
	maxLearnedResponseSecs = 30.0
	// domainDelayHistory caps the per-domain applied-delay history.
	domainDelayHistory = 32
	// globalHistorySize caps the cross-domain outcome history.
	globalHistorySize = 256
)

// Adaptive is the default Strategy. It paces requests like a human
// browsing session: a profile-scaled base delay with variance, penalties
// while a domain is failing, reading pauses proportional to page size,
// and a circadian rhythm that slows everything down at night. Safe for
// concurrent use.
type Adaptive struct {
	mu            sync.Mutex
	profiles      map[Behavior]Profile
	active        Behavior
	domains       map[string]*domainTiming
	globalHistory []bool
	lastRequest   time.Time
}

// NewAdaptive creates an adaptive strategy with the casual profile active.
func NewAdaptive() *Adaptive {
	return &Adaptive{
		profiles: defaultProfiles(),
		active:   BehaviorCasual,
		domains:  make(map[string]*domainTiming),
	}
}

// SetBehavior switches the active pacing envelope. Unknown behaviors are
// ignored.
func (a *Adaptive) SetBehavior(behavior Behavior) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.profiles[behavior]; ok {
		a.active = behavior
	}
}

// Behavior returns the active pacing envelope.
func (a *Adaptive) Behavior() Behavior {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// ActiveProfile returns the envelope of the active behavior.
func (a *Adaptive) ActiveProfile() Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profiles[a.active]
}

// CalculateDelay computes the pre-request delay for a domain and marks
// the request against the domain's pacing state.
func (a *Adaptive) CalculateDelay(domain string, req Request) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	profile := a.profiles[a.active]
	state := a.domainLocked(domain)

	delay := profile.BaseDelay * methodMultiplier(req.Method)
	delay *= randRange(1-profile.VarianceFactor, 1+profile.VarianceFactor)

	if state.successRate < profile.SuccessRateThreshold {
		delta := profile.SuccessRateThreshold - state.successRate
		if delta < 0.05 {
			delta = 0.05
		}
		delay *= 1 + delta
	}

	if state.consecutiveFails > 0 {
		delay *= 1 + float64(state.consecutiveFails)*0.2
	}

	if state.hasOptimal {
		delay = delay*0.8 + state.optimalTiming*0.2
	}

	responseFactor := state.avgResponseTime
	if responseFactor < 0.6 {
		responseFactor = 0.6
	} else if responseFactor > 1.5 {
		responseFactor = 1.5
	}
	delay *= responseFactor

	delay = humanJitter(delay, profile, req.ContentLength)

	circadian := circadianMultiplier()
	if circadian < 0.2 {
		circadian = 0.2
	}
	delay /= circadian

	now := time.Now()
	if !state.lastRequest.IsZero() {
		minSpacing := profile.MinDelay * 0.6
		if remaining := minSpacing - now.Sub(state.lastRequest).Seconds(); remaining > delay {
			delay = remaining
		}
	}
	state.lastRequest = now
	a.lastRequest = now

	return time.Duration(profile.clamp(delay) * float64(time.Second))
}

// RecordOutcome feeds a completed request back into the domain's learned
// state. Successful delays move the optimal timing estimate; failures
// only raise the penalty counter.
func (a *Adaptive) RecordOutcome(domain string, outcome Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.domainLocked(domain)

	target := 0.0
	if outcome.Success {
		target = 1.0
	}
	state.successRate = (1-outcomeAlpha)*state.successRate + outcomeAlpha*target

	applied := outcome.AppliedDelay.Seconds()
	if applied > maxLearnedDelaySecs {
		applied = maxLearnedDelaySecs
	}

	if outcome.Success {
		state.consecutiveFails = 0
		if state.hasOptimal {
			state.optimalTiming = 0.9*state.optimalTiming + 0.1*applied
		} else {
			state.optimalTiming = applied
			state.hasOptimal = true
		}
	} else if state.consecutiveFails < 5 {
		state.consecutiveFails++
	}

	responseSecs := outcome.ResponseTime.Seconds()
	if responseSecs > maxLearnedResponseSecs {
		responseSecs = maxLearnedResponseSecs
	}
	state.avgResponseTime = (1-outcomeAlpha)*state.avgResponseTime + outcomeAlpha*responseSecs

	if len(state.recentDelays) == domainDelayHistory {
		state.recentDelays = state.recentDelays[1:]
	}
	state.recentDelays = append(state.recentDelays, applied)

	if len(a.globalHistory) == globalHistorySize {
		a.globalHistory = a.globalHistory[1:]
	}
	a.globalHistory = append(a.globalHistory, outcome.Success)
}

// Snapshot returns the learned state for a domain.
func (a *Adaptive) Snapshot(domain string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.domains[domain]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		SuccessRate:         state.successRate,
		ConsecutiveFailures: state.consecutiveFails,
		AverageResponseTime: time.Duration(state.avgResponseTime * float64(time.Second)),
		OptimalTiming:       time.Duration(state.optimalTiming * float64(time.Second)),
		HasOptimalTiming:    state.hasOptimal,
	}, true
}

func (a *Adaptive) domainLocked(domain string) *domainTiming {
	state, ok := a.domains[domain]
	if !ok {
		state = newDomainTiming()
		a.domains[domain] = state
	}
	return state
}

// humanJitter layers reading time, reaction time, and the occasional
// distraction on top of the computed delay, then clamps to the profile.
func humanJitter(delay float64, profile Profile, contentLength int) float64 {
	if contentLength > 500 {
		words := float64(contentLength) / 5.0
		if words < 1 {
			words = 1
		}
		readingSpeed := randRange(200, 300) // words per minute
		readingTime := words / readingSpeed * 60.0
		processing := randRange(0.5, 2.0)
		if t := readingTime + processing; t > delay {
			delay = t
		}
	}

	delay += randRange(0.15, 0.4)

	if rand.Float64() < 0.05 {
		delay += randRange(5, 60)
	}

	return profile.clamp(delay)
}

// circadianMultiplier models activity over the local day. Requests issued
// at night come out slower because the divisor shrinks.
func circadianMultiplier() float64 {
	var base float64
	switch hour := time.Now().Hour(); {
	case hour == 0:
		base = 0.3
	case hour >= 1 && hour <= 3:
		base = 0.2
	case hour == 4:
		base = 0.3
	case hour == 5:
		base = 0.4
	case hour == 6:
		base = 0.6
	case hour == 7:
		base = 0.8
	case hour == 8:
		base = 0.9
	case hour >= 9 && hour <= 11:
		base = 1.0
	case hour == 12:
		base = 0.9
	case hour == 13:
		base = 0.75
	case hour == 14:
		base = 0.85
	case hour == 15 || hour == 16:
		base = 1.0
	case hour == 17:
		base = 0.9
	case hour == 18:
		base = 0.8
	case hour == 19:
		base = 0.7
	case hour == 20:
		base = 0.6
	case hour == 21:
		base = 0.5
	case hour == 22:
		base = 0.4
	default:
		base = 0.3
	}
	return base * randRange(0.85, 1.15)
}

func randRange(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + rand.Float64()*(max-min)
}
