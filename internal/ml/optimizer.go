// Package ml implements a lightweight learning optimizer for bypass
// strategy selection. It correlates recorded request features with success
// rates per domain and recommends delays learned from winning attempts.
package ml

import (
	"fmt"
	"maps"
	"math/rand"
	"sort"
	"sync"
)

// FeatureVector carries numeric request features keyed by name.
type FeatureVector map[string]float64

// Config tunes the optimizer.
type Config struct {
	WindowSize        int
	LearningRate      float64
	MinSamples        int
	ExplorationChance float64
}

// DefaultConfig keeps a 200-attempt window per domain.
func DefaultConfig() Config {
	return Config{
		WindowSize:        200,
		LearningRate:      0.15,
		MinSamples:        20,
		ExplorationChance: 0.1,
	}
}

// Recommendation is the optimizer's advice for a domain.
type Recommendation struct {
	Domain            string
	Confidence        float64
	SuggestedDelay    float64
	HasSuggestedDelay bool
	FeatureWeights    map[string]float64
	Notes             []string
}

type attemptRecord struct {
	features FeatureVector
	success  bool
	delay    float64
	hasDelay bool
}

type domainModel struct {
	attempts    []attemptRecord
	weights     map[string]float64
	successRate float64
	windowSize  int
}

func newDomainModel(windowSize int) *domainModel {
	return &domainModel{
		weights:     make(map[string]float64),
		successRate: 1.0,
		windowSize:  windowSize,
	}
}

func (m *domainModel) push(record attemptRecord) {
	if len(m.attempts) == m.windowSize {
		m.attempts = m.attempts[1:]
	}
	m.attempts = append(m.attempts, record)
}

// Optimizer learns per-domain feature weights. Safe for concurrent use.
type Optimizer struct {
	mu      sync.Mutex
	config  Config
	domains map[string]*domainModel
}

// NewOptimizer builds an Optimizer. A non-positive window is coerced to one
// sample so the ring buffer stays bounded.
func NewOptimizer(cfg Config) *Optimizer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1
	}
	return &Optimizer{
		config:  cfg,
		domains: make(map[string]*domainModel),
	}
}

func (o *Optimizer) model(domain string) *domainModel {
	m, ok := o.domains[domain]
	if !ok {
		m = newDomainModel(o.config.WindowSize)
		o.domains[domain] = m
	}
	return m
}

// RecordAttempt feeds one bypass attempt into the domain's model. Pass a
// negative delaySeconds when no delay was applied; zero is a valid sample.
func (o *Optimizer) RecordAttempt(domain string, features FeatureVector, success bool, delaySeconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.model(domain)
	m.push(attemptRecord{
		features: features,
		success:  success,
		delay:    delaySeconds,
		hasDelay: delaySeconds >= 0,
	})

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	alpha := o.config.LearningRate
	m.successRate = (1.0-alpha)*m.successRate + alpha*outcome

	o.recalculateWeights(m)
}

type featureAggregate struct {
	successSum, successCount float64
	failureSum, failureCount float64
}

// recalculateWeights scores each feature as the gap between its average
// value on successes and on failures.
func (o *Optimizer) recalculateWeights(m *domainModel) {
	aggregates := make(map[string]*featureAggregate)
	for _, attempt := range m.attempts {
		for feature, value := range attempt.features {
			agg, ok := aggregates[feature]
			if !ok {
				agg = &featureAggregate{}
				aggregates[feature] = agg
			}
			if attempt.success {
				agg.successSum += value
				agg.successCount++
			} else {
				agg.failureSum += value
				agg.failureCount++
			}
		}
	}

	for feature, agg := range aggregates {
		var successAvg, failureAvg float64
		if agg.successCount > 0 {
			successAvg = agg.successSum / agg.successCount
		}
		if agg.failureCount > 0 {
			failureAvg = agg.failureSum / agg.failureCount
		}
		m.weights[feature] = successAvg - failureAvg
	}
}

// Recommend returns the learned advice for domain, or nil until the domain
// has accumulated MinSamples attempts.
func (o *Optimizer) Recommend(domain string) *Recommendation {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.domains[domain]
	if !ok || len(m.attempts) < o.config.MinSamples {
		return nil
	}

	rec := &Recommendation{
		Domain:         domain,
		Confidence:     m.successRate,
		FeatureWeights: maps.Clone(m.weights),
	}

	if delay, ok := estimateDelay(m); ok {
		rec.SuggestedDelay = delay
		rec.HasSuggestedDelay = true
		rec.Notes = append(rec.Notes, fmt.Sprintf("using learned optimal delay %.2fs", delay))
	} else if chance := min(o.config.ExplorationChance, 0.5); rand.Float64() < chance {
		jitter := 0.5 + rand.Float64()
		rec.SuggestedDelay = jitter
		rec.HasSuggestedDelay = true
		rec.Notes = append(rec.Notes, fmt.Sprintf("exploration jitter %.2f", jitter))
	}
	return rec
}

// estimateDelay takes the median of delays used on successful attempts,
// shaved by 10% and clamped to a sane band.
func estimateDelay(m *domainModel) (float64, bool) {
	var delays []float64
	for _, attempt := range m.attempts {
		if attempt.success && attempt.hasDelay {
			delays = append(delays, attempt.delay)
		}
	}
	if len(delays) == 0 {
		return 0, false
	}
	sort.Float64s(delays)
	delay := delays[len(delays)/2] * 0.9
	if delay < 0.2 {
		delay = 0.2
	} else if delay > 10.0 {
		delay = 10.0
	}
	return delay, true
}

// ClearDomain drops everything learned about domain.
func (o *Optimizer) ClearDomain(domain string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.domains, domain)
}
