// Package detector recognizes Cloudflare challenge pages. Responses are
// gated on the Server header and status code, then scored against a catalog
// of signature patterns; the highest-confidence match wins. Outcomes fed
// back by the orchestrator adjust per-pattern confidence over time, and
// domain-scoped adaptive patterns can be registered at runtime.
package detector

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
)

const (
	// maxScanBytes bounds how much body the indicator regexes scan.
	// Challenge pages are small; anything larger is not one.
	maxScanBytes = 256 * 1024
	// maxHistoryEntries caps the detection history (FIFO).
	maxHistoryEntries = 1000
	// minConfidence rejects weak pattern matches.
	minConfidence = 0.5
	// statsWeight scales the learned success-rate bonus.
	statsWeight = 0.1
	// adaptiveBaseConfidence is the base score of runtime-added patterns.
	adaptiveBaseConfidence = 0.8
)

// PatternStats tracks learned outcomes for one pattern id. Counters
// saturate instead of wrapping.
type PatternStats struct {
	Attempts  uint64
	Successes uint64
}

// SuccessRate returns successes/attempts, or 0 with no attempts.
func (s PatternStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Detection describes one recognized challenge.
type Detection struct {
	PatternID         string
	PatternName       string
	Kind              challenge.Kind
	Strategy          Strategy
	Confidence        float64
	Adaptive          bool
	StatusCode        int
	URL               string
	MatchedIndicators []string
}

// Record is one entry in the bounded detection history.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	PatternID  string    `json:"patternId"`
	Confidence float64   `json:"confidence"`
	URL        string    `json:"url"`
}

// Detector scores responses against the signature catalog. Safe for
// concurrent use.
type Detector struct {
	catalog *Catalog

	mu       sync.Mutex
	adaptive map[string][]*Pattern // keyed by lowercased host
	stats    map[string]*PatternStats
	history  []Record
}

// New creates a detector over the compiled-in catalog.
func New() *Detector {
	return NewWithCatalog(nil)
}

// NewWithCatalog creates a detector that reads its signature set from the
// given catalog manager. A nil catalog falls back to the builtin patterns.
func NewWithCatalog(catalog *Catalog) *Detector {
	return &Detector{
		catalog:  catalog,
		adaptive: make(map[string][]*Pattern),
		stats:    make(map[string]*PatternStats),
		history:  make([]Record, 0, 128),
	}
}

// Detect evaluates a response and returns the best-scoring detection, or
// nil when the response is not a recognizable Cloudflare challenge.
func (d *Detector) Detect(resp *challenge.Response) *Detection {
	if !challenge.IsCloudflare(resp) {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
	default:
		return nil
	}

	body := resp.Body
	if len(body) > maxScanBytes {
		body = body[:maxScanBytes]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var best *Detection
	for _, p := range d.patternSet() {
		if det := d.evaluateLocked(p, resp, body); det != nil {
			if best == nil || det.Confidence > best.Confidence {
				best = det
			}
		}
	}
	for _, p := range d.adaptive[strings.ToLower(resp.Host())] {
		if det := d.evaluateLocked(p, resp, body); det != nil {
			if best == nil || det.Confidence > best.Confidence {
				best = det
			}
		}
	}

	if best != nil {
		d.appendHistoryLocked(best)
		log.Debug().
			Str("pattern", best.PatternID).
			Str("kind", string(best.Kind)).
			Float64("confidence", best.Confidence).
			Str("url", best.URL).
			Msg("challenge detected")
	}
	return best
}

// patternSet returns the active signature catalog.
func (d *Detector) patternSet() []*Pattern {
	if d.catalog != nil {
		return d.catalog.Patterns()
	}
	return BuiltinPatterns()
}

func (d *Detector) evaluateLocked(p *Pattern, resp *challenge.Response, body string) *Detection {
	var matched []string
	for _, ind := range p.Indicators {
		if ind.re.MatchString(body) {
			matched = append(matched, ind.Source)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	confidence := float64(len(matched)) / float64(len(p.Indicators)) * p.BaseConfidence
	if s, ok := d.stats[p.ID]; ok {
		confidence += statsWeight * s.SuccessRate()
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < minConfidence {
		return nil
	}

	urlStr := ""
	if resp.URL != nil {
		urlStr = resp.URL.String()
	}
	return &Detection{
		PatternID:         p.ID,
		PatternName:       p.Name,
		Kind:              p.Kind,
		Strategy:          p.Strategy,
		Confidence:        confidence,
		Adaptive:          p.Adaptive,
		StatusCode:        resp.StatusCode,
		URL:               urlStr,
		MatchedIndicators: matched,
	}
}

func (d *Detector) appendHistoryLocked(det *Detection) {
	if len(d.history) >= maxHistoryEntries {
		d.history = d.history[1:]
	}
	d.history = append(d.history, Record{
		Timestamp:  time.Now(),
		PatternID:  det.PatternID,
		Confidence: det.Confidence,
		URL:        det.URL,
	})
}

// LearnOutcome feeds a solve outcome back into the pattern's learned stats.
func (d *Detector) LearnOutcome(patternID string, success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stats[patternID]
	if !ok {
		s = &PatternStats{}
		d.stats[patternID] = s
	}
	if s.Attempts < math.MaxUint64 {
		s.Attempts++
	}
	if success && s.Successes < math.MaxUint64 {
		s.Successes++
	}
}

// StatsFor returns the learned stats for a pattern id.
func (d *Detector) StatsFor(patternID string) (PatternStats, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[patternID]
	if !ok {
		return PatternStats{}, false
	}
	return *s, true
}

// AddAdaptivePattern registers a domain-scoped signature that participates
// in detection only for that host.
func (d *Detector) AddAdaptivePattern(domain, name string, sources []string, kind challenge.Kind, strategy Strategy) error {
	if len(sources) == 0 {
		return fmt.Errorf("adaptive pattern %q: no indicators", name)
	}
	indicators, err := compileIndicators(sources)
	if err != nil {
		return fmt.Errorf("adaptive pattern %q: %w", name, err)
	}

	key := strings.ToLower(domain)
	pattern := &Pattern{
		ID:             fmt.Sprintf("adaptive_%s_%d", domain, len(sources)),
		Name:           name,
		Kind:           kind,
		Strategy:       strategy,
		BaseConfidence: adaptiveBaseConfidence,
		Indicators:     indicators,
		Adaptive:       true,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.adaptive[key] = append(d.adaptive[key], pattern)

	log.Info().
		Str("domain", key).
		Str("pattern", pattern.ID).
		Int("indicators", len(sources)).
		Msg("adaptive pattern registered")
	return nil
}

// History returns a copy of the bounded detection history, oldest first.
func (d *Detector) History() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.history))
	copy(out, d.history)
	return out
}
