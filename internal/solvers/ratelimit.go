package solvers

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var (
	rateLimitRE = regexp.MustCompile(`(?is)(?:<span[^>]*class=['"]cf-error-code['"]>1015<|rate limited|You are being rate limited)`)

	// delayHintRE picks a human-readable wait out of the block page body,
	// e.g. "try again in 5 minutes".
	delayHintRE = regexp.MustCompile(`(?i)(\d+)\s*(second|seconds|minute|minutes|hour|hours)`)
)

// RateLimit plans backoff for Cloudflare rate limiting (error 1015). The
// wait is taken from the Retry-After header when present, then from a
// delay hint in the page body, and otherwise randomized.
type RateLimit struct {
	delay delayRange
}

// NewRateLimit creates a handler with the default 60-180s backoff window.
func NewRateLimit() *RateLimit {
	return &RateLimit{delay: newDelayRange(60*time.Second, 180*time.Second)}
}

// WithDelayRange overrides the default backoff window.
func (s *RateLimit) WithDelayRange(min, max time.Duration) *RateLimit {
	s.delay = newDelayRange(min, max)
	return s
}

// Name returns the handler identifier.
func (s *RateLimit) Name() string { return NameRateLimit }

// IsChallenge reports whether the response is a Cloudflare 1015 rate
// limit page.
func (s *RateLimit) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == http.StatusTooManyRequests &&
		rateLimitRE.MatchString(resp.Body)
}

// Plan records the failure and returns a retry-after plan whose metadata
// notes where the delay came from.
func (s *RateLimit) Plan(resp *challenge.Response, recorder FailureRecorder) (*MitigationPlan, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameRateLimit, resp.URL.String())
	}

	if recorder != nil {
		if domain := resp.Host(); domain != "" {
			recorder.RecordFailure(domain, "cf_rate_limit")
		}
	}

	wait, source := s.determineDelay(resp)
	plan := RetryAfter(wait, "rate_limit")
	plan.Metadata["delay_source"] = source
	plan.Metadata["trigger"] = "cf_1015"
	return plan, nil
}

func (s *RateLimit) determineDelay(resp *challenge.Response) (time.Duration, string) {
	if wait, ok := retryAfterDelay(resp); ok {
		return wait, "header"
	}
	if wait, ok := bodyDelayHint(resp.Body); ok {
		return wait, "body"
	}
	return s.delay.random(), "default"
}

// retryAfterDelay parses the Retry-After header, accepting a second count
// or an HTTP or RFC 3339 date. Dates already in the past yield no delay.
func retryAfterDelay(resp *challenge.Response) (time.Duration, bool) {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs >= 0 && !math.IsInf(secs, 1) {
			return time.Duration(secs * float64(time.Second)), true
		}
		return 0, false
	}

	when, err := http.ParseTime(raw)
	if err != nil {
		when, err = time.Parse(time.RFC3339, raw)
	}
	if err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func bodyDelayHint(body string) (time.Duration, bool) {
	m := delayHintRE.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	var unit int64
	switch strings.ToLower(m[2]) {
	case "minute", "minutes":
		unit = 60
	case "hour", "hours":
		unit = 3600
	default:
		unit = 1
	}

	if amount > math.MaxInt64/unit/int64(time.Second) {
		return 0, false
	}
	return time.Duration(amount*unit) * time.Second, true
}
