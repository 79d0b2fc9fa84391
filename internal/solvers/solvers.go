// Package solvers implements the per-variant Cloudflare challenge solvers
// and mitigation handlers. Form-based variants (v1, v2, v3, Turnstile)
// produce a challenge.Submission ready for the executor; blocking variants
// (rate limit, access denied, bot management) produce a MitigationPlan that
// tells the request loop how to proceed.
package solvers

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/timing"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// Solver names, as reported by Name() and referenced in pipeline errors.
const (
	NameJavaScriptV1  = "javascript_v1"
	NameJavaScriptV2  = "javascript_v2"
	NameManagedV3     = "managed_v3"
	NameTurnstile     = "turnstile"
	NameRateLimit     = "rate_limit"
	NameAccessDenied  = "access_denied"
	NameBotManagement = "bot_management"
)

// Solver is the minimal interface shared by every challenge solver and
// mitigation handler.
type Solver interface {
	Name() string
}

// FailureRecorder records domain-level mitigation failures without pulling
// in the full state manager.
type FailureRecorder interface {
	RecordFailure(domain, reason string)
}

// FingerprintInvalidator drops any cached browser fingerprint for a domain
// so the next request presents a fresh identity.
type FingerprintInvalidator interface {
	Invalidate(domain string)
}

// TLSRotator switches a domain to a different TLS client profile.
type TLSRotator interface {
	RotateProfile(domain string)
}

// ProxyPool hands out proxies for rotation and accepts failure reports.
type ProxyPool interface {
	// ReportFailure marks a proxy as having failed a request.
	ReportFailure(proxy string)
	// NextProxy returns the next proxy to use, or ok=false when the pool
	// is exhausted.
	NextProxy() (proxy string, ok bool)
}

// rTokenRE extracts the hidden "r" token shared by the v2 and v3 payloads.
var rTokenRE = regexp.MustCompile(`(?is)name=['"]r['"]\s+value=['"]([^'"]+)['"]`)

// formSubmission resolves an HTML-escaped form action against the challenge
// URL and assembles the urlencoded POST shared by the v2, v3, and Turnstile
// flows.
func formSubmission(resp *challenge.Response, action string, form url.Values, wait time.Duration) (*challenge.Submission, error) {
	decoded := html.UnescapeString(action)
	target, err := resp.URL.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", types.ErrInvalidFormAction, decoded, err)
	}

	sub := challenge.NewSubmission(http.MethodPost, target)
	sub.Form = form
	sub.Wait = wait
	sub.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	sub.Headers.Set("Referer", resp.URL.String())
	sub.Headers.Set("Origin", challenge.Origin(resp.URL))
	return sub, nil
}

// setDefault fills a form field only when it is absent, so values scraped
// from the page or computed by a provider are never overwritten.
func setDefault(form url.Values, key, value string) {
	if !form.Has(key) {
		form.Set(key, value)
	}
}

// isBlockedStatus reports whether the status code is one Cloudflare uses
// for interactive or managed challenge pages.
func isBlockedStatus(code int) bool {
	return code == http.StatusForbidden ||
		code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable
}

// delayRange holds the randomized pause applied before a solver submits
// its answer, so submissions do not land suspiciously fast.
type delayRange struct {
	min time.Duration
	max time.Duration
}

func newDelayRange(min, max time.Duration) delayRange {
	if max < min {
		max = min
	}
	return delayRange{min: min, max: max}
}

func (d delayRange) random() time.Duration {
	return timing.RandomDurationSeconds(d.min.Seconds(), d.max.Seconds())
}
