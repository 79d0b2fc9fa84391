package solvers

import (
	"net/http"
	"regexp"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var accessDeniedRE = regexp.MustCompile(`(?is)(?:<span[^>]*class=['"]cf-error-code['"]>1020<|Access denied|banned your access)`)

// AccessDenied plans mitigation for Cloudflare Access Denied (error 1020)
// pages. The block is tied to the client address, so the only useful move
// is switching proxies; without a pool the plan stops the retry loop.
type AccessDenied struct {
	delay delayRange
}

// NewAccessDenied creates a handler with the default 5-15s backoff window.
func NewAccessDenied() *AccessDenied {
	return &AccessDenied{delay: newDelayRange(5*time.Second, 15*time.Second)}
}

// WithDelayRange overrides the backoff applied before retrying with a new
// proxy.
func (s *AccessDenied) WithDelayRange(min, max time.Duration) *AccessDenied {
	s.delay = newDelayRange(min, max)
	return s
}

// Name returns the handler identifier.
func (s *AccessDenied) Name() string { return NameAccessDenied }

// IsChallenge reports whether the response is a Cloudflare 1020 Access
// Denied page.
func (s *AccessDenied) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == http.StatusForbidden &&
		accessDeniedRE.MatchString(resp.Body)
}

// Plan reports the current proxy as failed and rotates to the next one
// from the pool. When no pool is configured, or the pool is exhausted,
// the plan disables retrying.
func (s *AccessDenied) Plan(resp *challenge.Response, pool ProxyPool, currentProxy string) (*MitigationPlan, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameAccessDenied, resp.URL.String())
	}

	plan := RetryAfter(s.delay.random(), "access_denied")
	plan.Metadata["trigger"] = "cf_1020"

	if pool == nil {
		plan.ShouldRetry = false
		plan.Reason = "access_denied_no_proxy"
		plan.Metadata["proxy_rotation"] = "not_configured"
		return plan, nil
	}

	if currentProxy != "" {
		pool.ReportFailure(currentProxy)
		plan.Metadata["previous_proxy"] = currentProxy
	}

	if next, ok := pool.NextProxy(); ok {
		plan.WithProxy(next)
		plan.Metadata["proxy_rotation"] = "success"
	} else {
		plan.ShouldRetry = false
		plan.Reason = "access_denied_no_proxy"
		plan.Metadata["proxy_rotation"] = "unavailable"
	}
	return plan, nil
}
