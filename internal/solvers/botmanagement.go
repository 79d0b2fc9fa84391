package solvers

import (
	"net/http"
	"regexp"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var botManagementRE = regexp.MustCompile(`(?is)(?:<span[^>]*class=['"]cf-error-code['"]>1010<|Bot management|has banned you temporarily)`)

// BotManagement plans mitigation for Cloudflare Bot Management blocks
// (error 1010). The block means the client was identified as automated,
// so the plan resets the domain fingerprint and rotates the TLS profile
// before retrying.
type BotManagement struct {
	delay delayRange
}

// NewBotManagement creates a handler with the default 30-60s backoff
// window.
func NewBotManagement() *BotManagement {
	return &BotManagement{delay: newDelayRange(30*time.Second, 60*time.Second)}
}

// WithDelayRange overrides the default backoff window.
func (s *BotManagement) WithDelayRange(min, max time.Duration) *BotManagement {
	s.delay = newDelayRange(min, max)
	return s
}

// Name returns the handler identifier.
func (s *BotManagement) Name() string { return NameBotManagement }

// IsChallenge reports whether the response is a Cloudflare 1010 Bot
// Management block page.
func (s *BotManagement) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == http.StatusForbidden &&
		botManagementRE.MatchString(resp.Body)
}

// Plan records the failure, resets the domain identity through whichever
// of the fingerprint and TLS managers are configured, and returns a
// retry-after plan whose metadata notes what was reset.
func (s *BotManagement) Plan(resp *challenge.Response, fingerprint FingerprintInvalidator, tls TLSRotator, recorder FailureRecorder) (*MitigationPlan, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameBotManagement, resp.URL.String())
	}

	domain := resp.Host()
	if domain == "" {
		return nil, types.ErrMissingHost
	}

	if recorder != nil {
		recorder.RecordFailure(domain, "cf_bot_management")
	}

	plan := RetryAfter(s.delay.random(), "bot_management")
	plan.Metadata["trigger"] = "cf_1010"

	if fingerprint != nil {
		fingerprint.Invalidate(domain)
		plan.Metadata["fingerprint_reset"] = "true"
	} else {
		plan.Metadata["fingerprint_reset"] = "false"
	}

	if tls != nil {
		tls.RotateProfile(domain)
		plan.Metadata["tls_rotated"] = "true"
	} else {
		plan.Metadata["tls_rotated"] = "false"
	}

	plan.Metadata["stealth_mode"] = "enhanced"
	return plan, nil
}
