package solvers

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/captcha"
	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var (
	turnstileWidgetRE  = regexp.MustCompile(`(?is)class=['"][^'"]*cf-turnstile[^'"]*['"]`)
	turnstileScriptRE  = regexp.MustCompile(`(?is)src=['"]https://challenges\.cloudflare\.com/turnstile/v0/api\.js`)
	turnstileSiteKeyRE = regexp.MustCompile(`(?is)data-sitekey=['"]([0-9A-Za-z]{40})['"]`)
	turnstileFormRE    = regexp.MustCompile(`(?is)<form[^>]*action=['"]([^'"]+)['"]`)
)

// Turnstile solves Cloudflare Turnstile challenges by delegating token
// generation to a captcha provider and posting the token back through the
// page's challenge form.
type Turnstile struct {
	delay    delayRange
	provider captcha.Provider // nil when no captcha provider is configured
}

// NewTurnstile creates a Turnstile solver with the default 1-5s submission
// delay and no captcha provider.
func NewTurnstile() *Turnstile {
	return &Turnstile{delay: newDelayRange(1*time.Second, 5*time.Second)}
}

// WithDelayRange overrides the random wait applied before submission.
func (s *Turnstile) WithDelayRange(min, max time.Duration) *Turnstile {
	s.delay = newDelayRange(min, max)
	return s
}

// WithCaptchaProvider attaches the provider used to solve tokens.
func (s *Turnstile) WithCaptchaProvider(p captcha.Provider) *Turnstile {
	s.provider = p
	return s
}

// Name returns the solver identifier.
func (s *Turnstile) Name() string { return NameTurnstile }

// IsChallenge reports whether the page embeds a Turnstile widget, loads
// the Turnstile API script, or carries a Turnstile site key.
func (s *Turnstile) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		isBlockedStatus(resp.StatusCode) &&
		(turnstileWidgetRE.MatchString(resp.Body) ||
			turnstileScriptRE.MatchString(resp.Body) ||
			turnstileSiteKeyRE.MatchString(resp.Body))
}

// Solve obtains a Turnstile token from the captcha provider and returns
// the submission to post back. When the page form has no action the token
// is posted to the response URL itself.
func (s *Turnstile) Solve(ctx context.Context, resp *challenge.Response) (*challenge.Submission, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameTurnstile, resp.URL.String())
	}
	if s.provider == nil {
		return nil, types.ErrCaptchaNoProviders
	}

	m := turnstileSiteKeyRE.FindStringSubmatch(resp.Body)
	if m == nil {
		return nil, types.ErrCaptchaSitekeyNotFound
	}
	siteKey := m[1]

	action := resp.URL.String()
	if fm := turnstileFormRE.FindStringSubmatch(resp.Body); fm != nil {
		action = fm[1]
	}

	task := captcha.NewTask(siteKey, resp.URL.String()).WithAction("turnstile")
	solution, err := s.provider.Solve(ctx, task)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("cf-turnstile-response", solution.Token)
	for _, f := range challenge.FormInputs(resp.Body) {
		if f.Name == "cf-turnstile-response" || form.Has(f.Name) {
			continue
		}
		form.Set(f.Name, f.Value)
	}

	return formSubmission(resp, action, form, s.delay.random())
}

// SolveAndSubmit solves the challenge and immediately executes the
// submission through the given transport.
func (s *Turnstile) SolveAndSubmit(ctx context.Context, transport challenge.Transport, resp *challenge.Response, original *challenge.OriginalRequest) (*challenge.HTTPResponse, error) {
	sub, err := s.Solve(ctx, resp)
	if err != nil {
		return nil, err
	}
	return challenge.Execute(ctx, transport, sub, original)
}
