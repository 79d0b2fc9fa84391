package solvers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/ysmood/gson"

	"github.com/Rorqualx/cloudscraper-go/internal/captcha"
	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var (
	// jsChallengeV2RE matches the orchestrator bootstrap of the v2
	// JavaScript VM challenge.
	jsChallengeV2RE = regexp.MustCompile(`(?is)cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/jsch/v1`)

	// captchaChallengeV2RE matches the captcha and managed orchestrator
	// variants of the v2 flow.
	captchaChallengeV2RE = regexp.MustCompile(`(?is)cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/(?:captcha|managed)/v1`)

	// chlOptV2RE captures the window._cf_chl_opt object literal. The page
	// emits it as a single statement, so everything up to the first
	// semicolon belongs to the object. Case matters here.
	chlOptV2RE = regexp.MustCompile(`(?s)window\._cf_chl_opt=\((\{[^;]+\})\);`)

	formActionV2RE = regexp.MustCompile(`(?is)<form[^>]+id=['"]challenge-form['"][^>]*action=['"]([^'"]+)['"]`)
	siteKeyV2RE    = regexp.MustCompile(`(?is)data-sitekey=['"]([^'"]+)['"]`)
)

// JavaScriptV2 solves the Cloudflare VM (v2) challenge. The orchestrator
// script cannot be evaluated outside a browser, so the solver reconstructs
// the expected payload from tokens embedded in the page and, for the
// captcha variant, delegates token generation to a captcha provider.
type JavaScriptV2 struct {
	delay    delayRange
	provider captcha.Provider // nil when no captcha provider is configured
}

// NewJavaScriptV2 creates a v2 solver with the default 1-5s submission
// delay and no captcha provider.
func NewJavaScriptV2() *JavaScriptV2 {
	return &JavaScriptV2{delay: newDelayRange(1*time.Second, 5*time.Second)}
}

// WithDelayRange overrides the random wait applied before submission.
func (s *JavaScriptV2) WithDelayRange(min, max time.Duration) *JavaScriptV2 {
	s.delay = newDelayRange(min, max)
	return s
}

// WithCaptchaProvider attaches the provider used for captcha variants.
func (s *JavaScriptV2) WithCaptchaProvider(p captcha.Provider) *JavaScriptV2 {
	s.provider = p
	return s
}

// Name returns the solver identifier.
func (s *JavaScriptV2) Name() string { return NameJavaScriptV2 }

// IsChallenge reports whether the response carries the v2 JavaScript
// challenge signature.
func (s *JavaScriptV2) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		isBlockedStatus(resp.StatusCode) &&
		jsChallengeV2RE.MatchString(resp.Body)
}

// IsCaptchaChallenge reports whether the response is the captcha-protected
// variant of the v2 flow.
func (s *JavaScriptV2) IsCaptchaChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == 403 &&
		captchaChallengeV2RE.MatchString(resp.Body)
}

// Solve builds the submission for the non-captcha v2 challenge.
func (s *JavaScriptV2) Solve(resp *challenge.Response) (*challenge.Submission, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameJavaScriptV2, resp.URL.String())
	}

	info, err := extractV2Info(resp.Body)
	if err != nil {
		return nil, err
	}
	form, err := v2Payload(resp.Body, info)
	if err != nil {
		return nil, err
	}
	return s.buildSubmission(resp, info.formAction, form)
}

// SolveWithCaptcha builds the submission for the captcha-protected v2
// challenge, solving the embedded hCaptcha through the configured provider.
func (s *JavaScriptV2) SolveWithCaptcha(ctx context.Context, resp *challenge.Response) (*challenge.Submission, error) {
	if !s.IsCaptchaChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameJavaScriptV2, resp.URL.String())
	}
	if s.provider == nil {
		return nil, types.ErrCaptchaNoProviders
	}

	info, err := extractV2Info(resp.Body)
	if err != nil {
		return nil, err
	}
	form, err := v2Payload(resp.Body, info)
	if err != nil {
		return nil, err
	}

	m := siteKeyV2RE.FindStringSubmatch(resp.Body)
	if m == nil {
		return nil, types.NewMissingTokenError("data-sitekey")
	}

	task := captcha.NewTask(m[1], resp.URL.String())
	if info.cvID != "" {
		// Preserve challenge context for providers that can use it.
		task.InsertMetadata("cv_id", info.cvID)
	}

	solution, err := s.provider.Solve(ctx, task)
	if err != nil {
		return nil, err
	}
	form.Set("h-captcha-response", solution.Token)
	for key, value := range solution.Metadata {
		form.Set(key, value)
	}

	return s.buildSubmission(resp, info.formAction, form)
}

// SolveAndSubmit picks the captcha or plain flow, solves it, and executes
// the submission through the given transport.
func (s *JavaScriptV2) SolveAndSubmit(ctx context.Context, transport challenge.Transport, resp *challenge.Response, original *challenge.OriginalRequest) (*challenge.HTTPResponse, error) {
	var (
		sub *challenge.Submission
		err error
	)
	if s.IsCaptchaChallenge(resp) {
		sub, err = s.SolveWithCaptcha(ctx, resp)
	} else {
		sub, err = s.Solve(resp)
	}
	if err != nil {
		return nil, err
	}
	return challenge.Execute(ctx, transport, sub, original)
}

func (s *JavaScriptV2) buildSubmission(resp *challenge.Response, action string, form url.Values) (*challenge.Submission, error) {
	// Cloudflare expects these fields even when the page omits them.
	setDefault(form, "cf_ch_verify", "plat")
	setDefault(form, "vc", "")
	setDefault(form, "captcha_vc", "")
	setDefault(form, "cf_captcha_kind", "h")
	setDefault(form, "h-captcha-response", "")

	return formSubmission(resp, action, form, s.delay.random())
}

// v2Info carries the tokens scraped from a v2 challenge page.
type v2Info struct {
	cvID       string
	pageData   string
	formAction string
}

func extractV2Info(body string) (*v2Info, error) {
	m := chlOptV2RE.FindStringSubmatch(body)
	if m == nil {
		return nil, types.NewMissingTokenError("window._cf_chl_opt")
	}
	if !json.Valid([]byte(m[1])) {
		return nil, fmt.Errorf("window._cf_chl_opt is not valid JSON")
	}

	info := &v2Info{}
	opt := gson.NewFrom(m[1])
	if v := opt.Get("cvId"); !v.Nil() {
		info.cvID = v.Str()
	}
	if v := opt.Get("chlPageData"); !v.Nil() {
		info.pageData = v.Str()
	}

	fm := formActionV2RE.FindStringSubmatch(body)
	if fm == nil {
		return nil, fmt.Errorf("%w: challenge form has no action", types.ErrChallengeFormNotFound)
	}
	info.formAction = fm[1]
	return info, nil
}

func v2Payload(body string, info *v2Info) (url.Values, error) {
	m := rTokenRE.FindStringSubmatch(body)
	if m == nil {
		return nil, types.NewMissingTokenError("r")
	}

	form := url.Values{}
	form.Set("r", m[1])
	if info.cvID != "" {
		form.Set("cv_chal_id", info.cvID)
	}
	if info.pageData != "" {
		form.Set("cf_chl_page_data", info.pageData)
	}
	return form, nil
}
