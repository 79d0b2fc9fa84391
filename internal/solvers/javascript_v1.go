package solvers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/interpreter"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// iuamTraceToken appears in the tracking pixel every IUAM v1 page loads.
const iuamTraceToken = "/cdn-cgi/images/trace/jsch/"

// JavaScriptV1 solves the legacy IUAM challenge: a hidden form plus an
// inline script that computes the jschl_answer value. The script runs in
// the configured interpreter and the answer is posted back together with
// the scraped hidden fields.
type JavaScriptV1 struct {
	interp interpreter.Engine
}

// NewJavaScriptV1 creates a v1 solver backed by the given interpreter.
func NewJavaScriptV1(interp interpreter.Engine) *JavaScriptV1 {
	return &JavaScriptV1{interp: interp}
}

// Name returns the solver identifier.
func (s *JavaScriptV1) Name() string { return NameJavaScriptV1 }

// IsChallenge reports whether the response is a solvable IUAM v1 page:
// served by Cloudflare with a 429 or 503 status, carrying the jsch trace
// pixel, and containing a parseable challenge form.
func (s *JavaScriptV1) IsChallenge(resp *challenge.Response) bool {
	if !challenge.IsCloudflare(resp) {
		return false
	}
	if resp.StatusCode != 429 && resp.StatusCode != 503 {
		return false
	}
	if !strings.Contains(resp.Body, iuamTraceToken) {
		return false
	}
	_, err := challenge.ParseChallengeForm(resp)
	return err == nil
}

// IsCaptchaChallenge reports whether Cloudflare answered with the legacy
// captcha variant of the v1 flow.
func (s *JavaScriptV1) IsCaptchaChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == 403 &&
		strings.Contains(resp.Body, "__cf_chl_captcha_tk__") &&
		strings.Contains(resp.Body, "data-sitekey")
}

// IsFirewallBlocked reports whether the request was rejected outright by
// the Cloudflare firewall (error 1020).
func (s *JavaScriptV1) IsFirewallBlocked(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		resp.StatusCode == 403 &&
		strings.Contains(strings.ToLower(resp.Body), `<span class="cf-error-code">1020</span>`)
}

// Solve parses the page, evaluates the challenge script, and returns the
// submission to post back. The submission wait mirrors the setTimeout
// delay embedded in the page.
func (s *JavaScriptV1) Solve(resp *challenge.Response) (*challenge.Submission, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameJavaScriptV1, resp.URL.String())
	}

	host := resp.Host()
	if host == "" {
		return nil, types.ErrMissingHost
	}

	blueprint, err := challenge.ParseChallengeForm(resp)
	if err != nil {
		return nil, err
	}

	answer, err := s.interp.SolveChallenge(resp.Body, host)
	if err != nil {
		return nil, fmt.Errorf("javascript interpreter error: %w", err)
	}

	sub, err := blueprint.ToSubmission(resp.URL, []challenge.HiddenField{
		{Name: "jschl_answer", Value: answer},
	})
	if err != nil {
		return nil, err
	}

	wait, err := challenge.SubmitDelay(resp.Body)
	if err != nil {
		return nil, err
	}
	sub.Wait = wait
	sub.Headers.Set("Referer", resp.URL.String())
	sub.Headers.Set("Origin", challenge.Origin(resp.URL))
	return sub, nil
}

// SolveAndSubmit solves the challenge and immediately executes the
// submission through the given transport.
func (s *JavaScriptV1) SolveAndSubmit(ctx context.Context, transport challenge.Transport, resp *challenge.Response, original *challenge.OriginalRequest) (*challenge.HTTPResponse, error) {
	sub, err := s.Solve(resp)
	if err != nil {
		return nil, err
	}
	return challenge.Execute(ctx, transport, sub, original)
}
