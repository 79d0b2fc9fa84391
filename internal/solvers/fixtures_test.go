package solvers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/Rorqualx/cloudscraper-go/internal/captcha"
	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
)

// cfResponse builds a challenge response served from behind Cloudflare.
func cfResponse(t *testing.T, rawURL, body string, status int) *challenge.Response {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	header := http.Header{}
	header.Set("Server", "cloudflare")
	return &challenge.Response{
		URL:           u,
		StatusCode:    status,
		Header:        header,
		Body:          body,
		RequestMethod: http.MethodGet,
	}
}

// replaceOnce rewrites the first occurrence of old in a fixture body.
func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}

// newOriginal builds the original-request record for SolveAndSubmit tests.
func newOriginal(t *testing.T, rawURL string) *challenge.OriginalRequest {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	return challenge.NewOriginalRequest(http.MethodGet, u)
}

// stubEngine is a canned script interpreter.
type stubEngine struct {
	answer  string
	execute func(script, host string) (string, error)
}

func (s *stubEngine) SolveChallenge(pageHTML, host string) (string, error) {
	return s.answer, nil
}

func (s *stubEngine) Execute(script, host string) (string, error) {
	if s.execute != nil {
		return s.execute(script, host)
	}
	return s.answer, nil
}

// stubCaptcha is a canned captcha provider.
type stubCaptcha struct {
	token    string
	metadata map[string]string
	err      error
	tasks    []*captcha.Task
}

func (s *stubCaptcha) Name() string { return "stub" }

func (s *stubCaptcha) Solve(ctx context.Context, task *captcha.Task) (*captcha.Solution, error) {
	s.tasks = append(s.tasks, task)
	if s.err != nil {
		return nil, s.err
	}
	return &captcha.Solution{Token: s.token, Provider: "stub", Metadata: s.metadata}, nil
}

func (s *stubCaptcha) Balance(ctx context.Context) (float64, error) { return 0, nil }

func (s *stubCaptcha) IsConfigured() bool { return true }

// stubPool is a slice-backed proxy pool that records failure reports.
type stubPool struct {
	proxies  []string
	reported []string
}

func (s *stubPool) ReportFailure(proxy string) {
	s.reported = append(s.reported, proxy)
}

func (s *stubPool) NextProxy() (string, bool) {
	if len(s.proxies) == 0 {
		return "", false
	}
	next := s.proxies[0]
	s.proxies = s.proxies[1:]
	return next, true
}

// stubRecorder records failure reports keyed by domain and reason.
type stubRecorder struct {
	calls [][2]string
}

func (s *stubRecorder) RecordFailure(domain, reason string) {
	s.calls = append(s.calls, [2]string{domain, reason})
}

func (s *stubRecorder) recorded(domain, reason string) bool {
	for _, c := range s.calls {
		if c[0] == domain && c[1] == reason {
			return true
		}
	}
	return false
}

// stubFingerprint records fingerprint invalidations.
type stubFingerprint struct {
	invalidated []string
}

func (s *stubFingerprint) Invalidate(domain string) {
	s.invalidated = append(s.invalidated, domain)
}

// stubTLS records TLS profile rotations.
type stubTLS struct {
	rotated []string
}

func (s *stubTLS) RotateProfile(domain string) {
	s.rotated = append(s.rotated, domain)
}

// stubTransport replays canned responses and records what was sent.
type stubTransport struct {
	responses []*challenge.HTTPResponse
	sentForms []url.Values
	sentURLs  []string
}

func (s *stubTransport) pop() *challenge.HTTPResponse {
	if len(s.responses) == 0 {
		return &challenge.HTTPResponse{StatusCode: 200, Header: http.Header{}}
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next
}

func (s *stubTransport) SendForm(ctx context.Context, method string, u *url.URL, headers http.Header, form url.Values, allowRedirects bool) (*challenge.HTTPResponse, error) {
	s.sentForms = append(s.sentForms, form)
	s.sentURLs = append(s.sentURLs, u.String())
	return s.pop(), nil
}

func (s *stubTransport) SendBody(ctx context.Context, method string, u *url.URL, headers http.Header, body []byte, allowRedirects bool) (*challenge.HTTPResponse, error) {
	s.sentURLs = append(s.sentURLs, u.String())
	return s.pop(), nil
}
