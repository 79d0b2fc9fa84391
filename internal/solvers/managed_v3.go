package solvers

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/interpreter"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

var (
	v3PlatformRE = regexp.MustCompile(`(?is)cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/\S+orchestrate/jsch/v3`)
	v3ContextRE  = regexp.MustCompile(`(?is)window\._cf_chl_ctx\s*=`)
	v3FormRE     = regexp.MustCompile(`(?is)<form[^>]*id=['"]challenge-form['"][^>]*action=['"]([^'"]*__cf_chl_rt_tk=[^'"]*)['"]`)
)

// vmHarness wraps the inline v3 challenge script in a minimal window shim
// so it can run outside a browser. The script is expected to leave its
// answer in _cf_chl_answer; a random token is produced otherwise.
const vmHarness = `
var window = {
    location: {
        href: 'https://%[1]s/',
        hostname: '%[1]s',
        protocol: 'https:',
        pathname: '/'
    },
    navigator: {
        userAgent: 'Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36',
        platform: 'Win32',
        language: 'en-US'
    },
    document: {
        getElementById: function() { return { value: '', style: {} }; },
        createElement: function() { return { firstChild: { href: 'https://%[1]s/' }, style: {} }; }
    },
    _cf_chl_ctx: %[2]s,
    _cf_chl_opt: %[3]s,
    _cf_chl_enter: function() { return true; }
};
window.self = window;
window.top = window;
window.parent = window;
window.setTimeout = window.setTimeout || function(fn) { return fn(); };
window.clearTimeout = window.clearTimeout || function() { return true; };
window.addEventListener = window.addEventListener || function() { return true; };
var document = window.document;
var navigator = window.navigator;
var location = window.location;
var _cf_chl_ctx = window._cf_chl_ctx;
var _cf_chl_opt = window._cf_chl_opt;
%[4]s
if (typeof window._cf_chl_answer !== 'undefined') {
    window._cf_chl_answer;
} else if (typeof _cf_chl_answer !== 'undefined') {
    _cf_chl_answer;
} else {
    Math.random().toString(36).substring(2, 15);
}
`

// ManagedV3 solves the managed (v3) challenge. When the page embeds an
// inline VM script the solver runs it through the interpreter; otherwise,
// or when execution fails, a deterministic fallback answer derived from
// the challenge context is used.
type ManagedV3 struct {
	interp interpreter.Engine
	delay  delayRange
}

// NewManagedV3 creates a v3 solver backed by the given interpreter.
func NewManagedV3(interp interpreter.Engine) *ManagedV3 {
	return &ManagedV3{
		interp: interp,
		delay:  newDelayRange(1*time.Second, 5*time.Second),
	}
}

// WithDelayRange overrides the random wait applied before submission.
func (s *ManagedV3) WithDelayRange(min, max time.Duration) *ManagedV3 {
	s.delay = newDelayRange(min, max)
	return s
}

// Name returns the solver identifier.
func (s *ManagedV3) Name() string { return NameManagedV3 }

// IsChallenge reports whether the response carries any of the v3
// signatures: the v3 orchestrator bootstrap, a _cf_chl_ctx assignment, or
// a challenge form with the __cf_chl_rt_tk action token.
func (s *ManagedV3) IsChallenge(resp *challenge.Response) bool {
	return challenge.IsCloudflare(resp) &&
		isBlockedStatus(resp.StatusCode) &&
		(v3PlatformRE.MatchString(resp.Body) ||
			v3ContextRE.MatchString(resp.Body) ||
			v3FormRE.MatchString(resp.Body))
}

// Solve extracts the challenge context, computes an answer, and returns
// the submission to post back.
func (s *ManagedV3) Solve(resp *challenge.Response) (*challenge.Submission, error) {
	if !s.IsChallenge(resp) {
		return nil, types.NewChallengeMismatchError(NameManagedV3, resp.URL.String())
	}

	info, err := extractV3Info(resp.Body)
	if err != nil {
		return nil, err
	}

	host := resp.Host()
	if host == "" {
		return nil, types.ErrMissingHost
	}

	var answer string
	if info.vmScript != "" {
		answer, err = s.executeVM(info, host)
		if err != nil {
			log.Warn().
				Err(err).
				Str("host", host).
				Msg("managed challenge script failed, using fallback answer")
			answer = fallbackAnswer(info)
		}
	} else {
		answer = fallbackAnswer(info)
	}

	form, err := v3Payload(resp.Body, answer)
	if err != nil {
		return nil, err
	}
	setDefault(form, "cf_captcha_token", "")

	return formSubmission(resp, info.formAction, form, s.delay.random())
}

// SolveAndSubmit solves the challenge and immediately executes the
// submission through the given transport.
func (s *ManagedV3) SolveAndSubmit(ctx context.Context, transport challenge.Transport, resp *challenge.Response, original *challenge.OriginalRequest) (*challenge.HTTPResponse, error) {
	sub, err := s.Solve(resp)
	if err != nil {
		return nil, err
	}
	return challenge.Execute(ctx, transport, sub, original)
}

func (s *ManagedV3) executeVM(info *v3Info, host string) (string, error) {
	script := fmt.Sprintf(vmHarness, host, info.ctxJSON, info.optJSON, info.vmScript)
	answer, err := s.interp.Execute(script, host)
	if err != nil {
		return "", fmt.Errorf("javascript interpreter error: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// fallbackAnswer derives a stable six-digit answer from the challenge
// context when the VM script is absent or fails, falling back to a random
// token when the page carries no usable context at all.
func fallbackAnswer(info *v3Info) string {
	if info.pageData != "" {
		return strconv.FormatUint(hashString(info.pageData)%1_000_000, 10)
	}
	if info.cvID != "" {
		return strconv.FormatUint(hashString(info.cvID)%1_000_000, 10)
	}
	return strconv.Itoa(100_000 + rand.Intn(900_000))
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// v3Info carries the context scraped from a managed challenge page.
type v3Info struct {
	ctxJSON    string // raw window._cf_chl_ctx object, "{}" when absent
	optJSON    string // raw window._cf_chl_opt object, "{}" when absent
	cvID       string // cvId field of the ctx object
	pageData   string // chlPageData field of the opt object
	formAction string
	vmScript   string // inline VM script body, "" when the page has none
}

func extractV3Info(body string) (*v3Info, error) {
	info := &v3Info{ctxJSON: "{}", optJSON: "{}"}

	raw, ok, err := challenge.ExtractJSONObject(body, "window._cf_chl_ctx")
	if err != nil {
		return nil, err
	}
	if ok {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("window._cf_chl_ctx is not valid JSON")
		}
		info.ctxJSON = raw
		if v := gson.NewFrom(raw).Get("cvId"); !v.Nil() {
			info.cvID = v.Str()
		}
	}

	raw, ok, err = challenge.ExtractJSONObject(body, "window._cf_chl_opt")
	if err != nil {
		return nil, err
	}
	if ok {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("window._cf_chl_opt is not valid JSON")
		}
		info.optJSON = raw
		if v := gson.NewFrom(raw).Get("chlPageData"); !v.Nil() {
			info.pageData = v.Str()
		}
	}

	m := v3FormRE.FindStringSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: managed challenge form has no action", types.ErrChallengeFormNotFound)
	}
	info.formAction = m[1]
	info.vmScript = extractVMScript(body)
	return info, nil
}

// extractVMScript returns the body of the <script> element containing the
// window._cf_chl_enter hook, or "" when the page has none.
func extractVMScript(body string) string {
	enter := strings.Index(body, "window._cf_chl_enter")
	if enter < 0 {
		return ""
	}
	open := strings.LastIndex(body[:enter], "<script")
	if open < 0 {
		return ""
	}
	gt := strings.IndexByte(body[open:], '>')
	if gt < 0 {
		return ""
	}
	start := open + gt + 1
	end := strings.Index(body[enter:], "</script>")
	if end < 0 {
		return ""
	}
	end += enter
	if start > end {
		return ""
	}
	return strings.TrimSpace(body[start:end])
}

func v3Payload(body, answer string) (url.Values, error) {
	m := rTokenRE.FindStringSubmatch(body)
	if m == nil {
		return nil, types.NewMissingTokenError("r")
	}

	form := url.Values{}
	form.Set("r", m[1])
	form.Set("jschl_answer", answer)
	for _, f := range challenge.FormInputs(body) {
		if f.Name == "jschl_answer" || form.Has(f.Name) {
			continue
		}
		form.Set(f.Name, f.Value)
	}
	return form, nil
}
