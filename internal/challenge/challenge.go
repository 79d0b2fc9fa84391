// Package challenge defines the core types shared by the challenge detector,
// the individual solvers, and the submission executor: the normalized HTTP
// response handed to detection, the submission payload produced by solvers,
// and the transport interface used to post answers back to the origin.
package challenge

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Kind identifies a Cloudflare challenge variant.
type Kind string

const (
	KindJavaScriptV1  Kind = "javascript_v1"
	KindJavaScriptV2  Kind = "javascript_v2"
	KindManagedV3     Kind = "managed_v3"
	KindTurnstile     Kind = "turnstile"
	KindRateLimit     Kind = "rate_limit"
	KindAccessDenied  Kind = "access_denied"
	KindBotManagement Kind = "bot_management"
	KindUnknown       Kind = "unknown"
)

// Response is the normalized view of an HTTP response that detection and
// solving operate on. Body is fully buffered; challenge pages are small.
type Response struct {
	URL           *url.URL
	StatusCode    int
	Header        http.Header
	Body          string
	RequestMethod string
}

// Host returns the hostname of the response URL without the port, or ""
// when the URL carries no host.
func (r *Response) Host() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// IsCloudflare reports whether the response was served from behind
// Cloudflare, based on the Server header prefix.
func IsCloudflare(r *Response) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Server")), "cloudflare")
}

// Origin builds the "scheme://host[:port]" origin string for a URL. The
// port is included only when it appears explicitly in the URL.
func Origin(u *url.URL) string {
	origin := u.Scheme + "://" + u.Hostname()
	if port := u.Port(); port != "" {
		origin += ":" + port
	}
	return origin
}

// Submission describes the follow-up request a solver wants posted back to
// the origin: form fields, extra headers, and how long to wait before
// sending. Redirects are left to the executor unless AllowRedirects is set.
type Submission struct {
	Method         string
	URL            *url.URL
	Form           url.Values
	Headers        http.Header
	Wait           time.Duration
	AllowRedirects bool
}

// NewSubmission creates a submission with empty form and headers and
// automatic redirects disabled.
func NewSubmission(method string, u *url.URL) *Submission {
	return &Submission{
		Method:  method,
		URL:     u,
		Form:    url.Values{},
		Headers: http.Header{},
	}
}

// OriginalRequest captures the request that triggered a challenge so the
// executor can replay it after the challenge clears.
type OriginalRequest struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Body    []byte
}

// NewOriginalRequest creates an original-request record with empty headers
// and no body.
func NewOriginalRequest(method string, u *url.URL) *OriginalRequest {
	return &OriginalRequest{Method: method, URL: u, Headers: http.Header{}}
}

// HTTPResponse is the transport-level response returned by Transport
// implementations. URL is the final URL of the exchange.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       string
	URL        *url.URL
}

// IsRedirect reports whether the response carries a 3xx status.
func (r *HTTPResponse) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Location returns the Location header, or "" when absent.
func (r *HTTPResponse) Location() string {
	return r.Header.Get("Location")
}

// ToChallenge converts a transport response into a detection Response,
// recording the method of the request that produced it.
func (r *HTTPResponse) ToChallenge(requestMethod string) *Response {
	return &Response{
		URL:           r.URL,
		StatusCode:    r.StatusCode,
		Header:        r.Header,
		Body:          r.Body,
		RequestMethod: requestMethod,
	}
}

// Transport sends challenge submissions and replayed requests. Implementations
// must not follow redirects unless allowRedirects is true; challenge clearance
// redirects are resolved manually by the executor.
type Transport interface {
	// SendForm posts url-encoded form fields.
	SendForm(ctx context.Context, method string, u *url.URL, headers http.Header, form url.Values, allowRedirects bool) (*HTTPResponse, error)
	// SendBody sends a request with a raw body, or no body when body is nil.
	SendBody(ctx context.Context, method string, u *url.URL, headers http.Header, body []byte, allowRedirects bool) (*HTTPResponse, error)
}
