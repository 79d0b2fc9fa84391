// Package transport implements the HTTP client used for origin requests and
// challenge submissions. Clients keep a publicsuffix-aware cookie jar so
// clearance cookies issued during a challenge survive onto the replayed
// request, disable automatic redirects unless a call opts in, and manage
// Accept-Encoding negotiation themselves so browser header profiles pass
// through unmodified.
package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog/log"
	xproxy "golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/security"
)

// maxBodySize bounds how much of a response body is buffered. Challenge
// pages are tens of kilobytes; anything larger is truncated, not failed.
const maxBodySize = 10 << 20

// Options configures a Client.
type Options struct {
	// Proxy is an optional proxy endpoint (http, https, socks5, socks5h).
	Proxy string
	// Timeout bounds each request end to end. Zero means no timeout.
	Timeout time.Duration
	// TLSConfig overrides the TLS client parameters (ciphers, ALPN, curves).
	TLSConfig *tls.Config
}

// Client is a cookie-preserving HTTP client with explicit redirect control.
// The zero value is not usable; construct with New.
type Client struct {
	follow   *http.Client
	noFollow *http.Client
	jar      http.CookieJar

	mu   sync.Mutex
	base *http.Transport
}

// New builds a client for the given options. Both redirect modes share one
// cookie jar and one underlying connection pool.
func New(opts Options) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	base := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       opts.TLSConfig,
		// Accept-Encoding is controlled by the caller's header profile.
		DisableCompression: true,
	}

	if opts.Proxy != "" {
		if err := configureProxy(base, opts.Proxy); err != nil {
			return nil, err
		}
	}

	c := &Client{jar: jar, base: base}
	c.follow = &http.Client{
		Transport: base,
		Jar:       jar,
		Timeout:   opts.Timeout,
	}
	c.noFollow = &http.Client{
		Transport: base,
		Jar:       jar,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// configureProxy routes requests through endpoint. HTTP proxies go through
// the transport's proxy hook, SOCKS endpoints through a dialer.
func configureProxy(base *http.Transport, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("proxy endpoint %q: %w", security.RedactProxyURL(endpoint), err)
	}
	switch strings.ToLower(u.Scheme) {
	case "socks5", "socks5h":
		dialer, err := xproxy.FromURL(u, xproxy.Direct)
		if err != nil {
			return fmt.Errorf("socks proxy %q: %w", security.RedactProxyURL(endpoint), err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks proxy %q: dialer does not support context", security.RedactProxyURL(endpoint))
		}
		base.DialContext = contextDialer.DialContext
	default:
		base.Proxy = http.ProxyURL(u)
	}
	log.Debug().Str("proxy", security.RedactProxyURL(endpoint)).Msg("Client proxy configured")
	return nil
}

// Jar exposes the shared cookie jar.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// SetTLSConfig swaps the TLS parameters presented on new connections.
// Pooled connections negotiated under the previous profile are dropped so
// the next handshake reflects the change. Cookies are unaffected.
func (c *Client) SetTLSConfig(cfg *tls.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base.TLSClientConfig = cfg
	c.base.CloseIdleConnections()
}

// SendForm posts url-encoded form fields. Content-Type defaults to
// application/x-www-form-urlencoded when the headers do not set one.
func (c *Client) SendForm(ctx context.Context, method string, u *url.URL, headers http.Header, form url.Values, allowRedirects bool) (*challenge.HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.do(req, allowRedirects)
}

// SendBody sends a request with a raw body, or no body when body is nil.
func (c *Client) SendBody(ctx context.Context, method string, u *url.URL, headers http.Header, body []byte, allowRedirects bool) (*challenge.HTTPResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)
	return c.do(req, allowRedirects)
}

func (c *Client) do(req *http.Request, allowRedirects bool) (*challenge.HTTPResponse, error) {
	client := c.noFollow
	if allowRedirects {
		client = c.follow
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return &challenge.HTTPResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(decoded),
		URL:        finalURL,
	}, nil
}

// applyHeaders copies the caller's headers onto the request and suppresses
// the Go default User-Agent when the caller did not provide one.
func applyHeaders(req *http.Request, headers http.Header) {
	for name, values := range headers {
		req.Header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "")
	}
}

// decodeBody reverses the Content-Encoding the origin applied. Unknown
// encodings pass through untouched.
func decodeBody(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, maxBodySize))
	case "deflate":
		// Origins disagree on whether deflate means zlib-wrapped or raw.
		if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer r.Close()
			return io.ReadAll(io.LimitReader(r, maxBodySize))
		}
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, maxBodySize))
	case "br":
		return io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(raw)), maxBodySize))
	default:
		return raw, nil
	}
}
