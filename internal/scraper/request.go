package scraper

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/antidetect"
	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/events"
	"github.com/Rorqualx/cloudscraper-go/internal/metrics"
	"github.com/Rorqualx/cloudscraper-go/internal/ml"
	"github.com/Rorqualx/cloudscraper-go/internal/pipeline"
	"github.com/Rorqualx/cloudscraper-go/internal/security"
	"github.com/Rorqualx/cloudscraper-go/internal/timing"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// Response is the terminal result of a request: the final origin response
// after any challenge negotiation, with the body fully read and decoded.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	URL        *url.URL
}

func responseFrom(h *challenge.HTTPResponse) *Response {
	return &Response{
		StatusCode: h.StatusCode,
		Header:     h.Header,
		Body:       h.Body,
		URL:        h.URL,
	}
}

// Get fetches a URL.
func (s *Scraper) Get(ctx context.Context, url string) (*Response, error) {
	return s.Do(ctx, http.MethodGet, url, nil, nil)
}

// Head probes a URL without a body.
func (s *Scraper) Head(ctx context.Context, url string) (*Response, error) {
	return s.Do(ctx, http.MethodHead, url, nil, nil)
}

// Post sends a body with the given Content-Type.
func (s *Scraper) Post(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	headers := map[string]string{"Content-Type": contentType}
	return s.Do(ctx, http.MethodPost, url, headers, body)
}

// Do sends one request through the full challenge-aware loop. Custom
// headers are applied after the prepared browser headers and win on
// conflict. Challenges detected on the response are solved and submitted
// transparently; mitigation advice (rate limits, proxy bans) drives
// bounded retries.
func (s *Scraper) Do(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) (*Response, error) {
	if s.closed.Load() {
		return nil, types.ErrScraperClosed
	}
	if err := security.ValidateURL(rawURL, s.cfg.BlockPrivateAddresses); err != nil {
		return nil, fmt.Errorf("validate %s: %w", security.RedactURL(rawURL), err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidURL, security.RedactURL(rawURL))
	}
	if err := security.ValidateHeaders(headers); err != nil {
		return nil, fmt.Errorf("custom headers: %w", err)
	}
	return s.run(ctx, method, u, headers, body)
}

// run is the bounded request loop: prepare, send, evaluate, act.
func (s *Scraper) run(ctx context.Context, method string, u *url.URL, custom map[string]string, body []byte) (*Response, error) {
	domain := u.Hostname()
	forcedProxy := ""

	for attempt := 1; ; attempt++ {
		prep := s.prepare(method, u, len(body), forcedProxy)
		forcedProxy = ""

		for name, value := range custom {
			prep.headers.Set(name, value)
		}

		s.events.Dispatch(events.PreRequestEvent{
			URL:       u,
			Method:    method,
			Headers:   prep.headers.Clone(),
			Timestamp: time.Now(),
		})

		pc, err := s.clients.client(prep.proxy)
		if err != nil {
			return nil, fmt.Errorf("transport client: %w", err)
		}
		if s.collector != nil {
			metrics.UpdateClientMetrics(s.clients.size())
		}
		if prep.tlsConfig != nil {
			pc.applyTLS(prep.tlsJA3, prep.tlsConfig)
		}

		if prep.delay > 0 {
			log.Debug().
				Str("domain", domain).
				Dur("delay", prep.delay).
				Msg("pacing request")
			if !timing.SleepWithContext(ctx, prep.delay) {
				return nil, ctx.Err()
			}
		}

		started := time.Now()
		httpResp, err := pc.client.SendBody(ctx, method, u, prep.headers, body, true)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		latency := time.Since(started)

		s.events.Dispatch(events.PostResponseEvent{
			URL:       httpResp.URL,
			Method:    method,
			Status:    httpResp.StatusCode,
			Latency:   latency,
			Timestamp: time.Now(),
		})

		result := s.pipeline.Evaluate(ctx, httpResp.ToChallenge(method), s.services())

		switch result.Outcome {
		case pipeline.OutcomeNoChallenge:
			s.recordOutcome(true, httpResp.StatusCode, latency, prep.delay, httpResp.URL)
			return responseFrom(httpResp), nil

		case pipeline.OutcomeSubmission:
			resp, challengeLatency, err := s.submit(ctx, pc, result, method, u, prep.headers, body)
			if err != nil {
				return nil, err
			}
			s.recordOutcome(resp.StatusCode < 500, resp.StatusCode, latency+challengeLatency, prep.delay, resp.URL)
			return resp, nil

		case pipeline.OutcomeMitigation:
			s.recordOutcome(false, httpResp.StatusCode, latency, prep.delay, httpResp.URL)
			plan := result.Plan
			meta := map[string]string{
				"reason":  plan.Reason,
				"pattern": result.Detection.PatternID,
			}
			for k, v := range plan.Metadata {
				if k == "previous_proxy" {
					v = security.RedactProxyURL(v)
				}
				meta[k] = v
			}
			s.events.Dispatch(events.ChallengeEvent{
				Domain:        domain,
				ChallengeType: string(result.Detection.Kind),
				Success:       false,
				Metadata:      meta,
				Timestamp:     time.Now(),
			})

			if plan.Wait > 0 {
				if !timing.SleepWithContext(ctx, plan.Wait) {
					return nil, ctx.Err()
				}
			}
			if plan.NewProxy != "" {
				forcedProxy = plan.NewProxy
			}

			if plan.ShouldRetry && attempt < s.cfg.MaxChallengeAttempts {
				s.events.Dispatch(events.RetryEvent{
					Domain:         domain,
					Attempt:        attempt + 1,
					Reason:         plan.Reason,
					ScheduledAfter: plan.Wait,
					Timestamp:      time.Now(),
				})
				continue
			}
			if plan.ShouldRetry {
				return nil, types.NewRetriesExhaustedError(plan.Reason, attempt, plan.Wait, plan.NewProxy)
			}
			return nil, types.NewMitigationStopError(plan.Reason, attempt)

		case pipeline.OutcomeUnsupported:
			s.recordOutcome(false, httpResp.StatusCode, latency, prep.delay, httpResp.URL)
			s.events.Dispatch(events.ChallengeEvent{
				Domain:        domain,
				ChallengeType: result.Detection.PatternName,
				Success:       false,
				Metadata:      map[string]string{"reason": result.Reason.String()},
				Timestamp:     time.Now(),
			})
			return nil, types.NewUnsolvableChallengeError(u.String(), result.Reason.String())

		default:
			s.recordOutcome(false, httpResp.StatusCode, latency, prep.delay, httpResp.URL)
			s.events.Dispatch(events.ErrorEvent{
				Domain:    domain,
				Err:       result.Err,
				Timestamp: time.Now(),
			})
			return nil, fmt.Errorf("challenge pipeline: %w", result.Err)
		}
	}
}

// prepared carries everything the send step needs out of the critical
// section: the final header set, the proxy key, the effective delay, and
// the TLS profile to present.
type prepared struct {
	headers   http.Header
	proxy     string
	delay     time.Duration
	tlsJA3    string
	tlsConfig *tls.Config
}

// prepare assembles the outgoing request under the adaptive lock: sticky
// headers, domain fingerprint, anti-detection shaping, proxy selection,
// and the learned delay. The effective delay is the larger of the timing
// engine's delay and the anti-detection hint.
func (s *Scraper) prepare(method string, u *url.URL, bodySize int, forcedProxy string) *prepared {
	domain := u.Hostname()

	headers := s.baseHeaders.Clone()
	if snap, ok := s.state.Get(domain); ok {
		for name, value := range snap.StickyHeaders {
			headers.Set(name, value)
		}
	}
	s.state.MarkRequest(domain)

	reqCtx := antidetect.NewRequestContext(u, method)
	reqCtx.Headers = headers
	reqCtx.BodySize = bodySize

	prep := &prepared{proxy: forcedProxy}

	s.mu.Lock()
	if s.adaptive.fingerprint != nil {
		fp := s.adaptive.fingerprint.GenerateFor(domain)
		reqCtx.UserAgent = fp.UserAgent
		headers.Set("User-Agent", fp.UserAgent)
		headers.Set("Accept-Language", fp.AcceptLanguage)
	}
	if s.adaptive.antiDetect != nil {
		s.adaptive.antiDetect.PrepareRequest(domain, reqCtx)
		headers = reqCtx.Headers
	}
	if prep.proxy == "" && s.adaptive.proxies != nil {
		if next, ok := s.adaptive.proxies.NextProxy(); ok {
			prep.proxy = next
		}
	}
	s.adaptive.currentProxy = prep.proxy
	if s.adaptive.timing != nil {
		prep.delay = s.adaptive.timing.CalculateDelay(domain, timing.Request{
			Method:        method,
			ContentLength: bodySize,
		})
	}
	if s.adaptive.tls != nil {
		profile := s.adaptive.tls.CurrentProfile(domain)
		prep.tlsJA3 = profile.JA3
		prep.tlsConfig = profile.TLSConfig()
	}
	s.mu.Unlock()

	if reqCtx.DelayHint > prep.delay {
		prep.delay = reqCtx.DelayHint
	}
	prep.headers = headers
	return prep
}

// services snapshots the handles mitigation handlers act on. Typed-nil
// interface values are avoided; a disabled subsystem stays a nil
// interface so handlers degrade instead of panicking.
func (s *Scraper) services() pipeline.Services {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc := pipeline.Services{
		CurrentProxy: s.adaptive.currentProxy,
		Recorder:     s.state,
	}
	if s.adaptive.proxies != nil {
		svc.ProxyPool = s.adaptive.proxies
	}
	if s.adaptive.fingerprint != nil {
		svc.Fingerprint = s.adaptive.fingerprint
	}
	if s.adaptive.tls != nil {
		svc.TLS = s.adaptive.tls
	}
	return svc
}

// submit executes a solver's submission and replays the original request.
// The pattern outcome is learned either way; events fire only when the
// submission succeeded.
func (s *Scraper) submit(ctx context.Context, pc *pooledClient, result *pipeline.Result, method string, u *url.URL, headers http.Header, body []byte) (*Response, time.Duration, error) {
	original := challenge.NewOriginalRequest(method, u)
	original.Headers = headers
	original.Body = body

	started := time.Now()
	httpResp, err := challenge.Execute(ctx, pc.client, result.Submission, original)
	challengeLatency := time.Since(started)

	s.pipeline.RecordOutcome(result.Detection.PatternID, err == nil)
	if err != nil {
		return nil, challengeLatency, err
	}

	s.events.Dispatch(events.ChallengeEvent{
		Domain:        u.Hostname(),
		ChallengeType: result.Detection.PatternName,
		Success:       true,
		Duration:      challengeLatency,
		Metadata: map[string]string{
			"pattern": result.Detection.PatternID,
			"status":  strconv.Itoa(httpResp.StatusCode),
		},
		Timestamp: time.Now(),
	})
	s.events.Dispatch(events.PostResponseEvent{
		URL:       httpResp.URL,
		Method:    method,
		Status:    httpResp.StatusCode,
		Latency:   challengeLatency,
		Timestamp: time.Now(),
	})
	return responseFrom(httpResp), challengeLatency, nil
}

// recordOutcome fans a terminal outcome out to every learning subsystem.
// The metrics collector is fed separately through the post-response event
// bridge.
func (s *Scraper) recordOutcome(success bool, status int, latency, delay time.Duration, u *url.URL) {
	domain := ""
	if u != nil {
		domain = u.Hostname()
	}

	message := ""
	if !success {
		message = fmt.Sprintf("status_%d", status)
	}
	s.state.RecordTimedOutcome(domain, success, latency, delay, message)

	s.mu.Lock()
	timingEngine := s.adaptive.timing
	anti := s.adaptive.antiDetect
	monitor := s.adaptive.performance
	optimizer := s.adaptive.ml
	pool := s.adaptive.proxies
	s.mu.Unlock()

	if pool != nil && s.collector != nil {
		report := pool.HealthReport()
		metrics.UpdateProxyMetrics(report.Available, report.Banned)
	}

	if timingEngine != nil {
		timingEngine.RecordOutcome(domain, timing.Outcome{
			Success:      success,
			ResponseTime: latency,
			AppliedDelay: delay,
		})
	}
	if anti != nil {
		anti.RecordResponse(domain, status, latency)
	}
	if monitor != nil {
		if report := monitor.Record(domain, latency, success); report != nil && len(report.Alerts) > 0 {
			log.Warn().
				Str("domain", domain).
				Strs("alerts", report.Alerts).
				Msg("performance degraded")
		}
	}
	if optimizer != nil {
		optimizer.RecordAttempt(domain, ml.FeatureVector{
			"latency": latency.Seconds(),
			"delay":   delay.Seconds(),
		}, success, delay.Seconds())
	}
}
