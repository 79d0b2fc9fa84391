package challenge

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/timing"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// Execute waits out the submission delay, posts the solved form, and
// resolves the single redirect Cloudflare issues once clearance is granted.
// The redirect is replayed as the original request (method, headers, body)
// with a Referer pointing at the clearance response.
//
// A 400 from the clearance endpoint means the computed answer was rejected.
func Execute(ctx context.Context, transport Transport, sub *Submission, original *OriginalRequest) (*HTTPResponse, error) {
	if sub.Wait > 0 {
		log.Debug().
			Dur("wait", sub.Wait).
			Str("url", sub.URL.String()).
			Msg("waiting before challenge submission")
		if !timing.SleepWithContext(ctx, sub.Wait) {
			return nil, ctx.Err()
		}
	}

	first, err := transport.SendForm(ctx, sub.Method, sub.URL, sub.Headers, sub.Form, sub.AllowRedirects)
	if err != nil {
		return nil, err
	}
	if first.StatusCode == http.StatusBadRequest {
		return nil, types.ErrInvalidAnswer
	}
	if !first.IsRedirect() {
		return first, nil
	}

	target := redirectTarget(first, original)
	headers := cloneHeader(original.Headers)
	headers.Set("Referer", first.URL.String())

	log.Debug().
		Str("location", first.Location()).
		Str("target", target.String()).
		Msg("following challenge clearance redirect")
	return transport.SendBody(ctx, original.Method, target, headers, original.Body, true)
}

// redirectTarget resolves the Location header of a clearance redirect.
// Absolute locations are taken as-is, relative ones are resolved against
// the clearance URL, and a missing or unparseable header falls back to the
// original request URL.
func redirectTarget(first *HTTPResponse, original *OriginalRequest) *url.URL {
	location := first.Location()
	if location != "" {
		if abs, err := url.Parse(location); err == nil && abs.IsAbs() && abs.Host != "" {
			return abs
		}
		if rel, err := first.URL.Parse(location); err == nil {
			return rel
		}
	}
	return original.URL
}

func cloneHeader(h http.Header) http.Header {
	clone := h.Clone()
	if clone == nil {
		clone = http.Header{}
	}
	return clone
}
