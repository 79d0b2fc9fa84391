// Package events provides lifecycle hooks around scraper activity. Handlers
// subscribe to a Dispatcher and receive structured events for requests,
// responses, challenges, errors, and retries.
package events

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/metrics"
	"github.com/Rorqualx/cloudscraper-go/internal/security"
)

// Event is one lifecycle notification. The concrete type selects the stage.
type Event interface {
	event()
}

// PreRequestEvent fires before a request is dispatched.
type PreRequestEvent struct {
	URL       *url.URL
	Method    string
	Headers   http.Header
	Timestamp time.Time
}

// PostResponseEvent fires after a response arrives.
type PostResponseEvent struct {
	URL       *url.URL
	Method    string
	Status    int
	Latency   time.Duration
	Timestamp time.Time
}

// ChallengeEvent fires after a challenge was handled. Duration is how
// long the solve took, zero when the challenge never reached submission.
type ChallengeEvent struct {
	Domain        string
	ChallengeType string
	Success       bool
	Duration      time.Duration
	Metadata      map[string]string
	Timestamp     time.Time
}

// ErrorEvent fires when a request fails without a response.
type ErrorEvent struct {
	Domain    string
	Err       error
	Timestamp time.Time
}

// RetryEvent fires when an attempt is rescheduled.
type RetryEvent struct {
	Domain         string
	Attempt        int
	Reason         string
	ScheduledAfter time.Duration
	Timestamp      time.Time
}

func (PreRequestEvent) event()   {}
func (PostResponseEvent) event() {}
func (ChallengeEvent) event()    {}
func (ErrorEvent) event()        {}
func (RetryEvent) event()        {}

// Handler receives dispatched events.
type Handler interface {
	Handle(event Event)
}

// Dispatcher broadcasts events to registered handlers in registration order.
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a handler. Register is not safe to call concurrently
// with Dispatch.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch delivers the event to every handler.
func (d *Dispatcher) Dispatch(e Event) {
	for _, h := range d.handlers {
		h.Handle(e)
	}
}

// LoggingHandler writes events to the structured log.
type LoggingHandler struct{}

// Handle logs the event at a level matching its severity.
func (LoggingHandler) Handle(event Event) {
	switch e := event.(type) {
	case PreRequestEvent:
		log.Debug().
			Str("method", e.Method).
			Stringer("url", e.URL).
			Interface("headers", security.RedactHeaders(e.Headers)).
			Msg("dispatching request")
	case PostResponseEvent:
		log.Debug().
			Str("method", e.Method).
			Stringer("url", e.URL).
			Int("status", e.Status).
			Dur("latency", e.Latency).
			Msg("response received")
	case ChallengeEvent:
		log.Info().
			Str("domain", e.Domain).
			Str("type", e.ChallengeType).
			Bool("success", e.Success).
			Msg("challenge handled")
	case ErrorEvent:
		log.Warn().
			Str("domain", e.Domain).
			Err(e.Err).
			Msg("request error")
	case RetryEvent:
		log.Info().
			Str("domain", e.Domain).
			Int("attempt", e.Attempt).
			Str("reason", e.Reason).
			Dur("wait", e.ScheduledAfter).
			Msg("retry scheduled")
	}
}

// MetricsHandler feeds response and error events into a Collector.
type MetricsHandler struct {
	collector *metrics.Collector
}

// NewMetricsHandler wraps the collector.
func NewMetricsHandler(c *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: c}
}

// Handle records responses and transport errors. Other events pass through.
func (m *MetricsHandler) Handle(event Event) {
	switch e := event.(type) {
	case PostResponseEvent:
		m.collector.RecordResponse(e.URL.Hostname(), e.Status, e.Latency)
	case ErrorEvent:
		m.collector.RecordError(e.Domain)
	}
}

// PrometheusHandler mirrors events onto the package-level Prometheus
// instruments so a /metrics listener sees the same activity the
// Collector does.
type PrometheusHandler struct{}

// Handle updates the Prometheus counters and histograms.
func (PrometheusHandler) Handle(event Event) {
	switch e := event.(type) {
	case PostResponseEvent:
		metrics.RecordRequest(e.URL.Hostname(), e.Status, e.Latency)
	case ChallengeEvent:
		metrics.RecordChallengeDetected(e.ChallengeType)
		if e.Success {
			metrics.RecordChallengeSolved(e.ChallengeType, e.Duration)
		} else {
			metrics.RecordChallengeFailed(e.ChallengeType)
		}
	}
}
