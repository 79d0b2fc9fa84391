package events

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/metrics"
)

type countingHandler struct {
	count int
	last  Event
}

func (c *countingHandler) Handle(event Event) {
	c.count++
	c.last = event
}

func TestDispatcherBroadcasts(t *testing.T) {
	d := NewDispatcher()
	first := &countingHandler{}
	second := &countingHandler{}
	d.Register(first)
	d.Register(second)

	d.Dispatch(ErrorEvent{
		Domain:    "example.com",
		Err:       errors.New("timeout"),
		Timestamp: time.Now(),
	})

	if first.count != 1 || second.count != 1 {
		t.Errorf("handler counts = %d/%d, want 1/1", first.count, second.count)
	}
	if _, ok := first.last.(ErrorEvent); !ok {
		t.Errorf("last event = %T, want ErrorEvent", first.last)
	}
}

func TestDispatcherWithoutHandlers(t *testing.T) {
	d := NewDispatcher()
	d.Dispatch(RetryEvent{Domain: "example.com", Attempt: 1})
}

func TestMetricsHandlerRecordsResponses(t *testing.T) {
	collector := metrics.NewCollector()
	h := NewMetricsHandler(collector)

	u, err := url.Parse("https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	h.Handle(PostResponseEvent{
		URL:     u,
		Method:  "GET",
		Status:  200,
		Latency: 120 * time.Millisecond,
	})
	h.Handle(ErrorEvent{Domain: "example.com", Err: errors.New("connection reset")})
	h.Handle(ChallengeEvent{Domain: "example.com", ChallengeType: "javascript_v1", Success: true})

	snap := collector.Snapshot()
	if snap.Global.TotalRequests != 2 {
		t.Fatalf("TotalRequests = %d, want the response and the error counted", snap.Global.TotalRequests)
	}
	if len(snap.Domains) != 1 || snap.Domains[0].Domain != "example.com" {
		t.Fatalf("Domains = %+v, want one example.com entry", snap.Domains)
	}
	d := snap.Domains[0]
	if d.Successes != 1 || d.Failures != 1 {
		t.Errorf("domain stats = %d/%d, want 1 success and 1 failure", d.Successes, d.Failures)
	}
}

func TestLoggingHandlerCoversAllEvents(t *testing.T) {
	u, err := url.Parse("https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	var h LoggingHandler
	h.Handle(PreRequestEvent{URL: u, Method: "GET", Timestamp: time.Now()})
	h.Handle(PostResponseEvent{URL: u, Method: "GET", Status: 503, Latency: time.Second})
	h.Handle(ChallengeEvent{Domain: "example.com", ChallengeType: "turnstile", Success: false})
	h.Handle(ErrorEvent{Domain: "example.com", Err: errors.New("boom")})
	h.Handle(RetryEvent{Domain: "example.com", Attempt: 2, Reason: "rate_limited", ScheduledAfter: time.Minute})
}
