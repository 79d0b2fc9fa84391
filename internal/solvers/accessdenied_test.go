package solvers

import (
	"errors"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

const accessDeniedPage = `
<html>
  <body>
    <h1>Access denied</h1>
    <p>The owner of this website has banned your access based on your browser's signature.</p>
    <span class="cf-error-code">1020</span>
  </body>
</html>`

func TestAccessDeniedPlanRotatesProxy(t *testing.T) {
	solver := NewAccessDenied()
	pool := &stubPool{proxies: []string{"http://proxy-b:8080"}}
	resp := cfResponse(t, "https://example.com/", accessDeniedPage, 403)

	plan, err := solver.Plan(resp, pool, "http://proxy-a:8080")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if !plan.ShouldRetry {
		t.Error("ShouldRetry = false, want true after a successful rotation")
	}
	if plan.NewProxy != "http://proxy-b:8080" {
		t.Errorf("NewProxy = %q, want the next pool proxy", plan.NewProxy)
	}
	if plan.Wait < 5*time.Second || plan.Wait > 15*time.Second {
		t.Errorf("Wait = %v, want the 5-15s window", plan.Wait)
	}
	if got := plan.Metadata["previous_proxy"]; got != "http://proxy-a:8080" {
		t.Errorf("previous_proxy = %q, want the failed proxy", got)
	}
	if got := plan.Metadata["proxy_rotation"]; got != "success" {
		t.Errorf("proxy_rotation = %q, want %q", got, "success")
	}
	if got := plan.Metadata["trigger"]; got != "cf_1020" {
		t.Errorf("trigger = %q, want %q", got, "cf_1020")
	}

	if len(pool.reported) != 1 || pool.reported[0] != "http://proxy-a:8080" {
		t.Errorf("reported failures = %v, want the current proxy", pool.reported)
	}
}

func TestAccessDeniedPlanExhaustedPool(t *testing.T) {
	solver := NewAccessDenied()
	pool := &stubPool{}
	resp := cfResponse(t, "https://example.com/", accessDeniedPage, 403)

	plan, err := solver.Plan(resp, pool, "http://proxy-a:8080")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if plan.ShouldRetry {
		t.Error("ShouldRetry = true, want false when no proxy is left")
	}
	if plan.Reason != "access_denied_no_proxy" {
		t.Errorf("Reason = %q, want %q", plan.Reason, "access_denied_no_proxy")
	}
	if got := plan.Metadata["proxy_rotation"]; got != "unavailable" {
		t.Errorf("proxy_rotation = %q, want %q", got, "unavailable")
	}
}

func TestAccessDeniedPlanWithoutPool(t *testing.T) {
	solver := NewAccessDenied()
	resp := cfResponse(t, "https://example.com/", accessDeniedPage, 403)

	plan, err := solver.Plan(resp, nil, "")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if plan.ShouldRetry {
		t.Error("ShouldRetry = true, want false without a proxy pool")
	}
	if plan.Reason != "access_denied_no_proxy" {
		t.Errorf("Reason = %q, want %q", plan.Reason, "access_denied_no_proxy")
	}
	if got := plan.Metadata["proxy_rotation"]; got != "not_configured" {
		t.Errorf("proxy_rotation = %q, want %q", got, "not_configured")
	}
}

func TestAccessDeniedIsChallenge(t *testing.T) {
	solver := NewAccessDenied()

	tests := []struct {
		name   string
		body   string
		status int
		server string
		want   bool
	}{
		{name: "error code page", body: accessDeniedPage, status: 403, server: "cloudflare", want: true},
		{name: "text only", body: "<html>Access denied</html>", status: 403, server: "cloudflare", want: true},
		{name: "wrong status", body: accessDeniedPage, status: 429, server: "cloudflare", want: false},
		{name: "not cloudflare", body: accessDeniedPage, status: 403, server: "nginx", want: false},
		{name: "plain 403", body: "<html>forbidden</html>", status: 403, server: "cloudflare", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := cfResponse(t, "https://example.com/", tt.body, tt.status)
			resp.Header.Set("Server", tt.server)
			if got := solver.IsChallenge(resp); got != tt.want {
				t.Errorf("IsChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccessDeniedPlanMismatch(t *testing.T) {
	solver := NewAccessDenied()
	resp := cfResponse(t, "https://example.com/", "<html>ok</html>", 200)

	_, err := solver.Plan(resp, nil, "")
	if !errors.Is(err, types.ErrChallengeMismatch) {
		t.Errorf("Plan() error = %v, want ErrChallengeMismatch", err)
	}
}
