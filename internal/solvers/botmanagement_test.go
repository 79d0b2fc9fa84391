package solvers

import (
	"errors"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

const botManagementPage = `
<html>
  <body>
    <h1>Bot management</h1>
    <p>This website has banned you temporarily from accessing it.</p>
    <span class="cf-error-code">1010</span>
  </body>
</html>`

func TestBotManagementPlanFullStack(t *testing.T) {
	solver := NewBotManagement()
	fingerprint := &stubFingerprint{}
	tls := &stubTLS{}
	recorder := &stubRecorder{}
	resp := cfResponse(t, "https://example.com/", botManagementPage, 403)

	plan, err := solver.Plan(resp, fingerprint, tls, recorder)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if !plan.ShouldRetry {
		t.Error("ShouldRetry = false, want true")
	}
	if plan.Wait < 30*time.Second || plan.Wait > 60*time.Second {
		t.Errorf("Wait = %v, want the 30-60s window", plan.Wait)
	}
	if plan.Reason != "bot_management" {
		t.Errorf("Reason = %q, want %q", plan.Reason, "bot_management")
	}

	for key, want := range map[string]string{
		"trigger":           "cf_1010",
		"fingerprint_reset": "true",
		"tls_rotated":       "true",
		"stealth_mode":      "enhanced",
	} {
		if got := plan.Metadata[key]; got != want {
			t.Errorf("Metadata[%q] = %q, want %q", key, got, want)
		}
	}

	if len(fingerprint.invalidated) != 1 || fingerprint.invalidated[0] != "example.com" {
		t.Errorf("fingerprint invalidations = %v, want [example.com]", fingerprint.invalidated)
	}
	if len(tls.rotated) != 1 || tls.rotated[0] != "example.com" {
		t.Errorf("TLS rotations = %v, want [example.com]", tls.rotated)
	}
	if !recorder.recorded("example.com", "cf_bot_management") {
		t.Error("failure was not recorded for example.com")
	}
}

func TestBotManagementPlanBare(t *testing.T) {
	solver := NewBotManagement()
	resp := cfResponse(t, "https://example.com/", botManagementPage, 403)

	plan, err := solver.Plan(resp, nil, nil, nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if got := plan.Metadata["fingerprint_reset"]; got != "false" {
		t.Errorf("fingerprint_reset = %q, want %q", got, "false")
	}
	if got := plan.Metadata["tls_rotated"]; got != "false" {
		t.Errorf("tls_rotated = %q, want %q", got, "false")
	}
	if got := plan.Metadata["stealth_mode"]; got != "enhanced" {
		t.Errorf("stealth_mode = %q, want %q", got, "enhanced")
	}
}

func TestBotManagementIsChallenge(t *testing.T) {
	solver := NewBotManagement()

	tests := []struct {
		name   string
		body   string
		status int
		server string
		want   bool
	}{
		{name: "error code page", body: botManagementPage, status: 403, server: "cloudflare", want: true},
		{name: "text only", body: "<html>Bot management</html>", status: 403, server: "cloudflare", want: true},
		{name: "wrong status", body: botManagementPage, status: 503, server: "cloudflare", want: false},
		{name: "not cloudflare", body: botManagementPage, status: 403, server: "nginx", want: false},
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

func TestBotManagementPlanMismatch(t *testing.T) {
	solver := NewBotManagement()
	resp := cfResponse(t, "https://example.com/", "<html>ok</html>", 200)

	_, err := solver.Plan(resp, nil, nil, nil)
	if !errors.Is(err, types.ErrChallengeMismatch) {
		t.Errorf("Plan() error = %v, want ErrChallengeMismatch", err)
	}
}
