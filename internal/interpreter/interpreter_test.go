package interpreter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

func TestSolveChallenge(t *testing.T) {
	tests := []struct {
		name string
		html string
		host string
		want string
	}{
		{
			name: "arithmetic answer",
			html: `
			<html><body>
				<form id="challenge-form"><input type="hidden" id="jschl_answer" /></form>
				<script>
					setTimeout(function(){
						var a = 10;
						var b = 5;
						document.getElementById('jschl_answer').value = a + b;
					}, 4000);
				</script>
			</body></html>`,
			host: "example.com",
			want: "15.0000000000",
		},
		{
			name: "answer uses host length",
			html: `
			<html><body>
				<script>
					var t = location.hostname;
					document.getElementById('jschl_answer').value = 10 + t.length;
				</script>
			</body></html>`,
			host: "example.com",
			want: "21.0000000000",
		},
		{
			name: "string answer passes through",
			html: `
			<html><body>
				<script>
					document.getElementById('jschl_answer').value = "token-xyz";
				</script>
			</body></html>`,
			host: "example.com",
			want: "token-xyz",
		},
		{
			name: "innerHTML href resolution",
			html: `
			<html><body>
				<script>
					var k = document.createElement('a');
					k.innerHTML = '<a href="/cdn-cgi/path">x</a>';
					document.getElementById('jschl_answer').value = k.firstChild.href;
				</script>
			</body></html>`,
			host: "example.com",
			want: "https://example.com/cdn-cgi/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewOtto().SolveChallenge(tt.html, tt.host)
			if err != nil {
				t.Fatalf("SolveChallenge() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SolveChallenge() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSolveChallengeErrors(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		wantErr error
		contain string
	}{
		{
			name:    "no script tags",
			html:    "<html><body>No script</body></html>",
			wantErr: types.ErrScriptNotFound,
		},
		{
			name:    "only blank scripts",
			html:    "<html><body><script>   </script></body></html>",
			wantErr: types.ErrScriptNotFound,
		},
		{
			name:    "answer never set",
			html:    "<html><body><script>var a = 1;</script></body></html>",
			contain: "jschl_answer",
		},
		{
			name:    "broken script",
			html:    "<html><body><script>this is not javascript</script></body></html>",
			contain: "javascript execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOtto().SolveChallenge(tt.html, "example.com")
			if err == nil {
				t.Fatal("SolveChallenge() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SolveChallenge() error = %v, want %v", err, tt.wantErr)
			}
			if tt.contain != "" && !strings.Contains(err.Error(), tt.contain) {
				t.Errorf("SolveChallenge() error = %v, want containing %q", err, tt.contain)
			}
		})
	}
}

func TestSolveChallengeTimeout(t *testing.T) {
	engine := &Otto{Timeout: 50 * time.Millisecond}
	html := "<html><body><script>while (true) {}</script></body></html>"

	_, err := engine.SolveChallenge(html, "example.com")
	if !errors.Is(err, types.ErrScriptTimeout) {
		t.Errorf("SolveChallenge() error = %v, want %v", err, types.ErrScriptTimeout)
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name   string
		script string
		host   string
		want   string
	}{
		{name: "expression", script: "1 + 2;", host: "example.com", want: "3"},
		{name: "prelude visible", script: "location.hostname;", host: "test.invalid", want: "test.invalid"},
		{name: "string result", script: "'a' + 'b';", host: "example.com", want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewOtto().Execute(tt.script, tt.host)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecuteError(t *testing.T) {
	_, err := NewOtto().Execute("throw new Error('boom');", "example.com")
	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "javascript execution failed") {
		t.Errorf("Execute() error = %v, want execution failure", err)
	}
}
