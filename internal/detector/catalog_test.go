package detector

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const externalCatalog = `
patterns:
  - id: cf_turnstile
    name: Tuned Turnstile
    kind: turnstile
    strategy: captcha_solving
    confidence: 0.75
    indicators:
      - "my-custom-widget"
  - id: vendor_block
    name: Vendor Block Page
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "vendor-firewall"
`

func findPattern(patterns []*Pattern, id string) *Pattern {
	for _, p := range patterns {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func TestNewCatalog_BuiltinOnly(t *testing.T) {
	c, err := NewCatalog("", false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	patterns := c.Patterns()
	if len(patterns) != len(BuiltinPatterns()) {
		t.Fatalf("len(Patterns()) = %d, want %d", len(patterns), len(BuiltinPatterns()))
	}
	if findPattern(patterns, "cf_iuam_v1") == nil {
		t.Error("Expected builtin cf_iuam_v1 pattern")
	}
	if findPattern(patterns, "cf_turnstile") == nil {
		t.Error("Expected builtin cf_turnstile pattern")
	}
}

func TestNewCatalog_ExternalFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "signatures.yaml")
	if err := os.WriteFile(tmpFile, []byte(externalCatalog), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	c, err := NewCatalog(tmpFile, false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	patterns := c.Patterns()
	if want := len(BuiltinPatterns()) + 1; len(patterns) != want {
		t.Fatalf("len(Patterns()) = %d, want %d", len(patterns), want)
	}

	// Same-id entries override the builtin pattern
	turnstile := findPattern(patterns, "cf_turnstile")
	if turnstile == nil {
		t.Fatal("Expected cf_turnstile pattern")
	}
	if turnstile.Name != "Tuned Turnstile" {
		t.Errorf("Name = %q, want %q", turnstile.Name, "Tuned Turnstile")
	}
	if turnstile.BaseConfidence != 0.75 {
		t.Errorf("BaseConfidence = %v, want 0.75", turnstile.BaseConfidence)
	}

	// New ids append after the builtin set
	vendor := findPattern(patterns, "vendor_block")
	if vendor == nil {
		t.Fatal("Expected vendor_block pattern")
	}
	if vendor.Strategy != StrategyProxyRotation {
		t.Errorf("Strategy = %q, want %q", vendor.Strategy, StrategyProxyRotation)
	}
	if patterns[len(patterns)-1].ID != "vendor_block" {
		t.Errorf("last pattern = %q, want vendor_block appended", patterns[len(patterns)-1].ID)
	}

	// Untouched builtins survive the merge
	if findPattern(patterns, "cf_rate_limit") == nil {
		t.Error("Expected builtin cf_rate_limit pattern to survive merge")
	}
}

func TestCatalog_Patterns_LockFree(t *testing.T) {
	c, err := NewCatalog("", false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	const goroutines = 100
	const iterations = 1000

	done := make(chan bool)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				if len(c.Patterns()) == 0 {
					t.Error("Patterns() returned empty set")
					return
				}
			}
			done <- true
		}()
	}

	for i := 0; i < goroutines; i++ {
		<-done
	}
}

func TestCatalog_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "signatures.yaml")

	content := `
patterns:
  - id: vendor_block
    name: Initial
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "initial-marker"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	c, err := NewCatalog(tmpFile, false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	if p := findPattern(c.Patterns(), "vendor_block"); p == nil || p.Name != "Initial" {
		t.Fatalf("vendor_block = %+v, want Name Initial", p)
	}

	newContent := `
patterns:
  - id: vendor_block
    name: Updated
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "updated-marker"
`
	if err := os.WriteFile(tmpFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	if err := c.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if p := findPattern(c.Patterns(), "vendor_block"); p == nil || p.Name != "Updated" {
		t.Fatalf("vendor_block after reload = %+v, want Name Updated", p)
	}

	// Initial load + manual reload = 2
	stats := c.Stats()
	if stats.ReloadCount != 2 {
		t.Errorf("ReloadCount = %d, want 2", stats.ReloadCount)
	}
	if stats.LastError != nil {
		t.Errorf("LastError = %v, want nil", stats.LastError)
	}
}

func TestCatalog_Reload_KeepsLearnedStats(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "signatures.yaml")

	content := `
patterns:
  - id: vendor_block
    name: Initial
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "before-marker"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	c, err := NewCatalog(tmpFile, false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	d := NewWithCatalog(c)
	d.LearnOutcome("vendor_block", true)
	d.LearnOutcome("vendor_block", false)

	newContent := `
patterns:
  - id: vendor_block
    name: Updated
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "after-marker"
`
	if err := os.WriteFile(tmpFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	// Stats key on the pattern id, so a signature swap must not reset them.
	stats, ok := d.StatsFor("vendor_block")
	if !ok || stats.Attempts != 2 || stats.Successes != 1 {
		t.Fatalf("StatsFor() = %+v (ok %v), want the learned 1/2 record retained", stats, ok)
	}

	det := d.Detect(cfResponse(t, "https://example.com/", 403, "<html>after-marker</html>"))
	if det == nil || det.PatternID != "vendor_block" {
		t.Fatalf("Detect() = %+v, want the swapped signature to match", det)
	}
	if det.Confidence <= 0.9 {
		t.Errorf("Confidence = %v, want the base raised by the retained stats", det.Confidence)
	}
}

func TestCatalog_Reload_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "signatures.yaml")
	if err := os.WriteFile(tmpFile, []byte(externalCatalog), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	c, err := NewCatalog(tmpFile, false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	before := len(c.Patterns())

	invalid := "patterns:\n  - not valid {{{\n    incomplete:\n"
	if err := os.WriteFile(tmpFile, []byte(invalid), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	if err := c.Reload(); err == nil {
		t.Error("Expected Reload() to fail with invalid YAML")
	}

	// Previous catalog stays active on failure
	if got := len(c.Patterns()); got != before {
		t.Errorf("len(Patterns()) after failed reload = %d, want %d", got, before)
	}
	if c.Stats().LastError == nil {
		t.Error("Expected LastError to be set")
	}
}

func TestCatalog_Reload_NoExternalPath(t *testing.T) {
	c, err := NewCatalog("", false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	if err := c.Reload(); err == nil {
		t.Error("Expected Reload() to fail when no external path is configured")
	}
}

func TestCatalog_HotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping hot-reload test in short mode")
	}

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "signatures.yaml")

	content := `
patterns:
  - id: vendor_block
    name: Before
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "before-marker"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	c, err := NewCatalog(tmpFile, true)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	defer c.Close()

	newContent := `
patterns:
  - id: vendor_block
    name: After
    kind: access_denied
    strategy: proxy_rotation
    confidence: 0.9
    indicators:
      - "after-marker"
`
	if err := os.WriteFile(tmpFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	// Wait for hot-reload (debounce delay + some buffer)
	time.Sleep(300 * time.Millisecond)

	if p := findPattern(c.Patterns(), "vendor_block"); p == nil || p.Name != "After" {
		t.Errorf("vendor_block after hot-reload = %+v, want Name After", p)
	}
}

func TestCatalog_Close_Idempotent(t *testing.T) {
	c, err := NewCatalog("", false)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestParseCatalog_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name:    "valid",
			yaml:    externalCatalog,
			wantErr: false,
		},
		{
			name:    "invalid yaml",
			yaml:    "patterns: [}",
			wantErr: true,
		},
		{
			name:    "no patterns",
			yaml:    "patterns: []",
			wantErr: true,
		},
		{
			name: "missing id",
			yaml: `
patterns:
  - name: No ID
    kind: turnstile
    strategy: captcha_solving
    confidence: 0.8
    indicators: ["x"]
`,
			wantErr: true,
		},
		{
			name: "unknown kind",
			yaml: `
patterns:
  - id: p
    name: P
    kind: quantum
    strategy: captcha_solving
    confidence: 0.8
    indicators: ["x"]
`,
			wantErr: true,
		},
		{
			name: "unknown strategy",
			yaml: `
patterns:
  - id: p
    name: P
    kind: turnstile
    strategy: give_up
    confidence: 0.8
    indicators: ["x"]
`,
			wantErr: true,
		},
		{
			name: "confidence out of range",
			yaml: `
patterns:
  - id: p
    name: P
    kind: turnstile
    strategy: captcha_solving
    confidence: 1.5
    indicators: ["x"]
`,
			wantErr: true,
		},
		{
			name: "no indicators",
			yaml: `
patterns:
  - id: p
    name: P
    kind: turnstile
    strategy: captcha_solving
    confidence: 0.8
    indicators: []
`,
			wantErr: true,
		},
		{
			name: "invalid regex",
			yaml: `
patterns:
  - id: p
    name: P
    kind: turnstile
    strategy: captcha_solving
    confidence: 0.8
    indicators: ["(["]
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCatalog([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseCatalog() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
