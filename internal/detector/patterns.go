package detector

import (
	"fmt"
	"regexp"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
)

// Strategy names the response strategy a detection recommends.
type Strategy string

const (
	StrategyJSExecution         Strategy = "js_execution"
	StrategyAdvancedJSExecution Strategy = "advanced_js_execution"
	StrategyBrowserSimulation   Strategy = "browser_simulation"
	StrategyCaptchaSolving      Strategy = "captcha_solving"
	StrategyDelayRetry          Strategy = "delay_retry"
	StrategyProxyRotation       Strategy = "proxy_rotation"
	StrategyEnhancedEvasion     Strategy = "enhanced_evasion"
	StrategyNone                Strategy = "none"
)

// Indicator is one compiled signature regex plus its source text, kept so
// detections can report exactly which indicators fired.
type Indicator struct {
	Source string
	re     *regexp.Regexp
}

// Pattern is one challenge signature: a set of indicator regexes scored
// against the response body.
type Pattern struct {
	ID             string
	Name           string
	Kind           challenge.Kind
	Strategy       Strategy
	BaseConfidence float64
	Indicators     []Indicator
	Adaptive       bool
}

// compileIndicators compiles raw regex sources with the standard flags
// (case-insensitive, multi-line, dot matches newline).
func compileIndicators(sources []string) ([]Indicator, error) {
	indicators := make([]Indicator, 0, len(sources))
	for _, src := range sources {
		re, err := regexp.Compile("(?ism)" + src)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", src, err)
		}
		indicators = append(indicators, Indicator{Source: src, re: re})
	}
	return indicators, nil
}

func mustPattern(id, name string, kind challenge.Kind, strategy Strategy, base float64, sources ...string) *Pattern {
	indicators, err := compileIndicators(sources)
	if err != nil {
		panic(err)
	}
	return &Pattern{
		ID:             id,
		Name:           name,
		Kind:           kind,
		Strategy:       strategy,
		BaseConfidence: base,
		Indicators:     indicators,
	}
}

// builtinPatterns is the compiled-in signature catalog. An external catalog
// file can override entries by id; learned stats live in the detector and
// survive catalog swaps.
var builtinPatterns = []*Pattern{
	mustPattern("cf_iuam_v1", "Cloudflare IUAM v1", challenge.KindJavaScriptV1, StrategyJSExecution, 0.95,
		`<title>\s*Just a moment\.\.\.\s*</title>`,
		`var s,t,o,p,b,r,e,a,k,i,n,g,f,u,l,l,y,h,a,r,d,c,o,r,e`,
		`setTimeout\(function\(\)\s*\{\s*var.*?\.submit\(\)`,
		`<form[^>]*id="challenge-form"[^>]*action="/[^"]*__cf_chl_f_tk=`,
	),
	mustPattern("cf_iuam_v2", "Cloudflare IUAM v2", challenge.KindJavaScriptV2, StrategyAdvancedJSExecution, 0.90,
		`cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/.*?orchestrate/jsch/v1`,
		`window\._cf_chl_opt\s*=`,
		`<form[^>]*id="challenge-form"[^>]*action="/[^"]*__cf_chl_rt_tk=`,
	),
	mustPattern("cf_managed_v3", "Cloudflare Managed Challenge v3", challenge.KindManagedV3, StrategyBrowserSimulation, 0.92,
		`cpo\.src\s*=\s*['"]/cdn-cgi/challenge-platform/.*?orchestrate/(?:captcha|managed)/v1`,
		`window\._cf_chl_ctx\s*=`,
		`data-ray="[A-Fa-f0-9]+"`,
		`<div[^>]*class="cf-browser-verification`,
	),
	mustPattern("cf_turnstile", "Cloudflare Turnstile", challenge.KindTurnstile, StrategyCaptchaSolving, 0.98,
		`class="cf-turnstile"`,
		`data-sitekey="[0-9A-Za-z]{40}"`,
		`src="https://challenges\.cloudflare\.com/turnstile/v0/api\.js`,
		`cf-turnstile-response`,
	),
	mustPattern("cf_rate_limit", "Cloudflare Rate Limit", challenge.KindRateLimit, StrategyDelayRetry, 0.99,
		`<span[^>]*class="cf-error-code">1015<`,
		`You are being rate limited`,
		`<title>\s*Rate Limited\s*</title>`,
	),
	mustPattern("cf_access_denied", "Cloudflare Access Denied", challenge.KindAccessDenied, StrategyProxyRotation, 0.99,
		`<span[^>]*class="cf-error-code">1020<`,
		`Access denied`,
		`The owner of this website has banned your access`,
	),
	mustPattern("cf_bot_management", "Cloudflare Bot Management", challenge.KindBotManagement, StrategyEnhancedEvasion, 0.95,
		`<span[^>]*class="cf-error-code">1010<`,
		`Bot management`,
		`has banned you temporarily`,
	),
}

// BuiltinPatterns returns the compiled-in catalog. Callers must treat the
// returned patterns as immutable.
func BuiltinPatterns() []*Pattern {
	return builtinPatterns
}

// parseKind maps a catalog kind string onto a challenge kind.
func parseKind(s string) (challenge.Kind, error) {
	switch challenge.Kind(s) {
	case challenge.KindJavaScriptV1, challenge.KindJavaScriptV2, challenge.KindManagedV3,
		challenge.KindTurnstile, challenge.KindRateLimit, challenge.KindAccessDenied,
		challenge.KindBotManagement, challenge.KindUnknown:
		return challenge.Kind(s), nil
	}
	return "", fmt.Errorf("unknown challenge kind %q", s)
}

// parseStrategy maps a catalog strategy string onto a response strategy.
func parseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyJSExecution, StrategyAdvancedJSExecution, StrategyBrowserSimulation,
		StrategyCaptchaSolving, StrategyDelayRetry, StrategyProxyRotation,
		StrategyEnhancedEvasion, StrategyNone:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown response strategy %q", s)
}
