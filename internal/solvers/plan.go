package solvers

import "time"

// MitigationPlan tells the request loop how to proceed after a blocking
// response that carries no solvable form: whether to retry, how long to
// wait first, and any proxy or header changes to apply. Metadata carries
// diagnostic key/value pairs that end up in logs and events.
type MitigationPlan struct {
	ShouldRetry bool
	Wait        time.Duration // 0 means retry without waiting
	Reason      string
	NewProxy    string // non-empty when the retry should switch proxies
	Headers     map[string]string
	Metadata    map[string]string
}

// RetryAfter builds a plan that retries once the wait has elapsed.
func RetryAfter(wait time.Duration, reason string) *MitigationPlan {
	return &MitigationPlan{
		ShouldRetry: true,
		Wait:        wait,
		Reason:      reason,
		Headers:     make(map[string]string),
		Metadata:    make(map[string]string),
	}
}

// RetryImmediately builds a plan that retries without waiting.
func RetryImmediately(reason string) *MitigationPlan {
	return &MitigationPlan{
		ShouldRetry: true,
		Reason:      reason,
		Headers:     make(map[string]string),
		Metadata:    make(map[string]string),
	}
}

// NoRetry builds a plan that stops the request loop.
func NoRetry(reason string) *MitigationPlan {
	return &MitigationPlan{
		ShouldRetry: false,
		Reason:      reason,
		Headers:     make(map[string]string),
		Metadata:    make(map[string]string),
	}
}

// WithProxy sets the proxy the retry should use and returns the plan.
func (p *MitigationPlan) WithProxy(proxy string) *MitigationPlan {
	p.NewProxy = proxy
	return p
}

// InsertMetadata adds a diagnostic entry and returns the plan.
func (p *MitigationPlan) InsertMetadata(key, value string) *MitigationPlan {
	p.Metadata[key] = value
	return p
}
