// Package captcha integrates external CAPTCHA solving services for
// Turnstile and managed challenges. It supports multiple providers
// (2Captcha, CapSolver) with ordered fallback.
package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// Provider defines the interface for external CAPTCHA solving services.
type Provider interface {
	// Name returns the provider name (e.g., "2captcha", "capsolver").
	Name() string

	// Solve attempts to solve a CAPTCHA task.
	// Returns the solution token or an error.
	Solve(ctx context.Context, task *Task) (*Solution, error)

	// Balance retrieves the current account balance from the provider.
	Balance(ctx context.Context) (float64, error)

	// IsConfigured returns true if the provider has valid API credentials.
	IsConfigured() bool
}

// Task describes the CAPTCHA Cloudflare issued.
type Task struct {
	SiteKey   string            // The widget sitekey (data-sitekey attribute)
	PageURL   string            // The URL of the page containing the widget
	UserAgent string            // The user agent to present while solving
	Action    string            // Optional action parameter
	CData     string            // Optional cData parameter
	Data      map[string]string // Extra challenge metadata
}

// NewTask creates a task for the given sitekey and page URL.
func NewTask(siteKey, pageURL string) *Task {
	return &Task{
		SiteKey: siteKey,
		PageURL: pageURL,
		Data:    make(map[string]string),
	}
}

// WithAction sets the action parameter.
func (t *Task) WithAction(action string) *Task {
	t.Action = action
	return t
}

// InsertMetadata attaches extra challenge metadata.
func (t *Task) InsertMetadata(key, value string) *Task {
	if t.Data == nil {
		t.Data = make(map[string]string)
	}
	t.Data[key] = value
	return t
}

// Solution contains the resolved token from a provider.
type Solution struct {
	Token     string            // The solution token to submit
	Provider  string            // Which provider solved it
	SolveTime time.Duration     // How long the solve took
	Cost      float64           // Cost in USD for this solve
	Metadata  map[string]string // Extra fields to fold into the submission
}

// Chain tries a list of providers in priority order until one succeeds.
// It implements Provider so callers can treat it as a single solver.
type Chain struct {
	providers []Provider
	metrics   *Metrics
}

// NewChain creates a provider chain. A nil metrics tracker disables
// usage accounting.
func NewChain(metrics *Metrics, providers ...Provider) *Chain {
	return &Chain{providers: providers, metrics: metrics}
}

// Name returns the provider name.
func (c *Chain) Name() string {
	return "chain"
}

// IsConfigured returns true if at least one provider has credentials.
func (c *Chain) IsConfigured() bool {
	for _, p := range c.providers {
		if p.IsConfigured() {
			return true
		}
	}
	return false
}

// Balance returns the balance of the first configured provider.
func (c *Chain) Balance(ctx context.Context) (float64, error) {
	for _, p := range c.providers {
		if p.IsConfigured() {
			return p.Balance(ctx)
		}
	}
	return 0, types.ErrCaptchaNoProviders
}

// Solve tries each configured provider in order until one returns a token.
func (c *Chain) Solve(ctx context.Context, task *Task) (*Solution, error) {
	var lastErr error
	for _, provider := range c.providers {
		if !provider.IsConfigured() {
			continue
		}

		start := time.Now()
		solution, err := provider.Solve(ctx, task)
		elapsed := time.Since(start)

		if err != nil {
			log.Warn().
				Err(err).
				Str("provider", provider.Name()).
				Dur("duration", elapsed).
				Msg("CAPTCHA provider failed, trying next")
			lastErr = err
			if c.metrics != nil {
				c.metrics.RecordAttempt(provider.Name(), false, 0, elapsed)
				c.metrics.RecordError(provider.Name(), err.Error())
			}
			continue
		}

		log.Info().
			Str("provider", provider.Name()).
			Dur("solve_time", solution.SolveTime).
			Float64("cost", solution.Cost).
			Msg("CAPTCHA solved")
		if c.metrics != nil {
			c.metrics.RecordAttempt(provider.Name(), true, solution.Cost, solution.SolveTime)
		}
		return solution, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, types.ErrCaptchaNoProviders
}

// Metrics returns the usage tracker, or nil when accounting is disabled.
func (c *Chain) Metrics() *Metrics {
	return c.metrics
}

// truncateKey shortens a sitekey for log output.
func truncateKey(key string) string {
	if len(key) <= 10 {
		return key + "..."
	}
	return key[:10] + "..."
}
