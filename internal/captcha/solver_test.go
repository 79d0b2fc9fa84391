package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// fakeProvider is a scriptable Provider for chain tests.
type fakeProvider struct {
	name       string
	configured bool
	solution   *Solution
	err        error
	balance    float64
	calls      int
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Solve(ctx context.Context, task *Task) (*Solution, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.solution, nil
}

func (f *fakeProvider) Balance(ctx context.Context) (float64, error) {
	return f.balance, nil
}

var _ Provider = (*Chain)(nil)

func TestChain_Solve_FirstProviderWins(t *testing.T) {
	first := &fakeProvider{
		name:       "first",
		configured: true,
		solution:   &Solution{Token: "token-1", Provider: "first", SolveTime: time.Second},
	}
	second := &fakeProvider{
		name:       "second",
		configured: true,
		solution:   &Solution{Token: "token-2", Provider: "second"},
	}

	chain := NewChain(nil, first, second)
	solution, err := chain.Solve(context.Background(), NewTask("key", "https://example.com"))
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}

	if solution.Token != "token-1" {
		t.Errorf("Token = %q, want %q", solution.Token, "token-1")
	}
	if second.calls != 0 {
		t.Errorf("second provider calls = %d, want 0", second.calls)
	}
}

func TestChain_Solve_FallsBackOnError(t *testing.T) {
	first := &fakeProvider{
		name:       "first",
		configured: true,
		err:        errors.New("provider down"),
	}
	second := &fakeProvider{
		name:       "second",
		configured: true,
		solution:   &Solution{Token: "token-2", Provider: "second"},
	}

	metrics := NewMetrics()
	chain := NewChain(metrics, first, second)
	solution, err := chain.Solve(context.Background(), NewTask("key", "https://example.com"))
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}

	if solution.Token != "token-2" {
		t.Errorf("Token = %q, want %q", solution.Token, "token-2")
	}
	if first.calls != 1 {
		t.Errorf("first provider calls = %d, want 1", first.calls)
	}

	// Failure and success both land in the metrics
	if stats := metrics.GetStats("first"); stats == nil || stats.Failures != 1 {
		t.Errorf("first failures = %+v, want 1 failure", stats)
	}
	if stats := metrics.GetStats("second"); stats == nil || stats.Successes != 1 {
		t.Errorf("second successes = %+v, want 1 success", stats)
	}
}

func TestChain_Solve_SkipsUnconfigured(t *testing.T) {
	skipped := &fakeProvider{name: "skipped", configured: false}
	active := &fakeProvider{
		name:       "active",
		configured: true,
		solution:   &Solution{Token: "token", Provider: "active"},
	}

	chain := NewChain(nil, skipped, active)
	if _, err := chain.Solve(context.Background(), NewTask("key", "https://example.com")); err != nil {
		t.Fatalf("Solve() error = %v", err)
	}

	if skipped.calls != 0 {
		t.Errorf("skipped provider calls = %d, want 0", skipped.calls)
	}
}

func TestChain_Solve_AllFail(t *testing.T) {
	lastErr := errors.New("second failure")
	chain := NewChain(nil,
		&fakeProvider{name: "first", configured: true, err: errors.New("first failure")},
		&fakeProvider{name: "second", configured: true, err: lastErr},
	)

	_, err := chain.Solve(context.Background(), NewTask("key", "https://example.com"))
	if err == nil {
		t.Fatal("Solve() error = nil, want error")
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Solve() error = %v, want wrapping %v", err, lastErr)
	}
}

func TestChain_Solve_NoProviders(t *testing.T) {
	tests := []struct {
		name  string
		chain *Chain
	}{
		{name: "empty chain", chain: NewChain(nil)},
		{name: "only unconfigured", chain: NewChain(nil, &fakeProvider{name: "p", configured: false})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.chain.Solve(context.Background(), NewTask("key", "https://example.com"))
			if !errors.Is(err, types.ErrCaptchaNoProviders) {
				t.Errorf("Solve() error = %v, want %v", err, types.ErrCaptchaNoProviders)
			}
		})
	}
}

func TestChain_IsConfigured(t *testing.T) {
	if NewChain(nil, &fakeProvider{configured: false}).IsConfigured() {
		t.Error("IsConfigured() = true with no configured providers, want false")
	}
	if !NewChain(nil, &fakeProvider{configured: false}, &fakeProvider{configured: true}).IsConfigured() {
		t.Error("IsConfigured() = false with a configured provider, want true")
	}
}

func TestChain_Balance(t *testing.T) {
	chain := NewChain(nil,
		&fakeProvider{name: "first", configured: false, balance: 1},
		&fakeProvider{name: "second", configured: true, balance: 7.5},
	)

	balance, err := chain.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 7.5 {
		t.Errorf("Balance() = %v, want 7.5", balance)
	}

	_, err = NewChain(nil).Balance(context.Background())
	if !errors.Is(err, types.ErrCaptchaNoProviders) {
		t.Errorf("Balance() error = %v, want %v", err, types.ErrCaptchaNoProviders)
	}
}

func TestTask_Builders(t *testing.T) {
	task := NewTask("site-key", "https://example.com/page").
		WithAction("managed").
		InsertMetadata("cv_id", "cv-123")

	if task.SiteKey != "site-key" {
		t.Errorf("SiteKey = %q, want %q", task.SiteKey, "site-key")
	}
	if task.PageURL != "https://example.com/page" {
		t.Errorf("PageURL = %q, want %q", task.PageURL, "https://example.com/page")
	}
	if task.Action != "managed" {
		t.Errorf("Action = %q, want %q", task.Action, "managed")
	}
	if task.Data["cv_id"] != "cv-123" {
		t.Errorf(`Data["cv_id"] = %q, want %q`, task.Data["cv_id"], "cv-123")
	}
}
