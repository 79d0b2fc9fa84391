// Package pipeline routes detected challenges to their solvers. It wraps
// the detector and the individual solver and mitigation handlers behind a
// single Evaluate call that tells the request loop what to do next: post
// a submission, apply a mitigation plan, or give up on the response.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rorqualx/cloudscraper-go/internal/challenge"
	"github.com/Rorqualx/cloudscraper-go/internal/detector"
	"github.com/Rorqualx/cloudscraper-go/internal/solvers"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
)

// Outcome classifies what Evaluate decided about a response.
type Outcome int

const (
	// OutcomeNoChallenge means the response is not a Cloudflare challenge.
	OutcomeNoChallenge Outcome = iota
	// OutcomeSubmission means a solver produced a payload to post back.
	OutcomeSubmission
	// OutcomeMitigation means a handler produced a retry/backoff plan.
	OutcomeMitigation
	// OutcomeUnsupported means a challenge was detected but cannot be
	// acted on with the configured solvers.
	OutcomeUnsupported
	// OutcomeFailed means the responsible solver errored.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChallenge:
		return "no_challenge"
	case OutcomeSubmission:
		return "submission"
	case OutcomeMitigation:
		return "mitigation"
	case OutcomeUnsupported:
		return "unsupported"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the decision for one response. Detection is nil only for
// OutcomeNoChallenge; the remaining fields are populated according to the
// outcome.
type Result struct {
	Outcome    Outcome
	Detection  *detector.Detection
	Submission *challenge.Submission
	Plan       *solvers.MitigationPlan
	Reason     UnsupportedReason
	Err        error
}

// ReasonKind classifies why a detected challenge could not be acted on.
type ReasonKind int

const (
	ReasonUnknownChallenge ReasonKind = iota
	ReasonMissingSolver
	ReasonMissingDependency
)

// UnsupportedReason explains an OutcomeUnsupported result. The zero value
// is the unknown-challenge reason.
type UnsupportedReason struct {
	Kind ReasonKind
	Name string
}

// MissingSolver reports that the solver for the detected challenge type
// was not attached to the pipeline.
func MissingSolver(name string) UnsupportedReason {
	return UnsupportedReason{Kind: ReasonMissingSolver, Name: name}
}

// MissingDependency reports that a solver is attached but lacks a
// required collaborator, such as a captcha provider.
func MissingDependency(name string) UnsupportedReason {
	return UnsupportedReason{Kind: ReasonMissingDependency, Name: name}
}

// UnknownChallenge reports that the detection carries no actionable type.
func UnknownChallenge() UnsupportedReason {
	return UnsupportedReason{Kind: ReasonUnknownChallenge}
}

func (r UnsupportedReason) String() string {
	switch r.Kind {
	case ReasonMissingSolver:
		return fmt.Sprintf("required solver '%s' is not configured", r.Name)
	case ReasonMissingDependency:
		return fmt.Sprintf("missing required dependency: %s", r.Name)
	}
	return "unrecognised challenge"
}

// SolverError wraps an error from a solver or mitigation handler with the
// name of the component that produced it.
type SolverError struct {
	Solver string
	Err    error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("%s error: %s", solverLabel(e.Solver), e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

func solverLabel(name string) string {
	switch name {
	case solvers.NameJavaScriptV1:
		return "javascript v1 solver"
	case solvers.NameJavaScriptV2:
		return "javascript v2 solver"
	case solvers.NameManagedV3:
		return "managed v3 solver"
	case solvers.NameTurnstile:
		return "turnstile solver"
	case solvers.NameRateLimit:
		return "rate limit handler"
	case solvers.NameAccessDenied:
		return "access denied handler"
	case solvers.NameBotManagement:
		return "bot management handler"
	}
	return name
}

// Services carries the shared components mitigation handlers act on. Any
// field may be left nil; handlers degrade accordingly.
type Services struct {
	ProxyPool    solvers.ProxyPool
	CurrentProxy string
	Recorder     solvers.FailureRecorder
	Fingerprint  solvers.FingerprintInvalidator
	TLS          solvers.TLSRotator
}

// Pipeline coordinates challenge detection and solver selection. Solvers
// are optional; a detected challenge whose solver is missing yields an
// unsupported result instead of an error.
type Pipeline struct {
	detector      *detector.Detector
	javascriptV1  *solvers.JavaScriptV1
	javascriptV2  *solvers.JavaScriptV2
	managedV3     *solvers.ManagedV3
	turnstile     *solvers.Turnstile
	rateLimit     *solvers.RateLimit
	accessDenied  *solvers.AccessDenied
	botManagement *solvers.BotManagement
}

// New creates a pipeline around the given detector with no solvers
// attached.
func New(det *detector.Detector) *Pipeline {
	return &Pipeline{detector: det}
}

// Detector returns the underlying detector.
func (p *Pipeline) Detector() *detector.Detector { return p.detector }

// SetDetector replaces the underlying detector.
func (p *Pipeline) SetDetector(det *detector.Detector) { p.detector = det }

// WithJavaScriptV1 attaches the IUAM v1 solver.
func (p *Pipeline) WithJavaScriptV1(s *solvers.JavaScriptV1) *Pipeline {
	p.javascriptV1 = s
	return p
}

// WithJavaScriptV2 attaches the IUAM v2 solver.
func (p *Pipeline) WithJavaScriptV2(s *solvers.JavaScriptV2) *Pipeline {
	p.javascriptV2 = s
	return p
}

// WithManagedV3 attaches the managed challenge solver.
func (p *Pipeline) WithManagedV3(s *solvers.ManagedV3) *Pipeline {
	p.managedV3 = s
	return p
}

// WithTurnstile attaches the Turnstile solver.
func (p *Pipeline) WithTurnstile(s *solvers.Turnstile) *Pipeline {
	p.turnstile = s
	return p
}

// WithRateLimit attaches the rate limit mitigation handler.
func (p *Pipeline) WithRateLimit(s *solvers.RateLimit) *Pipeline {
	p.rateLimit = s
	return p
}

// WithAccessDenied attaches the access denied mitigation handler.
func (p *Pipeline) WithAccessDenied(s *solvers.AccessDenied) *Pipeline {
	p.accessDenied = s
	return p
}

// WithBotManagement attaches the bot management mitigation handler.
func (p *Pipeline) WithBotManagement(s *solvers.BotManagement) *Pipeline {
	p.botManagement = s
	return p
}

// SolverNames lists the attached solvers and mitigation handlers in
// evaluation order.
func (p *Pipeline) SolverNames() []string {
	var attached []solvers.Solver
	if p.javascriptV1 != nil {
		attached = append(attached, p.javascriptV1)
	}
	if p.javascriptV2 != nil {
		attached = append(attached, p.javascriptV2)
	}
	if p.managedV3 != nil {
		attached = append(attached, p.managedV3)
	}
	if p.turnstile != nil {
		attached = append(attached, p.turnstile)
	}
	if p.rateLimit != nil {
		attached = append(attached, p.rateLimit)
	}
	if p.accessDenied != nil {
		attached = append(attached, p.accessDenied)
	}
	if p.botManagement != nil {
		attached = append(attached, p.botManagement)
	}

	names := make([]string, 0, len(attached))
	for _, s := range attached {
		names = append(names, s.Name())
	}
	return names
}

// Evaluate detects the challenge carried by a response and runs the
// matching solver or mitigation handler.
func (p *Pipeline) Evaluate(ctx context.Context, resp *challenge.Response, svc Services) *Result {
	det := p.detector.Detect(resp)
	if det == nil {
		return &Result{Outcome: OutcomeNoChallenge}
	}

	switch det.Kind {
	case challenge.KindJavaScriptV1:
		if p.javascriptV1 == nil {
			return unsupported(det, MissingSolver(solvers.NameJavaScriptV1))
		}
		// A 1020 block can arrive dressed in v1 markup; hand it to the
		// access denied handler rather than the interpreter.
		if p.javascriptV1.IsFirewallBlocked(resp) {
			if p.accessDenied == nil {
				return unsupported(det, MissingSolver(solvers.NameAccessDenied))
			}
			plan, err := p.accessDenied.Plan(resp, svc.ProxyPool, svc.CurrentProxy)
			if err != nil {
				return failed(det, p.accessDenied.Name(), err)
			}
			return mitigation(det, plan)
		}
		// The legacy captcha variant of the v1 flow has no solver here.
		if p.javascriptV1.IsCaptchaChallenge(resp) {
			return unsupported(det, MissingSolver("captcha_v1"))
		}
		sub, err := p.javascriptV1.Solve(resp)
		if err != nil {
			return failed(det, p.javascriptV1.Name(), err)
		}
		return submission(det, sub)

	case challenge.KindJavaScriptV2:
		if p.javascriptV2 == nil {
			return unsupported(det, MissingSolver(solvers.NameJavaScriptV2))
		}
		var sub *challenge.Submission
		var err error
		if p.javascriptV2.IsCaptchaChallenge(resp) {
			sub, err = p.javascriptV2.SolveWithCaptcha(ctx, resp)
		} else {
			sub, err = p.javascriptV2.Solve(resp)
		}
		if errors.Is(err, types.ErrCaptchaNoProviders) {
			return unsupported(det, MissingDependency("captcha_provider"))
		}
		if err != nil {
			return failed(det, p.javascriptV2.Name(), err)
		}
		return submission(det, sub)

	case challenge.KindManagedV3:
		if p.managedV3 == nil {
			return unsupported(det, MissingSolver(solvers.NameManagedV3))
		}
		sub, err := p.managedV3.Solve(resp)
		if err != nil {
			return failed(det, p.managedV3.Name(), err)
		}
		return submission(det, sub)

	case challenge.KindTurnstile:
		if p.turnstile == nil {
			return unsupported(det, MissingSolver(solvers.NameTurnstile))
		}
		sub, err := p.turnstile.Solve(ctx, resp)
		if errors.Is(err, types.ErrCaptchaNoProviders) {
			return unsupported(det, MissingDependency("captcha_provider"))
		}
		if err != nil {
			return failed(det, p.turnstile.Name(), err)
		}
		return submission(det, sub)

	case challenge.KindRateLimit:
		if p.rateLimit == nil {
			return unsupported(det, MissingSolver(solvers.NameRateLimit))
		}
		plan, err := p.rateLimit.Plan(resp, svc.Recorder)
		if err != nil {
			return failed(det, p.rateLimit.Name(), err)
		}
		return mitigation(det, plan)

	case challenge.KindAccessDenied:
		if p.accessDenied == nil {
			return unsupported(det, MissingSolver(solvers.NameAccessDenied))
		}
		plan, err := p.accessDenied.Plan(resp, svc.ProxyPool, svc.CurrentProxy)
		if err != nil {
			return failed(det, p.accessDenied.Name(), err)
		}
		return mitigation(det, plan)

	case challenge.KindBotManagement:
		if p.botManagement == nil {
			return unsupported(det, MissingSolver(solvers.NameBotManagement))
		}
		plan, err := p.botManagement.Plan(resp, svc.Fingerprint, svc.TLS, svc.Recorder)
		if err != nil {
			return failed(det, p.botManagement.Name(), err)
		}
		return mitigation(det, plan)
	}

	return unsupported(det, UnknownChallenge())
}

// RecordOutcome feeds a solve outcome back into the detector's learned
// pattern stats.
func (p *Pipeline) RecordOutcome(patternID string, success bool) {
	p.detector.LearnOutcome(patternID, success)
}

func submission(det *detector.Detection, sub *challenge.Submission) *Result {
	return &Result{Outcome: OutcomeSubmission, Detection: det, Submission: sub}
}

func mitigation(det *detector.Detection, plan *solvers.MitigationPlan) *Result {
	return &Result{Outcome: OutcomeMitigation, Detection: det, Plan: plan}
}

func unsupported(det *detector.Detection, reason UnsupportedReason) *Result {
	return &Result{Outcome: OutcomeUnsupported, Detection: det, Reason: reason}
}

func failed(det *detector.Detection, solver string, err error) *Result {
	return &Result{Outcome: OutcomeFailed, Detection: det, Err: &SolverError{Solver: solver, Err: err}}
}
