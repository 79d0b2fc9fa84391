// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"strconv"
	"time"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Challenge analysis errors
	ErrNotCloudflare         = errors.New("response was not served by cloudflare")
	ErrChallengeMismatch     = errors.New("response does not match the expected challenge type")
	ErrChallengeFormNotFound = errors.New("challenge form not found in response body")
	ErrChallengeFieldMissing = errors.New("challenge form is missing a required field")
	ErrDelayNotFound         = errors.New("challenge delay not found in response body")
	ErrMissingHost           = errors.New("response URL has no host")
	ErrInvalidFormAction     = errors.New("challenge form action is not a valid URL")
	ErrInvalidAnswer         = errors.New("challenge answer was rejected by the origin")
	ErrUnterminatedJSON      = errors.New("unterminated JSON object in challenge page")
	ErrUnsupportedChallenge  = errors.New("challenge type is not supported")

	// Interpreter errors
	ErrScriptTimeout  = errors.New("challenge script ran too long")
	ErrScriptNotFound = errors.New("no executable script found in challenge page")

	// Mitigation and retry errors
	ErrMaxAttemptsReached = errors.New("maximum challenge attempts reached")
	ErrRetryNotAdvised    = errors.New("mitigation plan advises against retrying")
	ErrProxyUnavailable   = errors.New("no proxy available for rotation")

	// Request errors
	ErrInvalidURL     = errors.New("invalid URL")
	ErrURLRequired    = errors.New("url is required")
	ErrPrivateAddress = errors.New("target host resolves to a private address")
	ErrScraperClosed  = errors.New("scraper is closed")

	// CAPTCHA solver errors
	ErrCaptchaSolverTimeout   = errors.New("captcha solver timed out")
	ErrCaptchaSolverRejected  = errors.New("captcha task was rejected")
	ErrCaptchaSolverBalance   = errors.New("insufficient solver balance")
	ErrCaptchaSitekeyNotFound = errors.New("turnstile sitekey not found")
	ErrCaptchaNoProviders     = errors.New("no captcha solver providers configured")
)

// ChallengeError provides detailed information about challenge failures.
// It implements the error interface and supports error unwrapping.
type ChallengeError struct {
	Type    string // Challenge kind: "javascript_v1", "turnstile", "rate_limit", ...
	URL     string // The URL where the error occurred
	Message string // Human-readable error message
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *ChallengeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// NewChallengeMismatchError creates an error for responses handed to the wrong solver.
func NewChallengeMismatchError(kind, url string) *ChallengeError {
	return &ChallengeError{
		Type:    kind,
		URL:     url,
		Message: "Response is not a Cloudflare " + kind + " challenge.",
		Err:     ErrChallengeMismatch,
	}
}

// NewUnsolvableChallengeError creates an error for unsolvable challenges.
func NewUnsolvableChallengeError(url string, reason string) *ChallengeError {
	return &ChallengeError{
		Type:    "unsolvable",
		URL:     url,
		Message: "Challenge could not be solved: " + reason,
		Err:     ErrUnsupportedChallenge,
	}
}

// NewMaxAttemptsError creates an error when the attempt limit is reached.
func NewMaxAttemptsError(url string, attempts int) *ChallengeError {
	return &ChallengeError{
		Type:    "max_attempts",
		URL:     url,
		Message: "Challenge remained unsolved after " + strconv.Itoa(attempts) + " attempts.",
		Err:     ErrMaxAttemptsReached,
	}
}

// ParseError reports a required token or field that could not be extracted
// from a challenge page.
type ParseError struct {
	Field   string // The missing field or token name
	Message string // Human-readable error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewMissingFieldError creates an error for challenge forms missing a hidden field.
func NewMissingFieldError(field string) *ParseError {
	return &ParseError{
		Field:   field,
		Message: "Challenge form is missing required field '" + field + "'.",
		Err:     ErrChallengeFieldMissing,
	}
}

// NewMissingTokenError creates an error for challenge pages missing an embedded token.
func NewMissingTokenError(token string) *ParseError {
	return &ParseError{
		Field:   token,
		Message: "Challenge page is missing required token '" + token + "'.",
		Err:     ErrChallengeFieldMissing,
	}
}

// MitigationError reports a mitigation plan that stopped the retry loop.
// Wait and NewProxy carry the final plan's advice so callers can schedule
// their own retry.
type MitigationError struct {
	Reason   string        // Machine-readable reason from the mitigation plan
	Attempts int           // Number of attempts made before giving up
	Wait     time.Duration // Wait the final plan asked for
	NewProxy string        // Proxy the final plan wanted to switch to
	Message  string        // Human-readable error message
	Err      error         // Underlying error
}

// Error implements the error interface.
func (e *MitigationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *MitigationError) Unwrap() error {
	return e.Err
}

// NewMitigationStopError creates an error for plans that advise against retrying.
func NewMitigationStopError(reason string, attempts int) *MitigationError {
	return &MitigationError{
		Reason:   reason,
		Attempts: attempts,
		Message:  "Mitigation advised to stop retrying: " + reason,
		Err:      ErrRetryNotAdvised,
	}
}

// NewRetriesExhaustedError creates an error for mitigation loops that ran
// out of attempts while the plan still wanted to retry.
func NewRetriesExhaustedError(reason string, attempts int, wait time.Duration, newProxy string) *MitigationError {
	return &MitigationError{
		Reason:   reason,
		Attempts: attempts,
		Wait:     wait,
		NewProxy: newProxy,
		Message:  "Mitigation required but retries exhausted after " + strconv.Itoa(attempts) + " attempts: " + reason,
		Err:      ErrMaxAttemptsReached,
	}
}

// CaptchaError provides detailed information about CAPTCHA solving failures.
// It implements the error interface and supports error unwrapping.
type CaptchaError struct {
	Provider string // Provider name: "2captcha", "capsolver"
	TaskID   string // Task ID from the provider (for debugging)
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *CaptchaError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CaptchaError) Unwrap() error {
	return e.Err
}

// NewCaptchaTimeoutError creates an error for CAPTCHA solve timeout.
func NewCaptchaTimeoutError(provider, taskID string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		TaskID:   taskID,
		Code:     "timeout",
		Message:  "CAPTCHA solving timed out waiting for solution from " + provider,
		Err:      ErrCaptchaSolverTimeout,
	}
}

// NewCaptchaRejectedError creates an error when CAPTCHA task is rejected.
func NewCaptchaRejectedError(provider, code, reason string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     code,
		Message:  "CAPTCHA task rejected by " + provider + ": " + reason,
		Err:      ErrCaptchaSolverRejected,
	}
}

// NewCaptchaBalanceError creates an error for insufficient balance.
func NewCaptchaBalanceError(provider string) *CaptchaError {
	return &CaptchaError{
		Provider: provider,
		Code:     "insufficient_balance",
		Message:  "Insufficient balance in " + provider + " account",
		Err:      ErrCaptchaSolverBalance,
	}
}
