// Package errclass maps raw stage failures onto a fixed error taxonomy.
//
// Capabilities signal failure kinds with the marker types below (or with an
// HTTP-like StatusError); Classify reduces any raw error to a single Error
// carrying the category, the originating stage, and retryability. The mapping
// is deterministic: the same raw failure from the same stage always yields the
// same category.
package errclass

import (
	"context"
	"net"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/shpitdev/digestflow/pkg/pipeline/redact"
)

// Stage identifies the pipeline stage that raised a failure.
type Stage string

const (
	StageParse     Stage = "parse"
	StageFetch     Stage = "fetch"
	StageSummarize Stage = "summarize"
	StageNotify    Stage = "notify"
)

// Category is the failure taxonomy. Retryability and criticality derive
// strictly from the category, never from the individual error.
type Category string

const (
	CategoryInputValidation Category = "input_validation"
	CategoryAuthentication  Category = "authentication"
	CategoryConfiguration   Category = "configuration"
	CategoryNetwork         Category = "network"
	CategoryRateLimit       Category = "rate_limit"
	CategoryExternalService Category = "external_service"
	CategoryUnknown         Category = "unknown"
)

// Retryable reports whether failures in this category may be re-attempted.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryExternalService, CategoryUnknown:
		return true
	default:
		return false
	}
}

// Critical reports whether failures in this category represent a systemic
// condition (broken credentials, broken configuration) rather than a per-item
// content problem. Critical failures are escalated in addition to being
// recorded.
func (c Category) Critical() bool {
	return c == CategoryAuthentication || c == CategoryConfiguration
}

// Error is a classified stage failure. Exactly one is produced per failed
// work item per stage; it is immutable after creation.
type Error struct {
	Category Category
	Stage    Stage
	Attempts int

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "classified error"
	}
	msg := "unknown failure"
	if e.cause != nil {
		msg = redact.Secrets(e.cause.Error())
	}
	return string(e.Stage) + ": " + string(e.Category) + ": " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Retryable reports whether this failure may be re-attempted.
func (e *Error) Retryable() bool { return e.Category.Retryable() }

// Critical reports whether this failure should be escalated.
func (e *Error) Critical() bool { return e.Category.Critical() }

// ValidationError marks input that can never succeed (malformed payload,
// missing required field). Never retried.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	if e == nil || e.Err == nil {
		return "validation error"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthError marks rejected credentials (expired cookies, revoked API key).
// Never retried; escalated.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e == nil || e.Err == nil {
		return "authentication error"
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError marks broken run configuration (bad webhook URL, missing model
// name). Never retried; escalated.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	if e == nil || e.Err == nil {
		return "configuration error"
	}
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitError marks an explicit throttle signal from a downstream service.
// Retried with a longer backoff than ordinary transient failures.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	if e == nil || e.Err == nil {
		return "rate limited"
	}
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusError is a sanitized summary of a non-2xx HTTP response from a
// downstream service.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type StatusError struct {
	Op     string
	Code   int
	Status string

	// Snippet is a redacted, truncated hint from the response body.
	Snippet string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	parts := []string{"http error: op=" + strings.TrimSpace(e.Op), "status=" + strings.TrimSpace(e.Status)}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// NewStatusError builds a StatusError from a response, keeping only a small
// redacted body hint.
func NewStatusError(op string, code int, status string, body []byte) *StatusError {
	return &StatusError{
		Op:      op,
		Code:    code,
		Status:  status,
		Snippet: redact.Truncate(body, 256),
	}
}

// Classify reduces a raw stage failure to a classified Error. A nil input
// yields nil. An already-classified error passes through unchanged so that
// attempt bookkeeping set by the executor survives re-classification.
func Classify(err error, stage Stage) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{
		Category: categorize(err),
		Stage:    stage,
		Attempts: 1,
		cause:    err,
	}
}

// WithAttempts returns a copy of the classified error with the final attempt
// count recorded. Used by the executor on retry exhaustion.
func (e *Error) WithAttempts(attempts int) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Attempts = attempts
	return &cp
}

func categorize(err error) Category {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CategoryInputValidation
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return CategoryAuthentication
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return CategoryConfiguration
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return CategoryRateLimit
	}
	var se *StatusError
	if errors.As(err, &se) {
		return categorizeStatus(se.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

func categorizeStatus(code int) Category {
	switch {
	case code == 429:
		return CategoryRateLimit
	case code == 401 || code == 403:
		return CategoryAuthentication
	case code >= 400 && code < 500:
		return CategoryInputValidation
	case code >= 500:
		return CategoryExternalService
	default:
		return CategoryExternalService
	}
}
