// Package llmerrors classifies provider errors so the resilience middleware can decide what to
// retry and the generator boundary can collapse them into unavailable or timeout outcomes.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorType represents different categories of LLM errors for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable is emitted after retries are exhausted or the breaker is open.
	ErrorTypeServiceUnavailable
	// ErrorTypeTimeout represents a call that exceeded its deadline.
	ErrorTypeTimeout
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// RetryConfig defines exponential backoff configuration for each error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryConfigs holds per-type backoff. Types with zero MaxRetries are never retried.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeEmptyResponse:      {MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeRateLimit:          {MaxRetries: 3, InitialDelay: 1 * time.Second, MaxDelay: 20 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeTransient:          {MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeUnknown:            {MaxRetries: 1, InitialDelay: 1 * time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeAuth:               {BackoffFactor: 1.0},
	ErrorTypeBadPrompt:          {BackoffFactor: 1.0},
	ErrorTypeTimeout:            {BackoffFactor: 1.0},
	ErrorTypeServiceUnavailable: {BackoffFactor: 1.0},
}

// Error represents a classified LLM error with retry metadata.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	BodyStub   string    // First portion of response body
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried.
// Everything is retryable unless explicitly listed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable, ErrorTypeTimeout:
		return false
	default:
		return true
	}
}

// GetRetryConfig returns the retry configuration for this error type.
func (e *Error) GetRetryConfig() RetryConfig {
	if config, exists := DefaultRetryConfigs[e.Type]; exists {
		return config
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// IsServiceUnavailable reports persistent unavailability (retries exhausted or breaker open).
func IsServiceUnavailable(err error) bool {
	return Is(err, ErrorTypeServiceUnavailable)
}

// NewServiceUnavailableError wraps the last error after retries have been exhausted.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d retry attempts", attempts),
	}
}

// IsTimeout reports whether err is a deadline overrun, classified or raw.
func IsTimeout(err error) bool {
	return Is(err, ErrorTypeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

var statusCodePattern = regexp.MustCompile(`\b([45]\d{2})\b`)

// ExtractStatusCode pulls the first 4xx/5xx code out of an error message, or 0.
func ExtractStatusCode(msg string) int {
	m := statusCodePattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// Classify maps an arbitrary provider error onto the taxonomy. Already classified errors pass through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTimeout, err, "request deadline exceeded")
	}

	msg := strings.ToLower(err.Error())
	code := ExtractStatusCode(msg)
	switch {
	case code == 429 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return &Error{Type: ErrorTypeRateLimit, Err: err, StatusCode: code, Message: err.Error()}
	case code == 401 || code == 403 || strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"):
		return &Error{Type: ErrorTypeAuth, Err: err, StatusCode: code, Message: err.Error()}
	case code == 400 || code == 413 || code == 422 || strings.Contains(msg, "context length"):
		return &Error{Type: ErrorTypeBadPrompt, Err: err, StatusCode: code, Message: err.Error()}
	case code >= 500 || strings.Contains(msg, "eof") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "overloaded"):
		return &Error{Type: ErrorTypeTransient, Err: err, StatusCode: code, Message: err.Error()}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return &Error{Type: ErrorTypeTimeout, Err: err, StatusCode: code, Message: err.Error()}
	default:
		return &Error{Type: ErrorTypeUnknown, Err: err, StatusCode: code, Message: err.Error()}
	}
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// Large prompts are reduced to first/last portions plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	first := prompt[:halfMax]
	last := prompt[len(prompt)-halfMax:]
	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s", first, len(prompt), hashStr, last)
}
