package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureKind is the exhaustive taxonomy of ways a provider call can fail.
// Callers switch on Kind rather than inspecting transport-level detail.
type FailureKind string

const (
	// Authentication covers 401/403 or equivalent invalid-credential responses.
	Authentication FailureKind = "authentication"
	// RateLimitExceeded covers 429 or provider-specific throttling.
	RateLimitExceeded FailureKind = "rate_limit_exceeded"
	// ContextLengthExceeded covers a request that overran the model's input window.
	ContextLengthExceeded FailureKind = "context_length_exceeded"
	// ServerError covers 5xx or other transient backend failures.
	ServerError FailureKind = "server_error"
	// RequestFailed covers 4xx responses not covered by a more specific kind.
	RequestFailed FailureKind = "request_failed"
	// UsageError marks a successful response whose usage block could not be
	// parsed. It is non-fatal: the caller may proceed with zero-value usage.
	UsageError FailureKind = "usage_error"
	// ExecutionError covers local failures: serialization, transport, or
	// other errors that never reached the provider.
	ExecutionError FailureKind = "execution_error"
)

// IsRetryable reports whether the adapter's own retry loop should attempt
// the call again. Only rate limiting is retried per the adapter's retry
// policy; every other kind surfaces unmodified to the caller.
func (k FailureKind) IsRetryable() bool {
	return k == RateLimitExceeded
}

// Error is a structured provider failure. It always carries a Kind so
// callers can branch without string matching, and wraps the underlying
// transport or decode error in Cause.
type Error struct {
	Kind      FailureKind
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a provider Error from a local cause (no HTTP status
// involved), classifying it from the cause's text.
func NewError(providerName, model string, cause error) *Error {
	return &Error{
		Provider: providerName,
		Model:    model,
		Cause:    cause,
		Kind:     classifyCause(cause),
	}
}

// WithStatus attaches an HTTP status code and reclassifies the error from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Kind = classifyStatus(status)
	return e
}

// WithCode attaches a provider-specific error code, reclassifying the error
// when the code maps to a more specific kind than the status code did.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if kind, ok := classifyCode(code); ok {
		e.Kind = kind
	}
	return e
}

// WithMessage overrides the human-readable message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithRequestID attaches the provider's request id for debugging.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

func classifyStatus(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Authentication
	case status == http.StatusTooManyRequests:
		return RateLimitExceeded
	case status == http.StatusRequestEntityTooLarge:
		return ContextLengthExceeded
	case status >= 500:
		return ServerError
	case status >= 400:
		return RequestFailed
	default:
		return ExecutionError
	}
}

func classifyCode(code string) (FailureKind, bool) {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return RateLimitExceeded, true
	case "authentication_error", "invalid_api_key":
		return Authentication, true
	case "context_length_exceeded", "string_above_max_length", "prompt_too_long":
		return ContextLengthExceeded, true
	case "server_error", "internal_error", "overloaded_error":
		return ServerError, true
	case "invalid_request_error":
		return RequestFailed, true
	default:
		return "", false
	}
}

// classifyCause heuristically classifies a local or transport error from
// its text, the same "detected from status+body heuristics" contract the
// context-length-exceeded kind requires when no status code is available.
func classifyCause(err error) FailureKind {
	if err == nil {
		return ExecutionError
	}
	text := strings.ToLower(err.Error())

	switch {
	case strings.Contains(text, "context length"),
		strings.Contains(text, "context_length_exceeded"),
		strings.Contains(text, "maximum context length"),
		strings.Contains(text, "prompt is too long"),
		strings.Contains(text, "too many tokens"):
		return ContextLengthExceeded
	case strings.Contains(text, "rate limit"), strings.Contains(text, "429"):
		return RateLimitExceeded
	case strings.Contains(text, "unauthorized"), strings.Contains(text, "invalid api key"), strings.Contains(text, "401"), strings.Contains(text, "403"):
		return Authentication
	case strings.Contains(text, "internal server"), strings.Contains(text, "502"), strings.Contains(text, "503"), strings.Contains(text, "504"):
		return ServerError
	default:
		return ExecutionError
	}
}

// As reports whether err (or anything it wraps) is a provider *Error,
// returning it for inspection.
func As(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// KindOf returns the FailureKind of err if it is (or wraps) a provider
// Error, otherwise it classifies err's text as a best-effort fallback.
func KindOf(err error) FailureKind {
	if perr, ok := As(err); ok {
		return perr.Kind
	}
	return classifyCause(err)
}
