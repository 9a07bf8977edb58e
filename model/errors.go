package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the provider adapters.
const (
	CodeRateLimit      = "rate_limit"
	CodeAuthentication = "authentication_error"
	CodeInvalidRequest = "invalid_request"
	CodeModelNotFound  = "model_not_found"
	CodeContextLength  = "context_length_exceeded"
	CodeContentFilter  = "content_filter"
	CodeServerError    = "server_error"
	CodeTimeout        = "timeout"
	CodeUnavailable    = "unavailable"
	CodeEmptyResponse  = "empty_response"
	CodeUnknown        = "unknown"
)

// ProviderError is a normalized failure returned by a provider adapter.
type ProviderError struct {
	Provider   string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Transient reports whether replaying the request may succeed.
func (e *ProviderError) Transient() bool { return e.Retryable }

// NewProviderError builds a ProviderError, deriving Retryable from code.
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryableCode(code),
		Cause:      cause,
	}
}

// CodeForStatus maps an HTTP status to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthentication
	case status == http.StatusNotFound:
		return CodeModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return CodeUnavailable
	case status >= 500:
		return CodeServerError
	case status >= 400:
		return CodeInvalidRequest
	default:
		return CodeUnknown
	}
}

// FromStatus wraps cause as a ProviderError classified by HTTP status.
func FromStatus(provider string, status int, cause error) *ProviderError {
	msg := http.StatusText(status)
	if cause != nil {
		msg = cause.Error()
	}
	return NewProviderError(provider, CodeForStatus(status), msg, status, cause)
}

// Wrap normalizes a transport-level error without status information.
// Context errors pass through unchanged so callers can detect cancellation.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return NewProviderError(provider, CodeUnavailable, err.Error(), 0, err)
}

// IsRetryable reports whether err is a transient provider failure. Errors that
// carry no provider classification are treated as retryable.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return err != nil
}

func retryableCode(code string) bool {
	switch code {
	case CodeRateLimit, CodeServerError, CodeTimeout, CodeUnavailable, CodeEmptyResponse:
		return true
	default:
		return false
	}
}
