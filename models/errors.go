package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used in run results, API responses and internal error handling.
const (
	ErrCodeTransientUI  = "TRANSIENT_UI"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeSessionInit  = "SESSION_INIT"
	ErrCodeMapping      = "MAPPING_FAILED"
	ErrCodeSink         = "SINK_FAILED"
	ErrCodeCanceled     = "CANCELED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the first ScrapeError in err's chain.
// Bare context errors map to CANCELED / TIMEOUT, anything else to INTERNAL_ERROR.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}

// IsRetryable reports whether a whole workflow attempt may be retried after err.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTransientUI, ErrCodeTimeout:
		return true
	}
	return false
}

// Categorize wraps a raw substrate error into a typed ScrapeError.
// Context cancellation is kept distinct so retry loops stop promptly.
func Categorize(err error, msg string) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.Canceled):
		return NewScrapeError(ErrCodeCanceled, "operation canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewScrapeError(ErrCodeTimeout, msg, err)
	default:
		return NewScrapeError(ErrCodeTransientUI, msg, err)
	}
}
