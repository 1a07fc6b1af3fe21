// Package apperrors defines the machine error codes shared across the pipeline.
package apperrors

import (
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error code.
type Code string

const (
	ErrValidation     Code = "VALIDATION"
	ErrRateLimited    Code = "RATE_LIMITED"
	ErrUnsupportedOp  Code = "UNSUPPORTED_OPERATION"
	ErrExternal       Code = "EXTERNAL_SERVICE"
	ErrStorage        Code = "STORAGE"
	ErrPartialRecord  Code = "PARTIAL_RECORD"
	ErrSyncConflict   Code = "SYNC_CONFLICT"
	ErrCancelled      Code = "CANCELLED"
	ErrNotFound       Code = "NOT_FOUND"
	ErrInternal       Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	ErrValidation:    http.StatusBadRequest,
	ErrRateLimited:   http.StatusTooManyRequests,
	ErrUnsupportedOp: http.StatusNotImplemented,
	ErrExternal:      http.StatusBadGateway,
	ErrStorage:       http.StatusInternalServerError,
	ErrPartialRecord: http.StatusUnprocessableEntity,
	ErrSyncConflict:  http.StatusConflict,
	ErrCancelled:     http.StatusConflict,
	ErrNotFound:      http.StatusNotFound,
	ErrInternal:      http.StatusInternalServerError,
}

// AppError is the error type surfaced at component boundaries.
// Field is set for validation failures, RetryAfter for rate-limit rejections.
type AppError struct {
	Code       Code
	Message    string
	Field      string
	RetryAfter time.Duration
	Err        error
}

func (e *AppError) Error() string {
	if e == nil { return "<nil>" }
	if e.Field != "" { return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message) }
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus maps the code to an HTTP status for the API surface.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok { return s }
	return http.StatusInternalServerError
}

// Is lets errors.Is match on code alone.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code Code, msg string) *AppError { return &AppError{Code: code, Message: msg} }

func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps the cause reachable through errors.Unwrap.
func Wrap(code Code, msg string, err error) *AppError {
	return &AppError{Code: code, Message: msg, Err: err}
}

// Validation builds a VALIDATION error tied to a field name.
func Validation(field, msg string) *AppError {
	return &AppError{Code: ErrValidation, Message: msg, Field: field}
}

// RateLimited carries the back-off hint for the caller.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       ErrRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry in %.0fs", retryAfter.Seconds()),
		RetryAfter: retryAfter,
	}
}
