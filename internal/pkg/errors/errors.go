// Package errors provides the error taxonomy shared by the ingestion and
// archiving pipelines and their HTTP surface.
//
// Import Path: dsr.gov.ph/registry/internal/pkg/errors
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for common failure scenarios.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")

	// ErrParentMissing marks a write whose owning record (a member's
	// household) is not in active storage.
	ErrParentMissing = errors.New("parent record missing")
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "BATCH_NOT_FOUND").
	Code string `json:"code"`

	Message string `json:"message"`

	HTTPStatus int `json:"-"`

	// Params carries structured context, e.g. the batch id that was not found.
	Params map[string]interface{} `json:"params,omitempty"`

	FieldErrors []FieldError `json:"field_errors,omitempty"`

	Err error `json:"-"`
}

// FieldError describes a field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// WithFieldErrors attaches field-level errors to the AppError.
func (e *AppError) WithFieldErrors(fieldErrors []FieldError) *AppError {
	if e == nil || len(fieldErrors) == 0 {
		return e
	}
	e.FieldErrors = fieldErrors
	return e
}

func NotFound(code, message string) *AppError {
	return New(code, message, http.StatusNotFound)
}

func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

func Conflict(code, message string) *AppError {
	return New(code, message, http.StatusConflict)
}

func Internal(code, message string) *AppError {
	return New(code, message, http.StatusInternalServerError)
}

func Unavailable(code, message string) *AppError {
	return New(code, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// PostgreSQL error codes the stores translate.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgAdminShutdown        = "57P01"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation. The canonical store relies on it as the last-resort duplicate
// detector.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrAlreadyExists) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsTransient reports whether err is worth retrying: timeouts, dropped
// connections, serialization failures and an open circuit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrServiceUnavail) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections, pgAdminShutdown:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return pgconn.SafeToRetry(err)
}
