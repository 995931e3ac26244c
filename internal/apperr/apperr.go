// Package apperr is the error taxonomy shared by the service and HTTP layers.
// Services return *AppError for every failure a client should see; anything
// else reaching the HTTP layer is reported as Internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindConflict
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Machine-readable codes returned in the "error" field of responses.
const (
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeEmailAlreadyExists   = "EMAIL_ALREADY_EXISTS"
	CodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	CodeEmailAlreadyVerified = "EMAIL_ALREADY_VERIFIED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodePasswordMismatch     = "PASSWORD_MISMATCH"
	CodeWeakPassword         = "WEAK_PASSWORD"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidFile          = "INVALID_FILE"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError carries a kind, a client-safe code and message, and an optional
// cause that is only ever logged.
type AppError struct {
	Kind       Kind
	Code       string
	Message    string
	Details    []string
	RetryAfter int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails returns a copy of e carrying the given details.
func (e *AppError) WithDetails(details ...string) *AppError {
	cp := *e
	cp.Details = append([]string(nil), details...)
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

func New(kind Kind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

func BadRequest(code, message string, details ...string) *AppError {
	return &AppError{Kind: KindBadRequest, Code: code, Message: message, Details: details}
}

func Unauthorized(code, message string) *AppError {
	return &AppError{Kind: KindUnauthorized, Code: code, Message: message}
}

func NotFound(code, message string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: message}
}

func Conflict(code, message string) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message}
}

// RateLimited is returned once a client exceeds its budget; retryAfter is in seconds.
func RateLimited(retryAfter int) *AppError {
	return &AppError{
		Kind:       KindTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
	}
}

// Internal hides cause behind a generic message.
func Internal(message string, cause error) *AppError {
	return &AppError{Kind: KindInternal, Code: CodeInternal, Message: message, Cause: cause}
}

// As extracts the *AppError from err's chain, or returns nil.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// IsKind reports whether err carries an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	ae := As(err)
	return ae != nil && ae.Kind == kind
}

// HasCode reports whether err carries an *AppError with the given code.
func HasCode(err error, code string) bool {
	ae := As(err)
	return ae != nil && ae.Code == code
}

// Wrap passes an *AppError through unchanged and turns anything else into Internal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if As(err) != nil {
		return err
	}
	return Internal(message, err)
}
