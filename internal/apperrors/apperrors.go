// Package apperrors defines application error codes and their HTTP statuses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

// AppError is an error that knows how it should be shown to a user.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements error.
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status for the error code.
func (e *AppError) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error codes
const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidLogin      Code = "INVALID_LOGIN"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeDuplicateUsername Code = "DUPLICATE_USERNAME"
	CodeTooManyRequests   Code = "TOO_MANY_REQUESTS"
	CodeUpstream          Code = "UPSTREAM"
	CodeInternal          Code = "INTERNAL"
)

var messages = map[Code]string{
	CodeInvalidInput:      "invalid input",
	CodeInvalidLogin:      "Invalid login attempt.",
	CodeForbidden:         "Incorrect Secret",
	CodeNotFound:          "resource not found",
	CodeDuplicateUsername: "The username is already taken.",
	CodeTooManyRequests:   "Too many attempts, please wait a moment and try again.",
	CodeUpstream:          "GitLab could not be reached, please try again later.",
	CodeInternal:          "internal server issue, please try again",
}

var statusByCode = map[Code]int{
	CodeInvalidInput:      http.StatusBadRequest,
	CodeInvalidLogin:      http.StatusUnauthorized,
	CodeForbidden:         http.StatusForbidden,
	CodeNotFound:          http.StatusNotFound,
	CodeDuplicateUsername: http.StatusConflict,
	CodeTooManyRequests:   http.StatusTooManyRequests,
	CodeUpstream:          http.StatusBadGateway,
	CodeInternal:          http.StatusInternalServerError,
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = New(CodeNotFound)
	ErrInvalidLogin      = New(CodeInvalidLogin)
	ErrDuplicateUsername = New(CodeDuplicateUsername)
	ErrForbidden         = New(CodeForbidden)
	ErrTooManyRequests   = New(CodeTooManyRequests)
)

// New creates an AppError with the default message for code.
func New(code Code) *AppError {
	return &AppError{Code: code, Message: messageFor(code)}
}

// Newf creates an AppError with a custom message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code to err, keeping err reachable through errors.Unwrap.
func Wrap(code Code, err error) *AppError {
	return &AppError{Code: code, Message: messageFor(code), Err: err}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Status maps any error to an HTTP status. Non-application errors are 500.
func Status(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message for err. Non-application errors
// get the generic internal message so details never leak.
func Message(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Message
	}
	return messages[CodeInternal]
}

func messageFor(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[CodeInternal]
}
