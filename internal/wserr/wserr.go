// Package wserr is the single error vocabulary of the realtime layer. Every
// failure that reaches a client is one of these codes; anything else is
// wrapped as Internal with a generic message before leaving the process.
package wserr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeConflict         Code = "CONFLICT"
	CodeInternal         Code = "INTERNAL"
)

type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func ValidationFailed(fields map[string]string) *Error {
	return &Error{Code: CodeValidationFailed, Message: "invalid payload", Fields: fields}
}

func RateLimited(message string) *Error {
	return &Error{Code: CodeRateLimited, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

// Internal hides the underlying cause from the client; callers log the cause
// themselves before or after wrapping.
func Internal() *Error {
	return &Error{Code: CodeInternal, Message: "internal error"}
}

// From returns err as a typed *Error, wrapping unknown errors as Internal.
// The second return reports whether the error was already typed.
func From(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return Internal(), false
}
