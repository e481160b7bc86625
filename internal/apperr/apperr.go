package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an application error for propagation to callers. These map
// to HTTP statuses at the edge; none of them are auto-retried.
type Code string

const (
	CodeValidation     Code = "VALIDATION"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeForbidden      Code = "FORBIDDEN"
	CodeStateConflict  Code = "STATE_CONFLICT"
	CodeGatewayFailure Code = "EXTERNAL_GATEWAY_FAILURE"
	CodeInternal       Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(CodeForbidden, format, args...)
}

func StateConflict(format string, args ...any) *Error {
	return New(CodeStateConflict, format, args...)
}

func GatewayFailure(format string, args ...any) *Error {
	return New(CodeGatewayFailure, format, args...)
}

// CodeOf extracts the code from an error chain; unknown errors are INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message for an error chain. Gateway and
// internal failures surface a generic message so no upstream details leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeGatewayFailure:
			return "payment gateway error"
		case CodeInternal:
			return "internal error"
		}
		return e.Message
	}
	return "internal error"
}
