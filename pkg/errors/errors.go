// Package errors provides a fluent, stack-capturing error builder used for
// all synchronous request/control-plane errors. Execution-layer failures
// (task failure_reason) are a closed string enum, not this type — they are
// data on a Task row, not a Go error, and never leave the runner as one.
package errors

import (
	"fmt"
	"runtime"
)

// Error is a fluent, chainable error carrying a numeric code, a message, an
// optional wrapped error and the stack trace captured at construction time.
type Error struct {
	Code       int
	Message    string
	InnerError error
	Stack      string
}

// NewError returns a zero-value *Error with its stack trace already
// captured.
func NewError() *Error {
	return &Error{Stack: captureStack()}
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// WithCode sets the numeric error code and returns the receiver.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// WithMessage sets the error message and returns the receiver.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithMessagef sets a formatted error message and returns the receiver.
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// WithError wraps an inner error and returns the receiver.
func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// Unwrap allows errors.Is/errors.As to see through to the inner error.
func (e *Error) Unwrap() error {
	return e.InnerError
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.InnerError != nil {
		if e.Message != "" {
			return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.InnerError.Error())
		}
		return fmt.Sprintf("[%d] %s", e.Code, e.InnerError.Error())
	}
	if e.Message != "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("error code %d", e.Code)
}

// CodeOf extracts the numeric code from err if it is an *Error, returning
// InternalError otherwise.
func CodeOf(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return InternalError
}
