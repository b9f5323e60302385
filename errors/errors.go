package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error is a coded failure. The code decides how the MCP layer answers:
// input-category errors become text, INVALID_INPUT becomes -32602, the
// rest are tool errors.
type Error struct {
	code      ErrorCode
	msg       string
	cause     error
	processID string
	path      string
}

// Option sets optional context on an Error.
type Option func(*Error)

// WithProcessID ties the error to a supervised process.
func WithProcessID(id string) Option {
	return func(e *Error) { e.processID = id }
}

// WithPath records the task file involved.
func WithPath(path string) Option {
	return func(e *Error) { e.path = path }
}

// New creates an Error.
func New(code ErrorCode, msg string, opts ...Option) *Error {
	e := &Error{code: code, msg: msg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NotFound creates a NOT_FOUND error.
func NotFound(msg string, opts ...Option) *Error {
	return New(ErrCodeNotFound, msg, opts...)
}

// InvalidInput creates an INVALID_INPUT error.
func InvalidInput(msg string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, msg, opts...)
}

// Internal creates an INTERNAL error.
func Internal(msg string, opts ...Option) *Error {
	return New(ErrCodeInternal, msg, opts...)
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the error code.
func (e *Error) Code() ErrorCode { return e.code }

// Category returns the code's category.
func (e *Error) Category() ErrorCategory { return e.code.DefaultCategory() }

// Retryable reports whether the same call may succeed later.
func (e *Error) Retryable() bool { return e.Category().IsRetryable() }

// ProcessID returns the related process id, if any.
func (e *Error) ProcessID() string { return e.processID }

// Path returns the related task file, if any.
func (e *Error) Path() string { return e.path }

// Wrap adds msg to err. A coded err keeps its code and process id;
// context errors become CANCELED or TIMEOUT; anything else is INTERNAL.
// Wrap(nil, ...) is nil.
func Wrap(err error, msg string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	code := ErrCodeInternal
	var inner *Error
	switch {
	case errors.As(err, &inner):
		code = inner.code
		opts = append([]Option{WithProcessID(inner.processID), WithPath(inner.path)}, opts...)
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return WrapWithCode(err, code, msg, opts...)
}

// WrapWithCode adds msg and code to err. WrapWithCode(nil, ...) is nil.
func WrapWithCode(err error, code ErrorCode, msg string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	e := New(code, msg, opts...)
	e.cause = err
	return e
}

// AsCoded returns the first Error in err's chain, or nil.
func AsCoded(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return nil
}

// Is reports whether the first Error in err's chain has code.
func Is(err error, code ErrorCode) bool {
	coded := AsCoded(err)
	return coded != nil && coded.code == code
}

// IsInput reports whether err should reach the caller as plain text.
func IsInput(err error) bool {
	coded := AsCoded(err)
	return coded != nil && coded.Category() == CategoryInput
}

// RecoverPanic converts a recovered value into a PANIC error. A panic
// with an error value keeps it as the cause.
func RecoverPanic(recovered interface{}) *Error {
	switch v := recovered.(type) {
	case nil:
		return nil
	case error:
		return WrapWithCode(v, ErrCodePanic, "panic")
	case string:
		return New(ErrCodePanic, "panic: "+v)
	default:
		return New(ErrCodePanic, fmt.Sprintf("panic: %v", v))
	}
}
