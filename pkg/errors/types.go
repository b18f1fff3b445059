// Package errors provides coded errors that carry context and a call stack
// and map onto HTTP statuses at the API edge.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"
)

// Error is a coded testfleet error.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
	Retryable  bool
}

// Frame is one caller in Error.Stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates an error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Stack: callers(3)}
}

// Wrap attaches a code and message to err. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err, Stack: callers(3)}
}

// WithContext records a key/value shown in Error() and API responses.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with context keys sorted.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if len(e.Context) > 0 {
		b.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", k, e.Context[k])
		}
		b.WriteByte('}')
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// StackTrace renders the captured stack one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	b.WriteString("stack:\n")
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s\n    %s:%d\n", f.Function, f.File, f.Line)
	}
	return b.String()
}

// callers skips runtime.Callers, callers itself and the constructor.
func callers(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]Frame, 0, n)
	for {
		f, more := frames.Next()
		out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			return out
		}
	}
}

func as(err error) (*Error, bool) {
	var fleetErr *Error
	ok := stderrors.As(err, &fleetErr)
	return fleetErr, ok
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := as(err)
	return ok && e.Code == code
}

// GetCode returns err's code, INTERNAL for uncoded errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := as(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

func IsRetryable(err error) bool {
	e, ok := as(err)
	return ok && e.Retryable
}
