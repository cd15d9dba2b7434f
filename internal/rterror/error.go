// Package rterror defines the error envelope reported to the control plane
// and the named errors raised by the runtime itself.
package rterror

import (
	"errors"
	"fmt"
	"runtime"
)

// Named runtime error types.
const (
	TypeInvalidStreamingOperation = "Runtime.InvalidStreamingOperation"
	TypeMalformedHandlerName      = "Runtime.MalformedHandlerName"
	TypeHandlerNotFound           = "Runtime.HandlerNotFound"
	TypeImportModuleError         = "Runtime.ImportModuleError"
	TypeUserCodeSyntaxError       = "Runtime.UserCodeSyntaxError"
	TypeUnhandledPromiseRejection = "Runtime.UnhandledPromiseRejection"
	TypeMalformedEventPayload     = "Runtime.MalformedEventPayload"
	TypeResponseSerialization     = "Runtime.ResponseSerializationError"
)

const maxStackDepth = 32

// Error is a typed runtime error: a required core (type, message, captured
// stack) plus an open set of extra fields flattened into the envelope.
type Error struct {
	Type    string
	Message string
	Fields  map[string]any

	cause error
	pcs   []uintptr
}

// New creates an Error of the given type, capturing the caller's stack.
func New(typ, message string) *Error {
	return &Error{Type: typ, Message: message, pcs: callers(3)}
}

// Newf is New with a formatted message.
func Newf(typ, format string, args ...any) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...), pcs: callers(3)}
}

// Wrap creates an Error of the given type whose message is err's.
func Wrap(typ string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: typ, Message: err.Error(), cause: err, pcs: callers(3)}
}

func (e *Error) Error() string {
	return e.Type + ": " + e.Message
}

// ErrorType implements the envelope's type lookup.
func (e *Error) ErrorType() string {
	return e.Type
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// With returns e after setting an extra field.
func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// StackTrace returns the program counters captured at construction.
func (e *Error) StackTrace() []uintptr {
	return e.pcs
}

// Trace renders the stack as "Type: message" followed by one "at" line per frame.
func (e *Error) Trace() []string {
	lines := []string{e.Error()}
	return append(lines, formatFrames(e.pcs)...)
}

// Is matches another *Error with the same type.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

func formatFrames(pcs []uintptr) []string {
	if len(pcs) == 0 {
		return nil
	}
	var lines []string
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		label := frame.Function
		if label == "" {
			label = "anonymous"
		}
		lines = append(lines, fmt.Sprintf("    at %s (%s:%d)", label, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return lines
}
