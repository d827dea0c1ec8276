package errors

import (
	goerrors "errors"
	"fmt"
)

// ScriptError is the interface implemented by all errors that can surface to
// managed code.
type ScriptError interface {
	error // Embed the standard error interface
	Pos() Position
	Kind() string // e.g., "Syntax", "Type", "Reference", "Range", "Runtime"
	// Message returns the specific error message without position info.
	Message() string
	Unwrap() error // For error wrapping support (errors.Is/As)
}

// ErrHeapExhausted is the cause carried by the fatal RuntimeError returned when
// an allocation cannot be satisfied even after a full collection.
var ErrHeapExhausted = goerrors.New("heap exhausted")

func format(kind string, pos Position, msg string) string {
	if pos.IsZero() {
		return fmt.Sprintf("%sError: %s", kind, msg)
	}
	return fmt.Sprintf("%s Error at %d:%d: %s", kind, pos.Line, pos.Column, msg)
}

// --- Concrete Error Types ---

// SyntaxError represents an error during lexing or parsing. The core never
// raises it, but it must be representable and catchable.
type SyntaxError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *SyntaxError) Error() string   { return format("Syntax", e.Position, e.Msg) }
func (e *SyntaxError) Pos() Position   { return e.Position }
func (e *SyntaxError) Kind() string    { return "Syntax" }
func (e *SyntaxError) Message() string { return e.Msg }
func (e *SyntaxError) Unwrap() error   { return e.Cause }
func (e *SyntaxError) CausedBy(cause error) *SyntaxError {
	e.Cause = cause
	return e
}

// TypeError covers invoking a non-callable, property access on null or
// undefined, failed object conversion and cyclic prototype chains.
type TypeError struct {
	Position
	Msg   string
	Cause error // Underlying cause, if any
}

func (e *TypeError) Error() string   { return format("Type", e.Position, e.Msg) }
func (e *TypeError) Pos() Position   { return e.Position }
func (e *TypeError) Kind() string    { return "Type" }
func (e *TypeError) Message() string { return e.Msg }
func (e *TypeError) Unwrap() error   { return e.Cause }
func (e *TypeError) CausedBy(cause error) *TypeError {
	e.Cause = cause
	return e
}

// ReferenceError is raised when reading, or strictly assigning, an
// unresolvable binding.
type ReferenceError struct {
	Position
	Msg   string
	Cause error
}

func (e *ReferenceError) Error() string   { return format("Reference", e.Position, e.Msg) }
func (e *ReferenceError) Pos() Position   { return e.Position }
func (e *ReferenceError) Kind() string    { return "Reference" }
func (e *ReferenceError) Message() string { return e.Msg }
func (e *ReferenceError) Unwrap() error   { return e.Cause }

// RangeError is raised when the call stack is exhausted.
type RangeError struct {
	Position
	Msg   string
	Cause error
}

func (e *RangeError) Error() string   { return format("Range", e.Position, e.Msg) }
func (e *RangeError) Pos() Position   { return e.Position }
func (e *RangeError) Kind() string    { return "Range" }
func (e *RangeError) Message() string { return e.Msg }
func (e *RangeError) Unwrap() error   { return e.Cause }

// RuntimeError represents an error during program execution that is not one of
// the catchable language error classes. Fatal runtime errors (heap exhaustion)
// are never delivered to catch or finally handlers.
type RuntimeError struct {
	Position
	Msg   string
	Fatal bool
	Cause error // Underlying cause, if any
}

func (e *RuntimeError) Error() string   { return format("Runtime", e.Position, e.Msg) }
func (e *RuntimeError) Pos() Position   { return e.Position }
func (e *RuntimeError) Kind() string    { return "Runtime" }
func (e *RuntimeError) Message() string { return e.Msg }
func (e *RuntimeError) Unwrap() error   { return e.Cause }
func (e *RuntimeError) CausedBy(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// --- Helpers ---

// NewTypeError formats a TypeError without position.
func NewTypeError(format string, args ...any) *TypeError {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// NewReferenceError formats a ReferenceError without position.
func NewReferenceError(format string, args ...any) *ReferenceError {
	return &ReferenceError{Msg: fmt.Sprintf(format, args...)}
}

// NewRangeError formats a RangeError without position.
func NewRangeError(format string, args ...any) *RangeError {
	return &RangeError{Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err (or anything it wraps) is a fatal RuntimeError.
func IsFatal(err error) bool {
	var rt *RuntimeError
	if goerrors.As(err, &rt) {
		return rt.Fatal
	}
	return false
}

// KindOf returns the Kind of the first ScriptError in err's chain, or "" if
// there is none.
func KindOf(err error) string {
	var se ScriptError
	if goerrors.As(err, &se) {
		return se.Kind()
	}
	return ""
}
