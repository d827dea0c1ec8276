package errors

import (
	goerrors "errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  ScriptError
		want string
	}{
		{"type without position", NewTypeError("x is not a function"), "TypeError: x is not a function"},
		{"syntax with position", &SyntaxError{Position: Position{Line: 3, Column: 7}, Msg: "unexpected token"}, "Syntax Error at 3:7: unexpected token"},
		{"reference", NewReferenceError("%s is not defined", "q"), "ReferenceError: q is not defined"},
		{"range", NewRangeError("Maximum call stack size exceeded"), "RangeError: Maximum call stack size exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	oom := (&RuntimeError{Msg: "out of memory", Fatal: true}).CausedBy(ErrHeapExhausted)
	wrapped := fmt.Errorf("allocating object: %w", oom)

	if !IsFatal(wrapped) {
		t.Errorf("expected wrapped OOM to be fatal")
	}
	if !goerrors.Is(wrapped, ErrHeapExhausted) {
		t.Errorf("expected errors.Is to reach ErrHeapExhausted")
	}
	if IsFatal(NewTypeError("nope")) {
		t.Errorf("TypeError must not be fatal")
	}
	if got := KindOf(wrapped); got != "Runtime" {
		t.Errorf("KindOf = %q, want Runtime", got)
	}
}
