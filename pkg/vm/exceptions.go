package vm

import (
	goerrors "errors"
	"fmt"

	"github.com/nooga/shapevm/pkg/errors"
)

// Exception carries a thrown script value through Go error returns.
type Exception struct {
	Value Value
	msg   string
}

func (e *Exception) Error() string { return "Uncaught " + e.msg }

// Throw wraps v as an exception error.
func (rt *Runtime) Throw(v Value) error {
	return &Exception{Value: v, msg: rt.describeThrown(v)}
}

func (rt *Runtime) describeThrown(v Value) string {
	if o := rt.objectOf(v); o != nil && o.class == "Error" {
		name, _ := rt.Get(v, "name")
		msg, _ := rt.Get(v, "message")
		n, _ := rt.StringOf(name)
		m, _ := rt.StringOf(msg)
		if m == "" {
			return n
		}
		return n + ": " + m
	}
	return rt.Describe(v)
}

// NewError creates an error object of the given kind ("Error", "TypeError",
// "ReferenceError", "RangeError" or "SyntaxError") with a message property.
func (rt *Runtime) NewError(kind, message string) (Value, error) {
	proto := rt.errorPrototype(kind)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	msg, err := rt.NewString(message)
	if err != nil {
		return Undefined, err
	}
	scope.Add(msg)
	obj, err := rt.NewObject(proto)
	if err != nil {
		return Undefined, err
	}
	rt.objectOf(obj).class = "Error"
	if err := rt.DefineProperty(obj, "message", msg, AttrHidden); err != nil {
		return Undefined, err
	}
	return obj, nil
}

func (rt *Runtime) errorPrototype(kind string) Value {
	switch kind {
	case "Type", "TypeError":
		return rt.realm.TypeErrorPrototype
	case "Reference", "ReferenceError":
		return rt.realm.ReferenceErrorPrototype
	case "Range", "RangeError":
		return rt.realm.RangeErrorPrototype
	case "Syntax", "SyntaxError":
		return rt.realm.SyntaxErrorPrototype
	default:
		return rt.realm.ErrorPrototype
	}
}

// ErrorValue converts an error into the script value a catch clause sees.
// Thrown values are returned as they are; ScriptErrors (including syntax
// errors reported by a parser) become error objects of the matching class.
// Fatal errors cannot be caught and are returned unchanged.
func (rt *Runtime) ErrorValue(err error) (Value, error) {
	var exc *Exception
	if goerrors.As(err, &exc) {
		return exc.Value, nil
	}
	if errors.IsFatal(err) {
		return Undefined, err
	}
	var se errors.ScriptError
	if goerrors.As(err, &se) {
		return rt.NewError(se.Kind(), se.Message())
	}
	return rt.NewError("Error", err.Error())
}

// CompletionKind is the type of a completion record.
type CompletionKind uint8

const (
	Normal CompletionKind = iota
	Return
	Break
	Continue
)

func (k CompletionKind) String() string {
	switch k {
	case Return:
		return "return"
	case Break:
		return "break"
	case Continue:
		return "continue"
	default:
		return "normal"
	}
}

// Completion is how a block finished when it did not throw.
type Completion struct {
	Kind   CompletionKind
	Value  Value
	Target string // label for break/continue
}

// NormalCompletion is a normal completion with an undefined value.
var NormalCompletion = Completion{Kind: Normal, Value: Undefined}

// IsAbrupt reports whether c transfers control.
func (c Completion) IsAbrupt() bool { return c.Kind != Normal }

// Block is a unit of host code participating in a try statement. A thrown
// exception is reported as a non-nil error.
type Block func() (Completion, error)

// Handler is a catch clause; it receives the caught value.
type Handler func(exc Value) (Completion, error)

// Try runs body, then handler if body threw, then finally. finally always
// runs once entered, also while an exception is propagating, and the
// pending exception stays reachable while it does. If finally throws or
// completes abruptly, that outcome replaces whatever was pending. Fatal
// errors skip both the handler and finally.
func (rt *Runtime) Try(body Block, handler Handler, finally Block) (Completion, error) {
	c, err := body()
	if err != nil && errors.IsFatal(err) {
		return c, err
	}
	if err != nil && handler != nil {
		exc, verr := rt.ErrorValue(err)
		if verr != nil {
			return Completion{}, verr
		}
		scope := rt.OpenHandleScope()
		scope.Add(exc)
		c, err = handler(exc)
		scope.Close()
		if err != nil && errors.IsFatal(err) {
			return c, err
		}
	}
	if finally == nil {
		return c, err
	}

	scope := rt.OpenHandleScope()
	defer scope.Close()
	var pending *Exception
	if goerrors.As(err, &pending) {
		scope.Add(pending.Value)
	}
	scope.Add(c.Value)
	fc, ferr := finally()
	if ferr != nil {
		return fc, ferr
	}
	if fc.IsAbrupt() {
		return fc, nil
	}
	return c, err
}

// Describe renders v for diagnostics without calling into script code.
func (rt *Runtime) Describe(v Value) string {
	switch v.typ {
	case TypeString:
		s, _ := rt.StringOf(v)
		return s
	case TypeObject:
		if o := rt.objectOf(v); o != nil {
			return fmt.Sprintf("#<%s>", o.class)
		}
		return "#<collected>"
	case TypeClosure:
		if c := rt.closureOf(v); c != nil {
			return "function " + c.code.String()
		}
		return "function <collected>"
	default:
		return v.primitiveString()
	}
}
