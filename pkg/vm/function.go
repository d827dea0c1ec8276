package vm

import (
	"fmt"
)

// NativeFunc is the body of a function. The frame gives access to the
// receiver, arguments, locals and the closure's environment.
type NativeFunc func(fr *Frame) (Value, error)

// Code is the immutable, shareable part of a function: what the external
// compiler would emit for one function literal.
type Code struct {
	Name   string
	Arity  int
	Locals int // number of local slots in each frame
	Body   NativeFunc

	// Size is the body's weight for inlining decisions (instruction count,
	// for code produced by a compiler).
	Size     int
	NoInline bool
	Strict   bool
}

func (c *Code) String() string {
	if c.Name == "" {
		return "<anonymous>"
	}
	return c.Name
}

// Closure pairs code with the environment it captured. Its identity is its
// heap reference: two closures over the same Code are distinct callees.
type Closure struct {
	Object
	code *Code
	env  Value
}

func (c *Closure) kind() EntryKind { return EntryClosure }

func (c *Closure) trace(m *marker) {
	c.Object.trace(m)
	m.value(c.env)
}

func (c *Closure) Code() *Code { return c.code }
func (c *Closure) Env() Value  { return c.env }

// NewClosure creates a function value over code capturing env. An undefined
// env captures the global environment.
func (rt *Runtime) NewClosure(code *Code, env Value) (Value, error) {
	if code == nil || code.Body == nil {
		return Undefined, fmt.Errorf("shapevm: closure without a body")
	}
	if env.IsUndefined() {
		env = rt.realm.GlobalEnv
	} else if env.typ != typeEnv {
		return Undefined, fmt.Errorf("shapevm: closure environment must be an environment record, got %s", env.typ)
	}
	c := &Closure{
		Object: *rt.newPlainObject(rt.realm.FunctionPrototype, "Function"),
		code:   code,
		env:    env,
	}
	r, err := rt.allocate(c, closureBaseSize+objectBaseSize)
	if err != nil {
		return Undefined, err
	}
	return heapValue(TypeClosure, r), nil
}

// NewNativeFunction is NewClosure over a fresh Code in the global environment.
func (rt *Runtime) NewNativeFunction(name string, arity int, body NativeFunc) (Value, error) {
	return rt.NewClosure(&Code{Name: name, Arity: arity, Body: body, NoInline: true}, Undefined)
}

// closureOf resolves a callable value.
func (rt *Runtime) closureOf(v Value) *Closure {
	if v.typ != TypeClosure {
		return nil
	}
	c, _ := rt.heap.entry(v.ref()).(*Closure)
	return c
}

// CodeOf returns the code of a callable value.
func (rt *Runtime) CodeOf(v Value) (*Code, bool) {
	if c := rt.closureOf(v); c != nil {
		return c.code, true
	}
	return nil, false
}
