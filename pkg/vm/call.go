package vm

import (
	"github.com/nooga/shapevm/pkg/errors"
)

// MaxCallDepth bounds nested calls through Call, Apply and call sites.
const MaxCallDepth = 1024

// Frame is one activation. Everything reachable from a frame on the stack is
// a collector root: callee, receiver, arguments, the argument collection an
// apply-style call was made with, locals and the environment.
type Frame struct {
	rt     *Runtime
	callee Value
	this   Value
	args   []Value
	// argsObject is the array handed to Apply, kept alive until the call returns.
	argsObject Value
	locals     []Value
	env        Value
	code       *Code
	inlined    bool
}

func (fr *Frame) Runtime() *Runtime { return fr.rt }
func (fr *Frame) Callee() Value     { return fr.callee }
func (fr *Frame) This() Value       { return fr.this }
func (fr *Frame) Env() Value        { return fr.env }
func (fr *Frame) Code() *Code       { return fr.code }

// Inlined reports whether the frame runs a body substituted into a call site.
func (fr *Frame) Inlined() bool { return fr.inlined }

// Args returns the arguments; the slice is owned by the frame.
func (fr *Frame) Args() []Value { return fr.args }

// ArgumentsObject returns the collection passed to Apply, or Undefined.
func (fr *Frame) ArgumentsObject() Value { return fr.argsObject }

// Arg returns argument i, or Undefined when it was not passed.
func (fr *Frame) Arg(i int) Value {
	if i < 0 || i >= len(fr.args) {
		return Undefined
	}
	return fr.args[i]
}

func (fr *Frame) Local(i int) Value { return fr.locals[i] }

// SetLocal stores into a local slot, which roots v for the rest of the call.
func (fr *Frame) SetLocal(i int, v Value) { fr.locals[i] = v }

func (fr *Frame) trace(visit func(Value)) {
	visit(fr.callee)
	visit(fr.this)
	for _, v := range fr.args {
		visit(v)
	}
	visit(fr.argsObject)
	for _, v := range fr.locals {
		visit(v)
	}
	visit(fr.env)
}

// Depth returns the number of active frames.
func (rt *Runtime) Depth() int { return len(rt.frames) }

func (rt *Runtime) pushFrame(fr *Frame) error {
	if len(rt.frames) >= rt.maxDepth {
		return errors.NewRangeError("Maximum call stack size exceeded")
	}
	rt.frames = append(rt.frames, fr)
	return nil
}

func (rt *Runtime) popFrame() {
	n := len(rt.frames) - 1
	rt.frames[n] = nil
	rt.frames = rt.frames[:n]
}

// invoke runs code in a new frame over env.
func (rt *Runtime) invoke(callee Value, code *Code, env Value, this Value, args []Value, argsObject Value, inlined bool) (Value, error) {
	fr := &Frame{
		rt:         rt,
		callee:     callee,
		this:       this,
		args:       args,
		argsObject: argsObject,
		env:        env,
		code:       code,
		inlined:    inlined,
	}
	if code.Locals > 0 {
		fr.locals = make([]Value, code.Locals)
	}
	if err := rt.pushFrame(fr); err != nil {
		return Undefined, err
	}
	defer rt.popFrame()
	return code.Body(fr)
}

// Call invokes callee with an explicit receiver and arguments.
func (rt *Runtime) Call(callee, this Value, args ...Value) (Value, error) {
	if err := rt.GuardCallable(callee); err != nil {
		return Undefined, err
	}
	c := rt.closureOf(callee)
	rt.stats.calls++
	return rt.invoke(callee, c.code, c.env, this, append([]Value(nil), args...), Undefined, false)
}

// Apply invokes callee with the elements of argArray as arguments. The array
// stays reachable from the callee's frame until the call returns, so objects
// held only by it survive collections triggered inside the callee.
func (rt *Runtime) Apply(callee, this, argArray Value) (Value, error) {
	if err := rt.GuardCallable(callee); err != nil {
		return Undefined, err
	}
	c := rt.closureOf(callee)
	var args []Value
	if !argArray.IsNullish() {
		o := rt.objectOf(argArray)
		if o == nil {
			return Undefined, errors.NewTypeError("CreateListFromArrayLike called on non-object")
		}
		if o.isArray {
			args = append([]Value(nil), o.elements...)
		} else {
			n, err := rt.Get(argArray, "length")
			if err != nil {
				return Undefined, err
			}
			length := n.ToFloat()
			if length != length || length < 0 {
				length = 0
			}
			scope := rt.OpenHandleScope()
			defer scope.Close()
			for i := 0; i < int(length); i++ {
				v, err := rt.Get(argArray, itoa(i))
				if err != nil {
					return Undefined, err
				}
				args = append(args, scope.Add(v))
			}
		}
	}
	rt.stats.calls++
	return rt.invoke(callee, c.code, c.env, this, args, argArray, false)
}
