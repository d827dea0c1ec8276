package vm

import (
	"fmt"

	"github.com/nooga/shapevm/pkg/errors"
)

type envKind uint8

const (
	envDeclarative envKind = iota
	envObject              // with-statement scope
	envGlobal
)

func (k envKind) String() string {
	switch k {
	case envObject:
		return "object"
	case envGlobal:
		return "global"
	default:
		return "declarative"
	}
}

// Environment is one link of a scope chain. Declarative records have names
// fixed at creation with positional slots; object and global records store
// their bindings as properties of object, and membership is checked on every
// resolution.
type Environment struct {
	scope  envKind
	parent Value // typeEnv, or Undefined for the global record
	names  []string
	slots  []Value
	object Value

	watched bool
}

func (e *Environment) kind() EntryKind { return EntryEnv }

func (e *Environment) trace(m *marker) {
	m.value(e.parent)
	for _, v := range e.slots {
		m.value(v)
	}
	m.value(e.object)
}

func (e *Environment) indexOf(name string) int {
	for i, n := range e.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (rt *Runtime) envOf(v Value) *Environment {
	if v.typ != typeEnv {
		return nil
	}
	e, _ := rt.heap.entry(v.ref()).(*Environment)
	return e
}

func (rt *Runtime) allocEnv(e *Environment) (Value, error) {
	size := envBaseSize + uint64(len(e.slots))*(valueSize+16)
	r, err := rt.allocate(e, size)
	if err != nil {
		return Undefined, err
	}
	return heapValue(typeEnv, r), nil
}

func (rt *Runtime) parentEnv(parent Value) (Value, error) {
	if parent.IsUndefined() {
		return rt.realm.GlobalEnv, nil
	}
	if rt.envOf(parent) == nil {
		return Undefined, fmt.Errorf("shapevm: %s is not an environment record", parent.TypeName())
	}
	return parent, nil
}

// GlobalEnv returns the global environment record, whose bindings are the
// properties of the global object.
func (rt *Runtime) GlobalEnv() Value { return rt.realm.GlobalEnv }

// GlobalObject returns the global object.
func (rt *Runtime) GlobalObject() Value { return rt.realm.GlobalObject }

// NewScope creates a declarative record below parent (Undefined for the
// global environment) with one Undefined slot per name.
func (rt *Runtime) NewScope(parent Value, names ...string) (Value, error) {
	parent, err := rt.parentEnv(parent)
	if err != nil {
		return Undefined, err
	}
	slots := make([]Value, len(names))
	for i := range slots {
		slots[i] = Undefined
	}
	return rt.allocEnv(&Environment{
		scope:  envDeclarative,
		parent: parent,
		names:  append([]string(nil), names...),
		slots:  slots,
		object: Undefined,
	})
}

// PushWith creates an object scope over obj below parent. Leaving the scope
// is continuing with parent again.
func (rt *Runtime) PushWith(parent, obj Value) (Value, error) {
	parent, err := rt.parentEnv(parent)
	if err != nil {
		return Undefined, err
	}
	scope := rt.OpenHandleScope()
	defer scope.Close()
	scope.Add(parent)
	scope.Add(obj)
	target, err := rt.ToObject(obj)
	if err != nil {
		return Undefined, err
	}
	return rt.allocEnv(&Environment{
		scope:  envObject,
		parent: parent,
		object: target,
	})
}

type referenceKind uint8

const (
	refUnresolvable referenceKind = iota
	refSlot
	refProperty
)

// Reference is the result of resolving a name: a declarative slot, a
// property of a scope object, or nothing.
type Reference struct {
	kind referenceKind
	name string
	env  Value // record holding the slot
	slot int
	base Value // scope object for property references
}

func (r Reference) Name() string         { return r.name }
func (r Reference) IsUnresolvable() bool { return r.kind == refUnresolvable }
func (r Reference) IsPropertyRef() bool  { return r.kind == refProperty }
func (r Reference) Base() Value          { return r.base }
func (r Reference) Slot() int            { return r.slot }

// Holder returns the heap reference owning the binding, or 0 when unresolved.
func (r Reference) Holder() Ref {
	switch r.kind {
	case refSlot:
		return r.env.ref()
	case refProperty:
		return r.base.ref()
	}
	return 0
}

// ResolveBinding walks env's chain from innermost to outermost: declarative
// slots, object scopes (own or inherited property of the scope object),
// enclosing records and finally the global object.
func (rt *Runtime) ResolveBinding(env Value, name string) (Reference, error) {
	if env.IsUndefined() {
		env = rt.realm.GlobalEnv
	}
	for cur := env; !cur.IsUndefined(); {
		e := rt.envOf(cur)
		if e == nil {
			return Reference{}, fmt.Errorf("shapevm: broken scope chain at %s", cur.ref())
		}
		switch e.scope {
		case envDeclarative:
			if i := e.indexOf(name); i >= 0 {
				return Reference{kind: refSlot, name: name, env: cur, slot: i, base: Undefined}, nil
			}
		case envObject, envGlobal:
			found, err := rt.Has(e.object, name)
			if err != nil {
				return Reference{}, err
			}
			if found {
				return Reference{kind: refProperty, name: name, env: cur, slot: -1, base: e.object}, nil
			}
		}
		cur = e.parent
	}
	return Reference{kind: refUnresolvable, name: name, env: Undefined, slot: -1, base: Undefined}, nil
}

// GetValue reads through a reference.
func (rt *Runtime) GetValue(ref Reference) (Value, error) {
	switch ref.kind {
	case refSlot:
		e := rt.envOf(ref.env)
		if e == nil {
			return Undefined, errors.NewReferenceError("%s is not defined", ref.name)
		}
		return e.slots[ref.slot], nil
	case refProperty:
		return rt.Get(ref.base, ref.name)
	}
	return Undefined, errors.NewReferenceError("%s is not defined", ref.name)
}

// PutValue writes through a reference. An unresolvable reference creates a
// global binding, or fails with a ReferenceError in strict code.
func (rt *Runtime) PutValue(ref Reference, v Value, strict bool) error {
	switch ref.kind {
	case refSlot:
		e := rt.envOf(ref.env)
		if e == nil {
			return errors.NewReferenceError("%s is not defined", ref.name)
		}
		e.slots[ref.slot] = v
		if e.watched {
			rt.jit.bindingChanged(ref.env.ref(), ref.name, v, false)
		}
		return nil
	case refProperty:
		return rt.SetProperty(ref.base, ref.name, v, strict)
	}
	if strict {
		return errors.NewReferenceError("%s is not defined", ref.name)
	}
	return rt.SetProperty(rt.realm.GlobalObject, ref.name, v, false)
}

// GetBinding resolves and reads name; unresolvable names are a ReferenceError.
func (rt *Runtime) GetBinding(env Value, name string) (Value, error) {
	ref, err := rt.ResolveBinding(env, name)
	if err != nil {
		return Undefined, err
	}
	return rt.GetValue(ref)
}

// SetBinding resolves and assigns name.
func (rt *Runtime) SetBinding(env Value, name string, v Value, strict bool) error {
	ref, err := rt.ResolveBinding(env, name)
	if err != nil {
		return err
	}
	return rt.PutValue(ref, v, strict)
}

// DeclareGlobal creates (or overwrites) a global binding: an enumerable,
// writable property of the global object.
func (rt *Runtime) DeclareGlobal(name string, v Value) error {
	global := rt.realm.GlobalObject
	if rt.HasOwn(global, name) {
		return rt.SetProperty(global, name, v, true)
	}
	return rt.DefineProperty(global, name, v, AttrWritable|AttrEnumerable)
}

// ScopeNames returns the names of a declarative record.
func (rt *Runtime) ScopeNames(env Value) []string {
	if e := rt.envOf(env); e != nil {
		return append([]string(nil), e.names...)
	}
	return nil
}
