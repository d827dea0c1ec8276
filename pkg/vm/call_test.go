package vm

import (
	"testing"

	"github.com/nooga/shapevm/pkg/errors"
)

func sumArgs(fr *Frame) (Value, error) {
	total := 0.0
	for _, a := range fr.Args() {
		total += a.ToFloat()
	}
	return NumberValue(total), nil
}

func TestCall_MaxDepth(t *testing.T) {
	rt := newTestRuntime(t)
	rt.SetMaxDepth(16)
	deepest := 0
	rec := mustClosure(t, rt, &Code{
		Name: "rec",
		Body: func(fr *Frame) (Value, error) {
			if d := fr.Runtime().Depth(); d > deepest {
				deepest = d
			}
			return fr.Runtime().Call(fr.Callee(), Undefined)
		},
	})
	rt.DeclareGlobal("rec", rec)

	_, err := rt.Call(rec, Undefined)
	if errors.KindOf(err) != "Range" {
		t.Fatalf("Expected a RangeError, got %v", err)
	}
	if deepest != 16 {
		t.Errorf("Expected to reach depth 16, reached %d", deepest)
	}
	if rt.Depth() != 0 {
		t.Errorf("Expected every frame to be popped, depth %d", rt.Depth())
	}
}

func TestCall_NonCallable(t *testing.T) {
	rt := newTestRuntime(t)
	for _, v := range []Value{Undefined, Null, IntegerValue(3), mustObject(t, rt)} {
		if _, err := rt.Call(v, Undefined); errors.KindOf(err) != "Type" {
			t.Errorf("Call(%s): expected TypeError, got %v", v.TypeName(), err)
		}
	}
}

func TestCall_ReceiverAndArguments(t *testing.T) {
	rt := newTestRuntime(t)
	var seenThis Value
	var missing Value
	fn := mustClosure(t, rt, &Code{
		Name: "probe",
		Body: func(fr *Frame) (Value, error) {
			seenThis = fr.This()
			missing = fr.Arg(5)
			return IntegerValue(int32(len(fr.Args()))), nil
		},
	})
	rt.DeclareGlobal("probe", fn)
	v, err := rt.Call(fn, True, IntegerValue(1), IntegerValue(2))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Is(IntegerValue(2)) || !seenThis.Is(True) || !missing.IsUndefined() {
		t.Errorf("Unexpected call outcome %s this=%s missing=%s", rt.Describe(v), rt.Describe(seenThis), rt.Describe(missing))
	}
}

func TestApply_ArrayAndArrayLike(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	fn := scope.Add(mustClosure(t, rt, &Code{Name: "sum", Body: sumArgs}))

	arr, err := rt.NewArray(IntegerValue(1), IntegerValue(2), IntegerValue(3))
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(arr)
	if v, err := rt.Apply(fn, Undefined, arr); err != nil || !v.Is(IntegerValue(6)) {
		t.Errorf("Apply(array) = %s, %v", rt.Describe(v), err)
	}

	like := scope.Add(mustObject(t, rt))
	mustSet(t, rt, like, "length", IntegerValue(2))
	mustSet(t, rt, like, "0", IntegerValue(10))
	mustSet(t, rt, like, "1", IntegerValue(20))
	mustSet(t, rt, like, "2", IntegerValue(99))
	if v, err := rt.Apply(fn, Undefined, like); err != nil || !v.Is(IntegerValue(30)) {
		t.Errorf("Apply(array-like) = %s, %v", rt.Describe(v), err)
	}

	if v, err := rt.Apply(fn, Undefined, Undefined); err != nil || !v.Is(IntegerValue(0)) {
		t.Errorf("Apply(undefined) = %s, %v", rt.Describe(v), err)
	}
	if _, err := rt.Apply(fn, Undefined, IntegerValue(1)); errors.KindOf(err) != "Type" {
		t.Errorf("Expected a TypeError for a primitive argument list, got %v", err)
	}
}

func TestApply_ExposesArgumentsObject(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	var seen Value
	fn := scope.Add(mustClosure(t, rt, &Code{
		Name: "args",
		Body: func(fr *Frame) (Value, error) {
			seen = fr.ArgumentsObject()
			return Undefined, nil
		},
	}))
	arr, _ := rt.NewArray(IntegerValue(1))
	scope.Add(arr)
	if _, err := rt.Apply(fn, Undefined, arr); err != nil {
		t.Fatal(err)
	}
	if !seen.Is(arr) {
		t.Errorf("Expected the frame to carry the applied array")
	}
	if _, err := rt.Call(fn, Undefined); err != nil {
		t.Fatal(err)
	}
	if !seen.IsUndefined() {
		t.Errorf("Expected no arguments object for a plain call")
	}
}

func TestFrame_LocalsAreRoots(t *testing.T) {
	rt := newTestRuntime(t)
	var kept Value
	fn := mustClosure(t, rt, &Code{
		Name:   "locals",
		Locals: 1,
		Body: func(fr *Frame) (Value, error) {
			rt := fr.Runtime()
			v, err := rt.NewPlainObject()
			if err != nil {
				return Undefined, err
			}
			fr.SetLocal(0, v)
			kept = v
			rt.CollectNow(0)
			if !rt.Heap().Alive(v.Ref()) {
				return False, nil
			}
			return BooleanValue(fr.Local(0).Is(v)), nil
		},
	})
	rt.DeclareGlobal("locals", fn)
	v, err := rt.Call(fn, Undefined)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Is(True) {
		t.Errorf("Expected the local to survive a collection inside the call")
	}
	rt.CollectNow(0)
	if rt.Heap().Alive(kept.Ref()) {
		t.Errorf("Expected the local to die with its frame")
	}
}
