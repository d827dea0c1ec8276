package vm

import (
	"testing"

	"github.com/nooga/shapevm/pkg/errors"
)

func TestEnv_DeclarativeScopes(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	outer, err := rt.NewScope(Undefined, "x", "y")
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(outer)
	inner, err := rt.NewScope(outer, "x")
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(inner)

	if err := rt.SetBinding(outer, "x", IntegerValue(1), true); err != nil {
		t.Fatal(err)
	}
	if err := rt.SetBinding(inner, "x", IntegerValue(2), true); err != nil {
		t.Fatal(err)
	}
	if err := rt.SetBinding(inner, "y", IntegerValue(3), true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		env  Value
		name string
		want int32
	}{
		{outer, "x", 1},
		{inner, "x", 2},
		{inner, "y", 3},
		{outer, "y", 3},
	}
	for _, tt := range tests {
		v, err := rt.GetBinding(tt.env, tt.name)
		if err != nil {
			t.Fatalf("GetBinding(%s): %v", tt.name, err)
		}
		if !v.Is(IntegerValue(tt.want)) {
			t.Errorf("%s: expected %d, got %s", tt.name, tt.want, rt.Describe(v))
		}
	}

	ref, _ := rt.ResolveBinding(inner, "y")
	if ref.IsUnresolvable() || ref.IsPropertyRef() || ref.Slot() != 1 || ref.Holder() != outer.Ref() {
		t.Errorf("Expected a slot reference into the outer record, got %+v", ref)
	}
	if names := rt.ScopeNames(outer); !keysEqual(names, []string{"x", "y"}) {
		t.Errorf("Unexpected scope names %v", names)
	}
}

func TestEnv_WithScopeChecksMembershipEachTime(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DeclareGlobal("x", IntegerValue(2))
	scope := rt.OpenHandleScope()
	defer scope.Close()
	target := scope.Add(mustObject(t, rt))
	mustSet(t, rt, target, "x", IntegerValue(1))
	env, err := rt.PushWith(Undefined, target)
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(env)

	if v, _ := rt.GetBinding(env, "x"); !v.Is(IntegerValue(1)) {
		t.Errorf("Expected the scope object's x, got %s", rt.Describe(v))
	}
	if err := rt.SetBinding(env, "x", IntegerValue(10), true); err != nil {
		t.Fatal(err)
	}
	if v := mustGet(t, rt, target, "x"); !v.Is(IntegerValue(10)) {
		t.Errorf("Expected assignment to go to the scope object, got %s", rt.Describe(v))
	}

	if _, err := rt.Delete(target, "x"); err != nil {
		t.Fatal(err)
	}
	if v, _ := rt.GetBinding(env, "x"); !v.Is(IntegerValue(2)) {
		t.Errorf("Expected the global x once the property is gone, got %s", rt.Describe(v))
	}

	mustSet(t, rt, target, "x", IntegerValue(5))
	if v, _ := rt.GetBinding(env, "x"); !v.Is(IntegerValue(5)) {
		t.Errorf("Expected a property added later to shadow again, got %s", rt.Describe(v))
	}
}

func TestEnv_WithScopeSeesInheritedProperties(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	proto := scope.Add(mustObject(t, rt))
	mustSet(t, rt, proto, "inherited", True)
	target, err := rt.NewObject(proto)
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(target)
	env, err := rt.PushWith(Undefined, target)
	if err != nil {
		t.Fatal(err)
	}
	scope.Add(env)

	ref, err := rt.ResolveBinding(env, "inherited")
	if err != nil {
		t.Fatal(err)
	}
	if !ref.IsPropertyRef() || !ref.Base().Is(target) {
		t.Errorf("Expected a property reference on the scope object")
	}
}

func TestEnv_WithOverPrimitivesAndNullish(t *testing.T) {
	rt := newTestRuntime(t)
	env, err := rt.PushWith(Undefined, mustString(t, rt, "abc"))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := rt.GetBinding(env, "length"); !v.Is(IntegerValue(3)) {
		t.Errorf("Expected the boxed string's length, got %s", rt.Describe(v))
	}
	if _, err := rt.PushWith(Undefined, Null); errors.KindOf(err) != "Type" {
		t.Errorf("Expected with(null) to be a TypeError, got %v", err)
	}
}

func TestEnv_UnresolvableNames(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := rt.GetBinding(Undefined, "nope"); errors.KindOf(err) != "Reference" {
		t.Errorf("Expected a ReferenceError on read, got %v", err)
	}
	if err := rt.SetBinding(Undefined, "strictGlobal", True, true); errors.KindOf(err) != "Reference" {
		t.Errorf("Expected a ReferenceError in strict code, got %v", err)
	}
	if rt.HasOwn(rt.GlobalObject(), "strictGlobal") {
		t.Errorf("Expected strict assignment not to create a global")
	}

	if err := rt.SetBinding(Undefined, "sloppyGlobal", True, false); err != nil {
		t.Fatalf("Expected sloppy assignment to succeed, got %v", err)
	}
	if !rt.HasOwn(rt.GlobalObject(), "sloppyGlobal") {
		t.Errorf("Expected sloppy assignment to create a global property")
	}
	if v, _ := rt.GetBinding(rt.GlobalEnv(), "sloppyGlobal"); !v.Is(True) {
		t.Errorf("Expected the new global to resolve")
	}
}

func TestEnv_DeclareGlobal(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.DeclareGlobal("answer", IntegerValue(42)); err != nil {
		t.Fatal(err)
	}
	_, attrs, ok := rt.GetOwnProperty(rt.GlobalObject(), "answer")
	if !ok || attrs != AttrWritable|AttrEnumerable {
		t.Errorf("Expected a writable enumerable binding, got %s (ok=%v)", attrs, ok)
	}
	if ok, _ := rt.Delete(rt.GlobalObject(), "answer"); ok {
		t.Errorf("Expected a declared global not to be deletable")
	}
	if v, _ := rt.GetBinding(Undefined, "globalThis"); !v.Is(rt.GlobalObject()) {
		t.Errorf("Expected globalThis to be the global object")
	}
}

func TestEnv_ClosuresCaptureScope(t *testing.T) {
	rt := newTestRuntime(t)
	env, err := rt.NewScope(Undefined, "counter")
	if err != nil {
		t.Fatal(err)
	}
	rt.SetBinding(env, "counter", IntegerValue(0), true)
	inc, err := rt.NewClosure(&Code{
		Name: "inc",
		Body: func(fr *Frame) (Value, error) {
			v, err := fr.Runtime().GetBinding(fr.Env(), "counter")
			if err != nil {
				return Undefined, err
			}
			next := IntegerValue(v.AsInteger() + 1)
			return next, fr.Runtime().SetBinding(fr.Env(), "counter", next, true)
		},
	}, env)
	if err != nil {
		t.Fatal(err)
	}
	rt.DeclareGlobal("inc", inc)

	for i := 0; i < 3; i++ {
		if _, err := rt.Call(inc, Undefined); err != nil {
			t.Fatal(err)
		}
	}
	rt.CollectNow(0)
	if v, _ := rt.GetBinding(env, "counter"); !v.Is(IntegerValue(3)) {
		t.Errorf("Expected the captured binding to hold 3, got %s", rt.Describe(v))
	}
	if _, err := rt.NewClosure(&Code{Name: "bad", Body: func(*Frame) (Value, error) { return Undefined, nil }}, IntegerValue(1)); err == nil {
		t.Errorf("Expected a non-environment to be rejected")
	}
}
