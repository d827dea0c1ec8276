package vm

import (
	"testing"

	"github.com/nooga/shapevm/pkg/config"
	"github.com/nooga/shapevm/pkg/errors"
)

func TestObject_ForInFollowsInsertionOrder(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	for i, name := range []string{"c", "a", "b"} {
		mustSet(t, rt, obj, name, IntegerValue(int32(i)))
	}
	keys, err := rt.ForIn(obj)
	if err != nil {
		t.Fatalf("ForIn: %v", err)
	}
	if !keysEqual(keys, []string{"c", "a", "b"}) {
		t.Errorf("Expected [c a b], got %v", keys)
	}
}

func TestObject_IntegerKeysComeFirst(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	for _, name := range []string{"b", "10", "a", "2"} {
		mustSet(t, rt, obj, name, True)
	}
	keys, _ := rt.OwnKeys(obj, false)
	if !keysEqual(keys, []string{"2", "10", "b", "a"}) {
		t.Errorf("Expected [2 10 b a], got %v", keys)
	}
}

func TestObject_NonEnumerableIsReadableButHidden(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	mustSet(t, rt, obj, "shown", IntegerValue(1))
	if err := rt.DefineProperty(obj, "hidden", IntegerValue(2), AttrHidden); err != nil {
		t.Fatalf("DefineProperty: %v", err)
	}

	if v := mustGet(t, rt, obj, "hidden"); !v.Is(IntegerValue(2)) {
		t.Errorf("Expected hidden == 2, got %s", rt.Describe(v))
	}
	keys, _ := rt.OwnKeys(obj, false)
	if !keysEqual(keys, []string{"shown"}) {
		t.Errorf("Expected enumerable keys [shown], got %v", keys)
	}
	all, _ := rt.OwnKeys(obj, true)
	if !keysEqual(all, []string{"shown", "hidden"}) {
		t.Errorf("Expected all keys [shown hidden], got %v", all)
	}
	forIn, _ := rt.ForIn(obj)
	if !keysEqual(forIn, []string{"shown"}) {
		t.Errorf("Expected for-in keys [shown], got %v", forIn)
	}
}

func TestObject_ForInShadowing(t *testing.T) {
	rt := newTestRuntime(t)
	proto := mustObject(t, rt)
	rt.DeclareGlobal("proto", proto)
	mustSet(t, rt, proto, "x", IntegerValue(1))
	mustSet(t, rt, proto, "y", IntegerValue(2))

	obj, err := rt.NewObject(proto)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.DefineProperty(obj, "x", IntegerValue(3), AttrHidden); err != nil {
		t.Fatal(err)
	}
	mustSet(t, rt, obj, "z", IntegerValue(4))

	keys, _ := rt.ForIn(obj)
	if !keysEqual(keys, []string{"z", "y"}) {
		t.Errorf("Expected [z y] (x shadowed by a non-enumerable own property), got %v", keys)
	}
}

func TestObject_DeleteLastPropertyMovesToParent(t *testing.T) {
	rt := newTestRuntime(t)
	a := mustObject(t, rt)
	mustSet(t, rt, a, "p", IntegerValue(1))
	onlyP := rt.Object(a).Shape()
	mustSet(t, rt, a, "q", IntegerValue(2))

	ok, err := rt.Delete(a, "q")
	if !ok || err != nil {
		t.Fatalf("Delete: %v %v", ok, err)
	}
	if got := rt.Object(a).Shape(); got != onlyP {
		t.Errorf("Expected shape %s after deleting the last property, got %s", onlyP, got)
	}
	if rt.HasOwn(a, "q") {
		t.Errorf("Expected q to be gone")
	}
}

func TestObject_DeleteMiddleReplaysExistingPath(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()

	full := scope.Add(mustObject(t, rt))
	for i, n := range []string{"m1", "m2", "m3"} {
		mustSet(t, rt, full, n, IntegerValue(int32(i+1)))
	}
	other := scope.Add(mustObject(t, rt))
	mustSet(t, rt, other, "m1", IntegerValue(10))
	mustSet(t, rt, other, "m3", IntegerValue(30))

	if _, err := rt.Delete(full, "m2"); err != nil {
		t.Fatal(err)
	}
	o := rt.Object(full)
	if o.IsDictionary() {
		t.Fatalf("Expected the object to stay in shape mode")
	}
	if o.Shape() != rt.Object(other).Shape() {
		t.Errorf("Expected the shape of {m1, m3}")
	}
	if v := mustGet(t, rt, full, "m3"); !v.Is(IntegerValue(3)) {
		t.Errorf("Expected m3 == 3 after slot shift, got %s", rt.Describe(v))
	}
}

func TestObject_DeleteWithoutPathUsesDictionaryForThatObject(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()

	victim := scope.Add(mustObject(t, rt))
	twin := scope.Add(mustObject(t, rt))
	for _, obj := range []Value{victim, twin} {
		for i, n := range []string{"u1", "u2", "u3"} {
			mustSet(t, rt, obj, n, IntegerValue(int32(i+1)))
		}
	}
	shared := rt.Object(twin).Shape()

	if _, err := rt.Delete(victim, "u2"); err != nil {
		t.Fatal(err)
	}
	if !rt.Object(victim).IsDictionary() {
		t.Errorf("Expected the object to switch to dictionary mode")
	}
	if rt.Object(twin).IsDictionary() || rt.Object(twin).Shape() != shared {
		t.Errorf("Expected the other object with the same shape to be unaffected")
	}
	keys, _ := rt.OwnKeys(victim, false)
	if !keysEqual(keys, []string{"u1", "u3"}) {
		t.Errorf("Expected [u1 u3], got %v", keys)
	}
	if v := mustGet(t, rt, victim, "u3"); !v.Is(IntegerValue(3)) {
		t.Errorf("Expected u3 == 3, got %s", rt.Describe(v))
	}
	if rt.Stats().DictionaryObjects != 1 {
		t.Errorf("Expected 1 dictionary conversion, got %d", rt.Stats().DictionaryObjects)
	}
}

func TestObject_DictionaryThreshold(t *testing.T) {
	rt := newTestRuntimeWith(t, func(c *config.Config) { c.Shapes.DictionaryThreshold = 4 })
	obj := mustObject(t, rt)
	names := []string{"a", "b", "c", "d", "e", "f"}
	for i, n := range names {
		mustSet(t, rt, obj, n, IntegerValue(int32(i)))
	}
	if !rt.Object(obj).IsDictionary() {
		t.Fatalf("Expected dictionary mode past the threshold")
	}
	keys, _ := rt.OwnKeys(obj, false)
	if !keysEqual(keys, names) {
		t.Errorf("Expected %v, got %v", names, keys)
	}
	for i, n := range names {
		if v := mustGet(t, rt, obj, n); !v.Is(IntegerValue(int32(i))) {
			t.Errorf("Expected %s == %d, got %s", n, i, rt.Describe(v))
		}
	}
	mustSet(t, rt, obj, "c", IntegerValue(99))
	if v := mustGet(t, rt, obj, "c"); !v.Is(IntegerValue(99)) {
		t.Errorf("Expected overwrite in dictionary mode, got %s", rt.Describe(v))
	}
}

func TestObject_OverflowSlots(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	for i := 0; i < 12; i++ {
		mustSet(t, rt, obj, "k"+itoa(i), IntegerValue(int32(i*i)))
	}
	for i := 0; i < 12; i++ {
		if v := mustGet(t, rt, obj, "k"+itoa(i)); !v.Is(IntegerValue(int32(i * i))) {
			t.Errorf("k%d: expected %d, got %s", i, i*i, rt.Describe(v))
		}
	}
	if _, err := rt.Delete(obj, "k11"); err != nil {
		t.Fatal(err)
	}
	if rt.HasOwn(obj, "k11") || !rt.HasOwn(obj, "k10") {
		t.Errorf("Expected only k11 to be removed")
	}
}

func TestObject_CyclicPrototypeChainIsTypeError(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	a := scope.Add(mustObject(t, rt))
	b := scope.Add(mustObject(t, rt))
	// Bypass SetPrototypeOf, which refuses cycles.
	rt.Object(a).proto = b
	rt.Object(b).proto = a

	_, err := rt.Get(a, "missing")
	if errors.KindOf(err) != "Type" {
		t.Fatalf("Expected a TypeError, got %v", err)
	}
	if _, err := rt.ForIn(a); errors.KindOf(err) != "Type" {
		t.Errorf("Expected for-in over a cycle to fail with TypeError, got %v", err)
	}
}

func TestObject_SetPrototypeOfRejectsCycles(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	a := scope.Add(mustObject(t, rt))
	b := scope.Add(mustObject(t, rt))

	if err := rt.SetPrototypeOf(b, a); err != nil {
		t.Fatalf("SetPrototypeOf(b, a): %v", err)
	}
	if err := rt.SetPrototypeOf(a, b); errors.KindOf(err) != "Type" {
		t.Errorf("Expected a TypeError for a cycle, got %v", err)
	}
	if err := rt.SetPrototypeOf(a, a); errors.KindOf(err) != "Type" {
		t.Errorf("Expected a TypeError for a self-cycle, got %v", err)
	}
	if err := rt.SetPrototypeOf(a, IntegerValue(1)); errors.KindOf(err) != "Type" {
		t.Errorf("Expected a TypeError for a primitive prototype, got %v", err)
	}
	mustSet(t, rt, a, "inherited", True)
	if v := mustGet(t, rt, b, "inherited"); !v.Is(True) {
		t.Errorf("Expected b to inherit from a")
	}
}

func TestObject_StrictModeFailures(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	rt.DeclareGlobal("obj", obj)
	if err := rt.DefineProperty(obj, "fixed", IntegerValue(1), AttrEnumerable); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		op   func(strict bool) error
	}{
		{"write read-only", func(strict bool) error {
			return rt.SetProperty(obj, "fixed", IntegerValue(2), strict)
		}},
		{"delete non-configurable", func(strict bool) error {
			_, err := rt.DeleteProperty(obj, "fixed", strict)
			return err
		}},
		{"create on primitive", func(strict bool) error {
			return rt.SetProperty(IntegerValue(5), "x", True, strict)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(false); err != nil {
				t.Errorf("Expected sloppy mode to ignore the failure, got %v", err)
			}
			if err := tt.op(true); errors.KindOf(err) != "Type" {
				t.Errorf("Expected a TypeError in strict mode, got %v", err)
			}
		})
	}
	if v := mustGet(t, rt, obj, "fixed"); !v.Is(IntegerValue(1)) {
		t.Errorf("Expected fixed to keep its value, got %s", rt.Describe(v))
	}
}

func TestObject_PreventExtensions(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	mustSet(t, rt, obj, "a", IntegerValue(1))
	if err := rt.PreventExtensions(obj); err != nil {
		t.Fatal(err)
	}
	if err := rt.SetProperty(obj, "b", True, false); err != nil || rt.HasOwn(obj, "b") {
		t.Errorf("Expected sloppy add to be ignored, err=%v", err)
	}
	if err := rt.SetProperty(obj, "b", True, true); errors.KindOf(err) != "Type" {
		t.Errorf("Expected strict add to fail, got %v", err)
	}
	mustSet(t, rt, obj, "a", IntegerValue(2))
	if rt.IsExtensible(obj) {
		t.Errorf("Expected IsExtensible to be false")
	}
}

func TestObject_DefinePropertyNonConfigurable(t *testing.T) {
	rt := newTestRuntime(t)
	obj := mustObject(t, rt)
	if err := rt.DefineProperty(obj, "k", IntegerValue(1), AttrWritable|AttrEnumerable); err != nil {
		t.Fatal(err)
	}
	if err := rt.DefineProperty(obj, "k", IntegerValue(2), AttrWritable|AttrEnumerable); err != nil {
		t.Errorf("Expected a value change on a writable property to succeed, got %v", err)
	}
	if err := rt.DefineProperty(obj, "k", IntegerValue(2), AttrDefault); err == nil {
		t.Errorf("Expected making a non-configurable property configurable to fail")
	}
	if err := rt.DefineProperty(obj, "k", IntegerValue(2), AttrEnumerable); err != nil {
		t.Errorf("Expected writable -> read-only to succeed, got %v", err)
	}
	if err := rt.DefineProperty(obj, "k", IntegerValue(3), AttrEnumerable); err == nil {
		t.Errorf("Expected a value change on a read-only property to fail")
	}
}

func TestObject_NullishBase(t *testing.T) {
	rt := newTestRuntime(t)
	for _, base := range []Value{Undefined, Null} {
		if _, err := rt.Get(base, "x"); errors.KindOf(err) != "Type" {
			t.Errorf("Get on %s: expected TypeError, got %v", base.TypeName(), err)
		}
		if err := rt.Set(base, "x", True); errors.KindOf(err) != "Type" {
			t.Errorf("Set on %s: expected TypeError, got %v", base.TypeName(), err)
		}
	}
}

func TestObject_Arrays(t *testing.T) {
	rt := newTestRuntime(t)
	arr, err := rt.NewArray(IntegerValue(1), IntegerValue(2), IntegerValue(3))
	if err != nil {
		t.Fatal(err)
	}
	if v := mustGet(t, rt, arr, "length"); !v.Is(IntegerValue(3)) {
		t.Errorf("Expected length 3, got %s", rt.Describe(v))
	}
	mustSet(t, rt, arr, "5", IntegerValue(6))
	if v := mustGet(t, rt, arr, "length"); !v.Is(IntegerValue(6)) {
		t.Errorf("Expected length 6 after writing index 5, got %s", rt.Describe(v))
	}
	mustSet(t, rt, arr, "label", True)
	keys, _ := rt.OwnKeys(arr, false)
	if !keysEqual(keys, []string{"0", "1", "2", "3", "4", "5", "label"}) {
		t.Errorf("Unexpected keys %v", keys)
	}
	all, _ := rt.OwnKeys(arr, true)
	if all[6] != "length" {
		t.Errorf("Expected length after the indices, got %v", all)
	}
	mustSet(t, rt, arr, "length", IntegerValue(2))
	elems, _ := rt.ArrayElements(arr)
	if len(elems) != 2 {
		t.Errorf("Expected truncation to 2 elements, got %d", len(elems))
	}
	if err := rt.Set(arr, "length", NumberValue(-1)); errors.KindOf(err) != "Range" {
		t.Errorf("Expected RangeError for a negative length, got %v", err)
	}
}

func TestObject_StringPrimitiveProperties(t *testing.T) {
	rt := newTestRuntime(t)
	s := mustString(t, rt, "héllo")
	if v := mustGet(t, rt, s, "length"); !v.Is(IntegerValue(5)) {
		t.Errorf("Expected length 5, got %s", rt.Describe(v))
	}
	ch := mustGet(t, rt, s, "1")
	if got, _ := rt.StringOf(ch); got != "é" {
		t.Errorf("Expected \"é\", got %q", got)
	}
	if v := mustGet(t, rt, s, "9"); !v.IsUndefined() {
		t.Errorf("Expected undefined past the end, got %s", rt.Describe(v))
	}
	keys, _ := rt.ForIn(s)
	if !keysEqual(keys, []string{"0", "1", "2", "3", "4"}) {
		t.Errorf("Unexpected for-in keys %v", keys)
	}
}

func TestObject_AllocateWithShape(t *testing.T) {
	rt := newTestRuntime(t)
	g := rt.Shapes()
	shape := g.Root()
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		shape = g.Transition(shape, n, AttrDefault)
	}
	obj, err := rt.AllocateWithShape(shape, rt.Realm().ObjectPrototype)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Object(obj).Shape() != shape {
		t.Errorf("Expected the requested shape")
	}
	mustSet(t, rt, obj, "f", IntegerValue(6))
	if v := mustGet(t, rt, obj, "f"); !v.Is(IntegerValue(6)) {
		t.Errorf("Expected f == 6, got %s", rt.Describe(v))
	}
	if v := mustGet(t, rt, obj, "a"); !v.IsUndefined() {
		t.Errorf("Expected slots to start undefined")
	}
	if _, err := rt.AllocateWithShape(g.DictionaryShape(), Null); err == nil {
		t.Errorf("Expected the dictionary sentinel to be rejected")
	}
}

func TestObject_FunctionsCarryProperties(t *testing.T) {
	rt := newTestRuntime(t)
	fn := constFunc(t, rt, "f", 1)
	mustSet(t, rt, fn, "meta", IntegerValue(7))
	if v := mustGet(t, rt, fn, "meta"); !v.Is(IntegerValue(7)) {
		t.Errorf("Expected meta == 7, got %s", rt.Describe(v))
	}
	proto, _ := rt.GetPrototypeOf(fn)
	if !proto.Is(rt.Realm().FunctionPrototype) {
		t.Errorf("Expected Function.prototype")
	}
}
