package vm

import (
	"testing"

	"github.com/nooga/shapevm/pkg/errors"
)

func TestStringTable_Interning(t *testing.T) {
	rt := newTestRuntime(t)
	a := mustString(t, rt, "interned")
	b := mustString(t, rt, "interned")
	if a.Ref() != b.Ref() {
		t.Errorf("Expected equal content to share one entry, got %s and %s", a.Ref(), b.Ref())
	}
	c := mustString(t, rt, "different")
	if a.Ref() == c.Ref() || rt.StringsEqual(a, c) {
		t.Errorf("Expected different content to be distinct")
	}
	if !rt.StringsEqual(a, b) || !a.Is(b) {
		t.Errorf("Expected interned strings to compare equal")
	}
}

func TestStringTable_CollidingBuckets(t *testing.T) {
	rt := newTestRuntime(t)
	// A constant hash puts every string in one bucket; content still decides.
	rt.strings = newStringTable(func(string) uint64 { return 7 })
	scope := rt.OpenHandleScope()
	defer scope.Close()
	a := scope.Add(mustString(t, rt, "left"))
	b := scope.Add(mustString(t, rt, "right"))
	if a.Ref() == b.Ref() {
		t.Fatalf("Expected distinct entries despite equal hashes")
	}
	if again := mustString(t, rt, "right"); again.Ref() != b.Ref() {
		t.Errorf("Expected lookup to compare content within a bucket")
	}
	if rt.StringsEqual(a, b) {
		t.Errorf("Expected equal hashes with different content to be unequal")
	}
}

func TestStringHash_CoversWholeContent(t *testing.T) {
	rt := newTestRuntime(t)
	inputs := []string{"aaaabbbb", "aaaacccc", "aaaadddd", "aaaaeeee"}
	seen := make(map[uint64]string)
	for _, in := range inputs {
		h, err := rt.StringHash(mustString(t, rt, in))
		if err != nil {
			t.Fatalf("StringHash(%q): %v", in, err)
		}
		seen[h] = in
	}
	if len(seen) == 1 {
		t.Errorf("Expected strings sharing a prefix to hash differently")
	}
	h1, _ := rt.StringHash(mustString(t, rt, "stable"))
	h2, _ := rt.StringHash(mustString(t, rt, "stable"))
	if h1 != h2 || h1 != hashString("stable") {
		t.Errorf("Expected the cached hash to equal the content hash")
	}
}

func TestStringHash_RejectsNonStrings(t *testing.T) {
	rt := newTestRuntime(t)
	for _, v := range []Value{IntegerValue(1), Undefined, mustObject(t, rt)} {
		if _, err := rt.StringHash(v); errors.KindOf(err) != "Type" {
			t.Errorf("StringHash(%s): expected TypeError, got %v", v.TypeName(), err)
		}
	}
}
