package vm

import (
	"testing"

	"github.com/nooga/shapevm/pkg/config"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	return newTestRuntimeWith(t, nil)
}

func newTestRuntimeWith(t *testing.T, mutate func(*config.Config)) *Runtime {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func mustObject(t *testing.T, rt *Runtime) Value {
	t.Helper()
	v, err := rt.NewPlainObject()
	if err != nil {
		t.Fatalf("NewPlainObject: %v", err)
	}
	return v
}

func mustString(t *testing.T, rt *Runtime, s string) Value {
	t.Helper()
	v, err := rt.NewString(s)
	if err != nil {
		t.Fatalf("NewString(%q): %v", s, err)
	}
	return v
}

func mustSet(t *testing.T, rt *Runtime, obj Value, name string, v Value) {
	t.Helper()
	if err := rt.SetProperty(obj, name, v, true); err != nil {
		t.Fatalf("Set %s: %v", name, err)
	}
}

func mustGet(t *testing.T, rt *Runtime, obj Value, name string) Value {
	t.Helper()
	v, err := rt.Get(obj, name)
	if err != nil {
		t.Fatalf("Get %s: %v", name, err)
	}
	return v
}

// constFunc returns a closure in the global environment that always returns n.
func constFunc(t *testing.T, rt *Runtime, name string, n int32) Value {
	t.Helper()
	return mustClosure(t, rt, &Code{
		Name: name,
		Size: 4,
		Body: func(fr *Frame) (Value, error) { return IntegerValue(n), nil },
	})
}

func mustClosure(t *testing.T, rt *Runtime, code *Code) Value {
	t.Helper()
	v, err := rt.NewClosure(code, Undefined)
	if err != nil {
		t.Fatalf("NewClosure: %v", err)
	}
	return v
}

func keysEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
