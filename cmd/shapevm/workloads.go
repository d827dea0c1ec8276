package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nooga/shapevm/pkg/vm"
)

// workload drives a runtime through one allocation or dispatch pattern.
type workload struct {
	name        string
	description string
	run         func(rt *vm.Runtime, iterations int) error
}

var workloads = []workload{
	{"churn", "allocation churn under a shrunk heap budget", runChurn},
	{"shapes", "shape transitions, deletes and cached property access", runShapes},
	{"hotcall", "hot call site with a mid-run redefinition", runHotCall},
}

func findWorkloads(list string) ([]workload, error) {
	if list == "" || list == "all" {
		return workloads, nil
	}
	var out []workload
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		found := false
		for _, w := range workloads {
			if w.name == name {
				out = append(out, w)
				found = true
				break
			}
		}
		if !found {
			names := make([]string, len(workloads))
			for i, w := range workloads {
				names[i] = w.name
			}
			sort.Strings(names)
			return nil, fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(names, ", "))
		}
	}
	return out, nil
}

// runChurn allocates short-lived objects and strings while a small ring of
// survivors stays reachable from a global.
func runChurn(rt *vm.Runtime, iterations int) error {
	const ringSize = 32
	ring, err := rt.NewPlainObject()
	if err != nil {
		return err
	}
	if err := rt.DeclareGlobal("ring", ring); err != nil {
		return err
	}
	rt.ShrinkHeap(64 * 1024)
	for i := 0; i < iterations; i++ {
		scope := rt.OpenHandleScope()
		obj, err := rt.NewPlainObject()
		if err != nil {
			scope.Close()
			return err
		}
		scope.Add(obj)
		label, err := rt.NewString(fmt.Sprintf("item-%d", i))
		if err != nil {
			scope.Close()
			return err
		}
		if err := rt.SetProperty(obj, "label", label, true); err != nil {
			scope.Close()
			return err
		}
		if err := rt.SetProperty(obj, "index", vm.IntegerValue(int32(i)), true); err != nil {
			scope.Close()
			return err
		}
		if i%16 == 0 {
			if err := rt.SetProperty(ring, fmt.Sprintf("slot%d", (i/16)%ringSize), obj, true); err != nil {
				scope.Close()
				return err
			}
		}
		scope.Close()
	}
	return nil
}

// runShapes builds objects along a few property orders, deletes from some of
// them and reads them back through get sites.
func runShapes(rt *vm.Runtime, iterations int) error {
	orders := [][]string{
		{"x", "y", "z"},
		{"y", "x", "z"},
		{"x", "y", "w"},
		{"a", "b", "c", "d", "e"},
		{"z"},
		{"x", "z"},
	}
	read := rt.Sites().New(vm.SiteGet, "shapes:read-x")
	write := rt.Sites().New(vm.SiteSet, "shapes:write-x")
	for i := 0; i < iterations; i++ {
		scope := rt.OpenHandleScope()
		obj, err := rt.NewPlainObject()
		if err != nil {
			scope.Close()
			return err
		}
		scope.Add(obj)
		order := orders[i%len(orders)]
		for j, name := range order {
			if err := rt.SetProperty(obj, name, vm.IntegerValue(int32(j)), true); err != nil {
				scope.Close()
				return err
			}
		}
		if i%5 == 0 {
			if _, err := rt.DeleteProperty(obj, order[len(order)/2], true); err != nil {
				scope.Close()
				return err
			}
		}
		if err := rt.SetAt(write, obj, "x", vm.IntegerValue(int32(i)), true); err != nil {
			scope.Close()
			return err
		}
		if _, err := rt.GetAt(read, obj, "x"); err != nil {
			scope.Close()
			return err
		}
		scope.Close()
	}
	return nil
}

// runHotCall calls a global function through one site until it is inlined,
// replaces the function halfway and keeps calling.
func runHotCall(rt *vm.Runtime, iterations int) error {
	define := func(name string, k int32) error {
		fn, err := rt.NewClosure(&vm.Code{
			Name:  name,
			Arity: 1,
			Size:  8,
			Body: func(fr *vm.Frame) (vm.Value, error) {
				return vm.NumberValue(fr.Arg(0).ToFloat()*float64(k) + 1), nil
			},
		}, vm.Undefined)
		if err != nil {
			return err
		}
		return rt.DeclareGlobal("step", fn)
	}
	if err := define("step", 2); err != nil {
		return err
	}
	site := rt.Sites().New(vm.SiteCall, "hotcall:step")
	acc := vm.IntegerValue(0)
	for i := 0; i < iterations; i++ {
		if i == iterations/2 {
			if err := define("step2", 3); err != nil {
				return err
			}
		}
		v, err := rt.CallBinding(site, rt.GlobalEnv(), "step", vm.Undefined, vm.IntegerValue(int32(i%7)))
		if err != nil {
			return err
		}
		acc = vm.NumberValue(acc.ToFloat() + v.ToFloat())
	}
	return rt.DeclareGlobal("stepTotal", acc)
}
