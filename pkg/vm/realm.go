package vm

// Realm holds the global object, the global environment record and the
// built-in prototypes of one runtime. It is created by New and released with
// the runtime by Close.
type Realm struct {
	GlobalObject Value
	GlobalEnv    Value

	// Built-in prototypes
	ObjectPrototype   Value
	FunctionPrototype Value
	ArrayPrototype    Value
	StringPrototype   Value
	NumberPrototype   Value
	BooleanPrototype  Value

	ErrorPrototype          Value
	TypeErrorPrototype      Value
	ReferenceErrorPrototype Value
	RangeErrorPrototype     Value
	SyntaxErrorPrototype    Value
}

func newRealm() *Realm {
	return &Realm{
		GlobalObject:            Undefined,
		GlobalEnv:               Undefined,
		ObjectPrototype:         Undefined,
		FunctionPrototype:       Undefined,
		ArrayPrototype:          Undefined,
		StringPrototype:         Undefined,
		NumberPrototype:         Undefined,
		BooleanPrototype:        Undefined,
		ErrorPrototype:          Undefined,
		TypeErrorPrototype:      Undefined,
		ReferenceErrorPrototype: Undefined,
		RangeErrorPrototype:     Undefined,
		SyntaxErrorPrototype:    Undefined,
	}
}

func (r *Realm) visitRoots(visit func(Value)) {
	visit(r.GlobalObject)
	visit(r.GlobalEnv)
	visit(r.ObjectPrototype)
	visit(r.FunctionPrototype)
	visit(r.ArrayPrototype)
	visit(r.StringPrototype)
	visit(r.NumberPrototype)
	visit(r.BooleanPrototype)
	visit(r.ErrorPrototype)
	visit(r.TypeErrorPrototype)
	visit(r.ReferenceErrorPrototype)
	visit(r.RangeErrorPrototype)
	visit(r.SyntaxErrorPrototype)
}

// initRealm builds the prototypes, the global object and the global
// environment. Each value is stored in the realm right after allocation, so
// it is rooted before the next one is created.
func (rt *Runtime) initRealm() error {
	r := rt.realm
	var err error

	if r.ObjectPrototype, err = rt.NewObject(Null); err != nil {
		return err
	}
	protos := []struct {
		slot  *Value
		class string
	}{
		{&r.FunctionPrototype, "Function"},
		{&r.ArrayPrototype, "Array"},
		{&r.StringPrototype, "String"},
		{&r.NumberPrototype, "Number"},
		{&r.BooleanPrototype, "Boolean"},
		{&r.ErrorPrototype, "Error"},
	}
	for _, p := range protos {
		if *p.slot, err = rt.NewObject(r.ObjectPrototype); err != nil {
			return err
		}
		rt.objectOf(*p.slot).class = p.class
	}

	errorProtos := []struct {
		slot *Value
		name string
	}{
		{&r.TypeErrorPrototype, "TypeError"},
		{&r.ReferenceErrorPrototype, "ReferenceError"},
		{&r.RangeErrorPrototype, "RangeError"},
		{&r.SyntaxErrorPrototype, "SyntaxError"},
	}
	if err := rt.defineErrorPrototype(r.ErrorPrototype, "Error"); err != nil {
		return err
	}
	for _, ep := range errorProtos {
		if *ep.slot, err = rt.NewObject(r.ErrorPrototype); err != nil {
			return err
		}
		rt.objectOf(*ep.slot).class = "Error"
		if err := rt.defineErrorPrototype(*ep.slot, ep.name); err != nil {
			return err
		}
	}

	if r.GlobalObject, err = rt.NewObject(r.ObjectPrototype); err != nil {
		return err
	}
	rt.objectOf(r.GlobalObject).class = "global"
	if r.GlobalEnv, err = rt.allocEnv(&Environment{
		scope:  envGlobal,
		parent: Undefined,
		object: r.GlobalObject,
	}); err != nil {
		return err
	}
	if err := rt.DefineProperty(r.GlobalObject, "globalThis", r.GlobalObject, AttrHidden); err != nil {
		return err
	}
	return rt.installIntrinsics()
}

func (rt *Runtime) defineErrorPrototype(proto Value, name string) error {
	scope := rt.OpenHandleScope()
	defer scope.Close()
	n, err := rt.NewString(name)
	if err != nil {
		return err
	}
	scope.Add(n)
	empty, err := rt.NewString("")
	if err != nil {
		return err
	}
	if err := rt.DefineProperty(proto, "name", n, AttrHidden); err != nil {
		return err
	}
	return rt.DefineProperty(proto, "message", empty, AttrHidden)
}

// Realm returns the runtime's realm.
func (rt *Runtime) Realm() *Realm { return rt.realm }
