package vm

import (
	"github.com/zeebo/xxh3"
)

// String is an immutable, interned string entry. Its hash covers the whole
// content and is computed once, when the entry is created.
type String struct {
	value string
	hash  uint64
}

func (s *String) kind() EntryKind { return EntryString }
func (s *String) trace(m *marker) {}
func (s *String) Value() string   { return s.value }
func (s *String) Hash() uint64    { return s.hash }
func (s *String) Len() int        { return len(s.value) }

// hashString is the default content hash.
func hashString(s string) uint64 {
	return xxh3.HashString(s)
}

// StringTable interns strings. Buckets are keyed by hash; a hash match is only
// a pre-filter and content is always compared. The table is weak: the
// collector removes entries whose cells it frees.
type StringTable struct {
	hash    func(string) uint64
	buckets map[uint64][]Ref

	interned uint64
	hits     uint64
	dropped  uint64
}

func newStringTable(hash func(string) uint64) *StringTable {
	if hash == nil {
		hash = hashString
	}
	return &StringTable{
		hash:    hash,
		buckets: make(map[uint64][]Ref),
	}
}

// lookup returns the interned Ref for s, if any.
func (t *StringTable) lookup(h *Heap, s string, hash uint64) (Ref, bool) {
	for _, r := range t.buckets[hash] {
		if str, ok := h.entry(r).(*String); ok && str.value == s {
			return r, true
		}
	}
	return 0, false
}

func (t *StringTable) add(r Ref, hash uint64) {
	t.buckets[hash] = append(t.buckets[hash], r)
	t.interned++
}

// remove drops a freed string from its bucket.
func (t *StringTable) remove(r Ref, hash uint64) {
	bucket := t.buckets[hash]
	for i, cand := range bucket {
		if cand == r {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.buckets, hash)
	} else {
		t.buckets[hash] = bucket
	}
	t.dropped++
}

// Len returns the number of live interned strings.
func (t *StringTable) Len() int {
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

// NewString interns s, allocating a new entry only when no live string with
// the same content exists.
func (rt *Runtime) NewString(s string) (Value, error) {
	hash := rt.strings.hash(s)
	if r, ok := rt.strings.lookup(rt.heap, s, hash); ok {
		rt.strings.hits++
		return heapValue(TypeString, r), nil
	}
	str := &String{value: s, hash: hash}
	r, err := rt.allocate(str, stringBaseSize+uint64(len(s)))
	if err != nil {
		return Undefined, err
	}
	rt.strings.add(r, hash)
	return heapValue(TypeString, r), nil
}

// MustString is NewString for host setup code that cannot fail in practice.
func (rt *Runtime) MustString(s string) Value {
	v, err := rt.NewString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// stringEntry resolves a string value.
func (rt *Runtime) stringEntry(v Value) *String {
	if v.typ != TypeString {
		return nil
	}
	s, _ := rt.heap.entry(v.ref()).(*String)
	return s
}

// StringOf returns the Go string behind a string value.
func (rt *Runtime) StringOf(v Value) (string, bool) {
	if s := rt.stringEntry(v); s != nil {
		return s.value, true
	}
	return "", false
}

// StringsEqual compares two string values by content.
func (rt *Runtime) StringsEqual(a, b Value) bool {
	sa, sb := rt.stringEntry(a), rt.stringEntry(b)
	if sa == nil || sb == nil {
		return false
	}
	if sa == sb {
		return true
	}
	return sa.hash == sb.hash && sa.value == sb.value
}
