package vm

import (
	"fmt"
)

// Ref is a generational handle to a heap cell: the high 32 bits hold the
// cell's generation, the low 32 bits its index plus one. The zero Ref is nil.
// A cell index reused after a collection gets a new generation, so a stale Ref
// never resolves to the new occupant.
type Ref uint64

func makeRef(index int, gen uint32) Ref {
	return Ref(uint64(gen)<<32 | uint64(index+1))
}

func (r Ref) index() int     { return int(uint32(r)) - 1 }
func (r Ref) gen() uint32    { return uint32(r >> 32) }
func (r Ref) IsNil() bool    { return r == 0 }
func (r Ref) String() string { return fmt.Sprintf("#%d.%d", r.index(), r.gen()) }

// EntryKind identifies what a heap cell holds.
type EntryKind uint8

const (
	EntryFree EntryKind = iota
	EntryObject
	EntryString
	EntryClosure
	EntryEnv
)

func (k EntryKind) String() string {
	switch k {
	case EntryObject:
		return "object"
	case EntryString:
		return "string"
	case EntryClosure:
		return "closure"
	case EntryEnv:
		return "environment"
	default:
		return "free"
	}
}

// heapEntry is implemented by everything that lives in a heap cell.
type heapEntry interface {
	kind() EntryKind
	// trace reports every Value the entry references to the marker.
	trace(m *marker)
}

// Accounted sizes, in bytes. They approximate the Go memory behind each
// entry and drive the collector's budget.
const (
	valueSize       = 16
	objectBaseSize  = 64 + InlineSlotCount*valueSize
	stringBaseSize  = 40
	closureBaseSize = 48
	envBaseSize     = 56
)

type cell struct {
	entry  heapEntry
	size   uint64
	gen    uint32
	marked bool
}

// Heap is the arena that stores every managed entry. It knows nothing about
// roots or budgets; the Collector drives it.
type Heap struct {
	cells []cell
	free  []int // indices of free cells, reused LIFO

	used  uint64 // accounted bytes of occupied cells
	live  int    // occupied cells
	total uint64 // entries ever inserted

	// genFloor is the first generation handed to a freshly appended cell. It
	// stays above every generation issued for indices dropped by compact.
	genFloor uint32
}

// NewHeap creates a heap with room for initialCapacity cells.
func NewHeap(initialCapacity int) *Heap {
	return &Heap{
		cells: make([]cell, 0, initialCapacity),
	}
}

// insert stores an entry and returns its Ref. Callers account for budget first.
func (h *Heap) insert(e heapEntry, size uint64) Ref {
	var idx int
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.cells = append(h.cells, cell{gen: h.genFloor})
		idx = len(h.cells) - 1
	}
	c := &h.cells[idx]
	c.entry = e
	c.size = size
	c.marked = false
	h.used += size
	h.live++
	h.total++
	return makeRef(idx, c.gen)
}

// cell returns the occupied cell for r, or nil when r is nil or stale.
func (h *Heap) cell(r Ref) *cell {
	idx := r.index()
	if r == 0 || idx < 0 || idx >= len(h.cells) {
		return nil
	}
	c := &h.cells[idx]
	if c.entry == nil || c.gen != r.gen() {
		return nil
	}
	return c
}

func (h *Heap) entry(r Ref) heapEntry {
	if c := h.cell(r); c != nil {
		return c.entry
	}
	return nil
}

// Alive reports whether r still designates an occupied cell.
func (h *Heap) Alive(r Ref) bool {
	return h.cell(r) != nil
}

// KindOf returns the kind of entry behind r (EntryFree when stale).
func (h *Heap) KindOf(r Ref) EntryKind {
	if e := h.entry(r); e != nil {
		return e.kind()
	}
	return EntryFree
}

// adjust changes the accounted size of a cell, for entries whose storage
// grows in place (overflow slots, dictionaries, elements).
func (h *Heap) adjust(r Ref, delta int64) {
	c := h.cell(r)
	if c == nil || delta == 0 {
		return
	}
	if delta < 0 && uint64(-delta) > c.size {
		delta = -int64(c.size)
	}
	c.size = uint64(int64(c.size) + delta)
	h.used = uint64(int64(h.used) + delta)
}

// release frees the cell at idx and bumps its generation.
func (h *Heap) release(idx int) {
	c := &h.cells[idx]
	h.used -= c.size
	h.live--
	c.entry = nil
	c.size = 0
	c.marked = false
	c.gen++
	h.free = append(h.free, idx)
}

// Used returns the accounted bytes of occupied cells.
func (h *Heap) Used() uint64 { return h.used }

// Size returns the number of occupied cells.
func (h *Heap) Size() int { return h.live }

// Capacity returns the number of cells in the arena, occupied or not.
func (h *Heap) Capacity() int { return len(h.cells) }

// TotalAllocated returns how many entries were ever inserted.
func (h *Heap) TotalAllocated() uint64 { return h.total }

// compact drops trailing free cells so the arena can shrink.
func (h *Heap) compact() int {
	n := len(h.cells)
	for n > 0 && h.cells[n-1].entry == nil {
		n--
	}
	dropped := len(h.cells) - n
	if dropped == 0 {
		return 0
	}
	for i := n; i < len(h.cells); i++ {
		if g := h.cells[i].gen; g > h.genFloor {
			h.genFloor = g
		}
	}
	h.cells = append([]cell(nil), h.cells[:n]...)
	kept := h.free[:0]
	for _, idx := range h.free {
		if idx < n {
			kept = append(kept, idx)
		}
	}
	h.free = kept
	return dropped
}
