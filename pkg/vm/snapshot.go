package vm

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a point-in-time picture of a runtime's heap and shape graph.
type Snapshot struct {
	RuntimeID   string        `cbor:"1,keyasint"`
	TakenAt     time.Time     `cbor:"2,keyasint"`
	Collections uint64        `cbor:"3,keyasint"`
	HeapBytes   uint64        `cbor:"4,keyasint"`
	Cells       []CellRecord  `cbor:"5,keyasint"`
	Shapes      []ShapeRecord `cbor:"6,keyasint"`
}

// CellRecord describes one occupied heap cell and its outgoing references.
type CellRecord struct {
	Ref   uint64   `cbor:"1,keyasint"`
	Kind  string   `cbor:"2,keyasint"`
	Size  uint64   `cbor:"3,keyasint"`
	Class string   `cbor:"4,keyasint,omitempty"`
	Shape uint64   `cbor:"5,keyasint,omitempty"`
	Edges []uint64 `cbor:"6,keyasint,omitempty"`
	Text  string   `cbor:"7,keyasint,omitempty"` // string content
}

// ShapeRecord describes one live shape.
type ShapeRecord struct {
	ID     uint64 `cbor:"1,keyasint"`
	Parent uint64 `cbor:"2,keyasint"`
	Name   string `cbor:"3,keyasint"`
	Slot   int    `cbor:"4,keyasint"`
	Attrs  uint8  `cbor:"5,keyasint"`
}

var snapshotEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Snapshot records every occupied cell (with its outgoing edges) and every
// live shape. It does not collect first.
func (rt *Runtime) Snapshot() *Snapshot {
	snap := &Snapshot{
		RuntimeID:   rt.id.String(),
		TakenAt:     time.Now().UTC(),
		Collections: rt.gc.stats.Collections,
		HeapBytes:   rt.heap.used,
	}
	h := rt.heap
	for idx := range h.cells {
		c := &h.cells[idx]
		if c.entry == nil {
			continue
		}
		rec := CellRecord{
			Ref:  uint64(makeRef(idx, c.gen)),
			Kind: c.entry.kind().String(),
			Size: c.size,
		}
		m := &marker{
			heap:    h,
			shapes:  rt.shapes,
			onValue: func(v Value) { rec.Edges = append(rec.Edges, uint64(v.ref())) },
			onShape: func(id ShapeID) { rec.Shape = uint64(id) },
		}
		c.entry.trace(m)
		switch e := c.entry.(type) {
		case *Object:
			rec.Class = e.class
		case *Closure:
			rec.Class = e.class
		case *String:
			rec.Text = e.value
		}
		snap.Cells = append(snap.Cells, rec)
	}
	rt.shapes.each(func(s *Shape) {
		snap.Shapes = append(snap.Shapes, ShapeRecord{
			ID:     uint64(s.id),
			Parent: uint64(s.parent),
			Name:   s.name,
			Slot:   s.slot,
			Attrs:  uint8(s.attrs),
		})
	})
	return snap
}

// Encode writes the snapshot as canonical CBOR.
func (s *Snapshot) Encode(w io.Writer) error {
	if err := snapshotEncMode.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by Encode.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Edges returns the references held by the cell at ref.
func (s *Snapshot) Edges(ref Ref) []uint64 {
	for _, c := range s.Cells {
		if c.Ref == uint64(ref) {
			return c.Edges
		}
	}
	return nil
}
