package vm

import (
	"bytes"
	"slices"
	"testing"
)

func TestSnapshot_RecordsEdges(t *testing.T) {
	rt := newTestRuntime(t)
	scope := rt.OpenHandleScope()
	defer scope.Close()
	outer := scope.Add(mustObject(t, rt))
	inner := mustObject(t, rt)
	mustSet(t, rt, outer, "inner", inner)
	label := mustString(t, rt, "snapshot label")
	mustSet(t, rt, outer, "label", label)

	snap := rt.Snapshot()
	edges := snap.Edges(outer.Ref())
	if !slices.Contains(edges, uint64(inner.Ref())) {
		t.Errorf("Expected an edge to the inner object, got %v", edges)
	}
	if !slices.Contains(edges, uint64(label.Ref())) {
		t.Errorf("Expected an edge to the label string")
	}

	var sawText bool
	for _, c := range snap.Cells {
		if c.Ref == uint64(label.Ref()) {
			sawText = c.Kind == "string" && c.Text == "snapshot label"
		}
		if c.Ref == uint64(outer.Ref()) && c.Shape == 0 {
			t.Errorf("Expected the object's shape to be recorded")
		}
	}
	if !sawText {
		t.Errorf("Expected the string cell to carry its content")
	}
	if len(snap.Shapes) != rt.Shapes().Live() {
		t.Errorf("Expected %d shapes, got %d", rt.Shapes().Live(), len(snap.Shapes))
	}
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DeclareGlobal("x", mustObject(t, rt))
	rt.CollectNow(0)
	snap := rt.Snapshot()

	var buf bytes.Buffer
	if err := snap.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSnapshot(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.RuntimeID != rt.ID().String() || got.Collections != 1 {
		t.Errorf("Unexpected header %s / %d", got.RuntimeID, got.Collections)
	}
	if len(got.Cells) != len(snap.Cells) || len(got.Shapes) != len(snap.Shapes) {
		t.Errorf("Expected %d cells and %d shapes, got %d and %d",
			len(snap.Cells), len(snap.Shapes), len(got.Cells), len(got.Shapes))
	}
	if !got.TakenAt.Equal(snap.TakenAt) {
		t.Errorf("Expected the timestamp to survive, got %v want %v", got.TakenAt, snap.TakenAt)
	}
	if _, err := DecodeSnapshot(bytes.NewReader([]byte{0xff})); err == nil {
		t.Errorf("Expected garbage input to fail")
	}
}
