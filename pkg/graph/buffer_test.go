package graph

import (
	"testing"

	"github.com/batchgraph/engine/pkg/entry"
)

func TestWriteRejectsStaleRevision(t *testing.T) {
	b := NewEdgeBuffer()
	if !b.Write(0, 0, entry.New("x1", nil).WithRev(2)) {
		t.Fatal("expected first write to be accepted")
	}
	if b.Write(0, 0, entry.New("x1", nil).WithRev(1)) {
		t.Error("expected stale (lower-rev) write to be rejected")
	}
	snap := b.Snapshot(0, 0)
	if snap["x1"].Rev != 2 {
		t.Errorf("Rev = %d, want 2 (stale write must not overwrite)", snap["x1"].Rev)
	}
}

func TestWriteAcceptsEqualRevOverwrite(t *testing.T) {
	b := NewEdgeBuffer()
	b.Write(0, 0, entry.New("x1", map[string]interface{}{"v": 1}).WithRev(1))
	ok := b.Write(0, 0, entry.New("x1", map[string]interface{}{"v": 2}).WithRev(1))
	if !ok {
		t.Error("expected equal-rev write to be accepted (overwrite in emission order)")
	}
	snap := b.Snapshot(0, 0)
	if snap["x1"].Data["v"] != 2 {
		t.Errorf("Data[v] = %v, want 2", snap["x1"].Data["v"])
	}
}

func TestConsumeDeletes(t *testing.T) {
	b := NewEdgeBuffer()
	b.Write(0, 0, entry.New("x1", nil))
	b.Consume(0, 0, "x1")
	if b.Len(0, 0) != 0 {
		t.Errorf("Len() = %d, want 0 after consume", b.Len(0, 0))
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	b := NewEdgeBuffer()
	b.Write(0, 0, entry.New("x1", map[string]interface{}{"v": 1}))
	snap := b.Snapshot(0, 0)
	snap["x1"].Data["v"] = 999

	again := b.Snapshot(0, 0)
	if again["x1"].Data["v"] != 1 {
		t.Errorf("mutating a snapshot affected the buffer: %v", again["x1"].Data["v"])
	}
}
