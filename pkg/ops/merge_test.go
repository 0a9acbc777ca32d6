package ops

import (
	"context"
	"testing"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

func TestMergeOpWaitsForStragglersByDefault(t *testing.T) {
	op := NewMergeOp("merge", 2, mergerFunc(func(ins []entry.Entry) (*entry.Entry, error) {
		out := entry.New(ins[0].Idx, nil)
		return &out, nil
	}), false)

	inputs := map[int]map[string]entry.Entry{
		0: {"a": entry.New("a", nil)},
		1: {},
	}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if len(r.Outputs[0]) != 0 {
		t.Error("expected no emission while port 1 is missing idx a")
	}
	if len(r.Consumed[0]) != 0 {
		t.Error("expected no consumption while waiting for stragglers")
	}
}

func TestMergeOpEmitsOnceAllPortsPresent(t *testing.T) {
	op := NewMergeOp("merge", 2, mergerFunc(func(ins []entry.Entry) (*entry.Entry, error) {
		out := entry.New(ins[0].Idx, map[string]interface{}{"count": len(ins)})
		return &out, nil
	}), false)

	inputs := map[int]map[string]entry.Entry{
		0: {"a": entry.New("a", nil)},
		1: {"a": entry.New("a", nil)},
	}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	out, ok := r.Outputs[0]["a"]
	if !ok {
		t.Fatal("expected emission for idx a")
	}
	if c, _ := out.Get("count"); c != 2 {
		t.Errorf("count = %v, want 2", c)
	}
	if len(r.Consumed[0]) != 1 || len(r.Consumed[1]) != 1 {
		t.Error("expected both ports consumed for idx a")
	}
}

func TestMergeOpAllowMissingProceedsWithPartialGroup(t *testing.T) {
	op := NewMergeOp("merge", 2, mergerFunc(func(ins []entry.Entry) (*entry.Entry, error) {
		out := entry.New("a", map[string]interface{}{"count": len(ins)})
		return &out, nil
	}), true)

	inputs := map[int]map[string]entry.Entry{
		0: {"a": entry.New("a", nil)},
		1: {},
	}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	out, ok := r.Outputs[0]["a"]
	if !ok {
		t.Fatal("expected emission with allowMissing")
	}
	if c, _ := out.Get("count"); c != 1 {
		t.Errorf("count = %v, want 1", c)
	}
}

func TestMergeOpNilResultConsumesWithoutEmitting(t *testing.T) {
	op := NewMergeOp("merge", 1, mergerFunc(func(ins []entry.Entry) (*entry.Entry, error) {
		return nil, nil
	}), false)

	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if len(r.Outputs[0]) != 0 {
		t.Error("expected no emission for nil merge result")
	}
	if _, consumed := r.Consumed[0]["a"]; !consumed {
		t.Error("expected idx consumed even when merge result is dropped")
	}
}

type mergerFunc func(ins []entry.Entry) (*entry.Entry, error)

func (f mergerFunc) Merge(ins []entry.Entry) (*entry.Entry, error) { return f(ins) }
