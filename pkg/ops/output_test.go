package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

func TestOutputOpPassesThroughAndConsumes(t *testing.T) {
	var observed map[string]entry.Entry
	op := NewOutputOp("out", sideEffectFunc(func(batch map[string]entry.Entry) error {
		observed = batch
		return nil
	}))

	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if len(observed) != 1 {
		t.Fatal("expected sink to observe the batch")
	}
	if _, ok := r.Outputs[0]["a"]; !ok {
		t.Error("expected passthrough emission")
	}
	if _, consumed := r.Consumed[0]["a"]; !consumed {
		t.Error("expected idx consumed")
	}
}

func TestOutputOpEmptyBatchSkipsSideEffect(t *testing.T) {
	called := false
	op := NewOutputOp("out", sideEffectFunc(func(batch map[string]entry.Entry) error {
		called = true
		return nil
	}))
	_, err := op.Pump(context.Background(), map[int]map[string]entry.Entry{0: {}}, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if called {
		t.Error("expected no side effect call on empty batch")
	}
}

func TestOutputJsonlOpWritesAndMergesByRev(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")

	op := OutputJsonlOp("write", path, nil, false)
	first := map[int]map[string]entry.Entry{0: {
		"a": entry.New("a", map[string]interface{}{"v": 1}),
	}}
	if _, err := op.Pump(context.Background(), first, graph.PumpOptions{}); err != nil {
		t.Fatalf("first Pump() error = %v", err)
	}

	second := map[int]map[string]entry.Entry{0: {
		"a": entry.New("a", map[string]interface{}{"v": 2}).WithRev(1),
		"b": entry.New("b", map[string]interface{}{"v": 9}),
	}}
	if _, err := op.Pump(context.Background(), second, graph.PumpOptions{}); err != nil {
		t.Fatalf("second Pump() error = %v", err)
	}

	merged, err := readJsonl(path)
	if err != nil {
		t.Fatalf("readJsonl() error = %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged records, got %d", len(merged))
	}
	if merged["a"].Rev != 1 {
		t.Errorf("expected idx a merged at rev 1, got %d", merged["a"].Rev)
	}
	if v, _ := merged["a"].Get("v"); v != float64(2) {
		t.Errorf("expected idx a's higher-rev value to win, got %v", v)
	}
}

func TestOutputJsonlOpOnlyCurrentIgnoresExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	if err := os.WriteFile(path, []byte(`{"idx":"stale","rev":0}`+"\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	op := OutputJsonlOp("write", path, nil, true)
	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}

	merged, err := readJsonl(path)
	if err != nil {
		t.Fatalf("readJsonl() error = %v", err)
	}
	if _, ok := merged["stale"]; ok {
		t.Error("expected stale pre-existing record dropped under onlyCurrent")
	}
	if _, ok := merged["a"]; !ok {
		t.Error("expected fresh record written")
	}
}

func TestProjectRecordRestrictsToOutputFields(t *testing.T) {
	e := entry.New("a", map[string]interface{}{"keep": 1, "drop": 2}).WithRev(3)
	record := projectRecord(e, []string{"keep"})
	if _, ok := record["drop"]; ok {
		t.Error("expected drop field excluded")
	}
	if record["keep"] != 1 {
		t.Errorf("keep = %v, want 1", record["keep"])
	}
	if record["idx"] != "a" || record["rev"] != int64(3) {
		t.Errorf("expected idx/rev always injected, got idx=%v rev=%v", record["idx"], record["rev"])
	}
}
