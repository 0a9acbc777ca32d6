package ledger

import (
	"path/filepath"
	"testing"

	"github.com/batchgraph/engine/pkg/entry"
)

func TestAppendAndGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	e := entry.New("x1", map[string]interface{}{"n": float64(1)})
	if err := l.Append([]entry.Entry{e}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, ok := l.Get("x1")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if got.Idx != e.Idx || got.Rev != e.Rev || got.Data["n"] != float64(1) {
		t.Errorf("Get() = %+v, want deep-equal to %+v", got, e)
	}
}

func TestReopenResumesLiveState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	e := entry.New("x1", map[string]interface{}{"n": float64(1)})
	if err := l.Append([]entry.Entry{e}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	l.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() (reopen) error = %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get("x1")
	if !ok {
		t.Fatal("expected entry to survive reopen")
	}
	if got.Rev != 0 {
		t.Errorf("Rev = %d, want 0", got.Rev)
	}
}

func TestLastWriterByRevWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	e0 := entry.New("x1", map[string]interface{}{"n": float64(1)})
	e1 := e0.WithRev(1).Set("n", float64(2))

	l.Append([]entry.Entry{e0})
	l.Append([]entry.Entry{e1})

	got, _ := l.Get("x1")
	if got.Rev != 1 || got.Data["n"] != float64(2) {
		t.Errorf("Get() = %+v, want rev=1 n=2", got)
	}
}

func TestCompactPreservesLiveSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	l.Append([]entry.Entry{entry.New("a", nil), entry.New("b", nil)})
	if err := l.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() (after compact) error = %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 2 {
		t.Errorf("Len() after reopen = %d, want 2", reopened.Len())
	}
}

func TestFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	l.Append([]entry.Entry{
		entry.New("a", map[string]interface{}{"keep": true}),
		entry.New("b", map[string]interface{}{"keep": false}),
	})

	kept := l.Filter(func(e entry.Entry) bool {
		v, _ := e.Get("keep")
		b, _ := v.(bool)
		return b
	})
	if len(kept) != 1 || kept[0].Idx != "a" {
		t.Errorf("Filter() = %+v, want only entry a", kept)
	}
}

func TestContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "l.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	l.Append([]entry.Entry{entry.New("a", nil).WithRev(2)})

	if !l.Contains("a", nil) {
		t.Error("expected Contains(a, nil) = true")
	}
	rev := int64(2)
	if !l.Contains("a", &rev) {
		t.Error("expected Contains(a, 2) = true")
	}
	other := int64(1)
	if l.Contains("a", &other) {
		t.Error("expected Contains(a, 1) = false")
	}
}
