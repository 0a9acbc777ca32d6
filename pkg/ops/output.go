package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// OutputOp passes entries through unmodified on port 0, invoking a
// SideEffect on the batch for print/persist purposes. Always consumes.
type OutputOp struct {
	name string
	sink SideEffect
}

// NewOutputOp creates an OutputOp named name with the given side effect.
func NewOutputOp(name string, sink SideEffect) *OutputOp {
	return &OutputOp{name: name, sink: sink}
}

func (op *OutputOp) Name() string      { return op.name }
func (op *OutputOp) NInPorts() int     { return 1 }
func (op *OutputOp) NOutPorts() int    { return 1 }
func (op *OutputOp) BarrierLevel() int { return 0 }
func (op *OutputOp) Kind() graph.Kind  { return graph.KindOutput }

func (op *OutputOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	batch := inputs[0]
	if len(batch) == 0 {
		return r, nil
	}
	if err := op.sink.Observe(batch); err != nil {
		return r, err
	}
	for idx, e := range batch {
		r.Emit(0, e)
		r.Consume(0, idx)
	}
	return r, nil
}

type sideEffectFunc func(batch map[string]entry.Entry) error

func (f sideEffectFunc) Observe(batch map[string]entry.Entry) error { return f(batch) }

func orderedEntries(batch map[string]entry.Entry) []entry.Entry {
	idxs := make([]string, 0, len(batch))
	for idx := range batch {
		idxs = append(idxs, idx)
	}
	sort.Strings(idxs)
	out := make([]entry.Entry, len(idxs))
	for i, idx := range idxs {
		out[i] = batch[idx]
	}
	return out
}

// PrintEntryOp prints each entry's idx and data, grounded on
// original_source's PrintEntryOp.
func PrintEntryOp(name string) *OutputOp {
	return NewOutputOp(name, sideEffectFunc(func(batch map[string]entry.Entry) error {
		fmt.Println("Entries:")
		for _, e := range orderedEntries(batch) {
			fmt.Println(e.Idx)
			fmt.Println(e.Data)
			fmt.Println()
		}
		return nil
	}))
}

// PrintTextOp prints a single text field per entry, grounded on
// original_source's PrintTextOp.
func PrintTextOp(name, field string) *OutputOp {
	return NewOutputOp(name, sideEffectFunc(func(batch map[string]entry.Entry) error {
		fmt.Println("Text Entries:")
		for _, e := range orderedEntries(batch) {
			fmt.Printf("Index: %s, Revision: %d\n", e.Idx, e.Rev)
			text, ok := e.Get(field)
			if !ok {
				text = "No text found"
			}
			fmt.Println(text)
			fmt.Println()
		}
		return nil
	}))
}

// OutputJsonlOp writes entries to a JSON-Lines file, merging by (idx, rev)
// against any existing file contents unless OnlyCurrent is set, and
// optionally projecting a fixed field list. Grounded line-for-line on
// original_source's OutputJsonlOp.
func OutputJsonlOp(name, path string, outputFields []string, onlyCurrent bool) *OutputOp {
	return NewOutputOp(name, sideEffectFunc(func(batch map[string]entry.Entry) error {
		return writeJsonl(path, batch, outputFields, onlyCurrent)
	}))
}

func writeJsonl(path string, batch map[string]entry.Entry, outputFields []string, onlyCurrent bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	merged := map[string]entry.Entry{}
	if !onlyCurrent {
		if existing, err := readJsonl(path); err == nil {
			for idx, e := range existing {
				merged[idx] = e
			}
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	for idx, e := range batch {
		if prior, ok := merged[idx]; ok && e.Rev < prior.Rev {
			continue
		}
		merged[idx] = e
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range orderedEntries(merged) {
		record := projectRecord(e, outputFields)
		line, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readJsonl(path string) (map[string]entry.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]entry.Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		idx, _ := record["idx"].(string)
		if idx == "" {
			continue
		}
		rev, _ := record["rev"].(float64)
		out[idx] = entry.Entry{Idx: idx, Rev: int64(rev), Data: record}
	}
	return out, scanner.Err()
}

func projectRecord(e entry.Entry, outputFields []string) map[string]interface{} {
	var record map[string]interface{}
	if len(outputFields) == 0 {
		record = make(map[string]interface{}, len(e.Data)+2)
		for k, v := range e.Data {
			record[k] = v
		}
	} else {
		record = make(map[string]interface{}, len(outputFields)+2)
		for _, k := range outputFields {
			if v, ok := e.Data[k]; ok {
				record[k] = v
			}
		}
	}
	record["idx"] = e.Idx
	record["rev"] = e.Rev
	return record
}
