package ops

import (
	"context"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// InputOp seeds entries into the graph. It has no input ports; on the
// first pump of a run (or whenever the scheduler passes ReloadInputs) it
// emits its source's full set to port 0, and is a no-op otherwise.
type InputOp struct {
	name   string
	source InputSource
	fired  bool
}

// NewInputOp creates an InputOp named name, seeding from source.
func NewInputOp(name string, source InputSource) *InputOp {
	return &InputOp{name: name, source: source}
}

func (op *InputOp) Name() string      { return op.name }
func (op *InputOp) NInPorts() int     { return 0 }
func (op *InputOp) NOutPorts() int    { return 1 }
func (op *InputOp) BarrierLevel() int { return 0 }
func (op *InputOp) Kind() graph.Kind  { return graph.KindInput }

func (op *InputOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	if op.fired && !opts.ReloadInputs {
		return r, nil
	}

	entries, err := op.source.Load()
	if err != nil {
		return r, err
	}
	for _, e := range entries {
		r.Emit(0, e)
	}
	op.fired = true
	return r, nil
}

// SliceSource is an InputSource over a fixed in-memory slice, useful for
// tests and small static pipelines.
type SliceSource struct {
	Entries []entry.Entry
}

// Load implements InputSource.
func (s SliceSource) Load() ([]entry.Entry, error) {
	out := make([]entry.Entry, len(s.Entries))
	copy(out, s.Entries)
	return out, nil
}
