package ops

import (
	"context"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// AtomicOp calls a Mapper on each port-0 input entry independently,
// emitting the result (or dropping it on nil) and always consuming the
// input. Also known in the taxonomy as ApplyOp.
type AtomicOp struct {
	name   string
	mapper Mapper
}

// NewAtomicOp creates an AtomicOp named name applying mapper to each entry.
func NewAtomicOp(name string, mapper Mapper) *AtomicOp {
	return &AtomicOp{name: name, mapper: mapper}
}

func (op *AtomicOp) Name() string      { return op.name }
func (op *AtomicOp) NInPorts() int     { return 1 }
func (op *AtomicOp) NOutPorts() int    { return 1 }
func (op *AtomicOp) BarrierLevel() int { return 0 }
func (op *AtomicOp) Kind() graph.Kind  { return graph.KindAtomic }

func (op *AtomicOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	for idx, e := range inputs[0] {
		out, err := op.mapper.Apply(e)
		if err != nil {
			return r, err
		}
		if out != nil {
			r.Emit(0, *out)
		}
		r.Consume(0, idx)
	}
	return r, nil
}
