package ops

import (
	"context"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// MergeOp groups records across its input ports by idx. For each idx, if
// AllowMissing is false and any port lacks that idx, the entry is skipped
// this cycle (waits for stragglers still in flight). Otherwise the
// Merger sees an ordered per-port slice and returns one combined Entry, or
// nil to drop it. Ports are consumed per-idx once the Merger has been
// called for that idx, whether it emitted or dropped the entry.
type MergeOp struct {
	name         string
	nInPorts     int
	merger       Merger
	allowMissing bool
}

// NewMergeOp creates a MergeOp named name over nInPorts input ports.
func NewMergeOp(name string, nInPorts int, merger Merger, allowMissing bool) *MergeOp {
	return &MergeOp{name: name, nInPorts: nInPorts, merger: merger, allowMissing: allowMissing}
}

func (op *MergeOp) Name() string      { return op.name }
func (op *MergeOp) NInPorts() int     { return op.nInPorts }
func (op *MergeOp) NOutPorts() int    { return 1 }
func (op *MergeOp) BarrierLevel() int { return 0 }
func (op *MergeOp) Kind() graph.Kind  { return graph.KindMerge }

func (op *MergeOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()

	seen := map[string]struct{}{}
	for port := 0; port < op.nInPorts; port++ {
		for idx := range inputs[port] {
			seen[idx] = struct{}{}
		}
	}

	for idx := range seen {
		group := make([]entry.Entry, 0, op.nInPorts)
		complete := true
		for port := 0; port < op.nInPorts; port++ {
			e, ok := inputs[port][idx]
			if !ok {
				if !op.allowMissing {
					complete = false
					break
				}
				continue
			}
			group = append(group, e)
		}
		if !complete {
			continue
		}

		merged, err := op.merger.Merge(group)
		if err != nil {
			return r, err
		}
		if merged == nil {
			for port := 0; port < op.nInPorts; port++ {
				if _, ok := inputs[port][idx]; ok {
					r.Consume(port, idx)
				}
			}
			continue
		}

		r.Emit(0, *merged)
		for port := 0; port < op.nInPorts; port++ {
			if _, ok := inputs[port][idx]; ok {
				r.Consume(port, idx)
			}
		}
	}

	return r, nil
}
