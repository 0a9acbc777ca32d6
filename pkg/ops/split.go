package ops

import (
	"context"
	"strconv"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// SplitOp routes each port-0 entry to zero or more output ports via a
// Router. It is the only node kind permitted to fan an output port out to
// more than one edge (graph.New enforces this). If any emission occurred,
// the input is consumed.
type SplitOp struct {
	name      string
	nOutPorts int
	router    Router
}

// NewSplitOp creates a SplitOp named name with nOutPorts output ports.
func NewSplitOp(name string, nOutPorts int, router Router) *SplitOp {
	return &SplitOp{name: name, nOutPorts: nOutPorts, router: router}
}

func (op *SplitOp) Name() string      { return op.name }
func (op *SplitOp) NInPorts() int     { return 1 }
func (op *SplitOp) NOutPorts() int    { return op.nOutPorts }
func (op *SplitOp) BarrierLevel() int { return 0 }
func (op *SplitOp) Kind() graph.Kind  { return graph.KindSplit }

func (op *SplitOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	for idx, e := range inputs[0] {
		routed, err := op.router.Route(e)
		if err != nil {
			return r, err
		}
		if len(routed) == 0 {
			continue
		}
		for port, out := range routed {
			r.Emit(port, out)
		}
		r.Consume(0, idx)
	}
	return r, nil
}

// DuplicateOp is a SplitOp specialization that copies each entry to every
// output port, stamping replicaIdxField with the destination port index on
// each copy, grounded on original_source's Repeat/duplicate pattern.
func DuplicateOp(name string, nOutPorts int, replicaIdxField string) *SplitOp {
	router := func(e entry.Entry) (map[int]entry.Entry, error) {
		out := make(map[int]entry.Entry, nOutPorts)
		for port := 0; port < nOutPorts; port++ {
			replica := e
			if replicaIdxField != "" {
				replica = e.Set(replicaIdxField, strconv.Itoa(port))
			}
			out[port] = replica
		}
		return out, nil
	}
	return NewSplitOp(name, nOutPorts, routerFunc(router))
}

type routerFunc func(e entry.Entry) (map[int]entry.Entry, error)

func (f routerFunc) Route(e entry.Entry) (map[int]entry.Entry, error) { return f(e) }
