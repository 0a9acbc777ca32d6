package ops

import (
	"context"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// FilterOp tests each port-0 entry with a Predicate. Entries failing the
// test are either consumed and discarded (ConsumeRejected=true) or routed
// to output port 1, a diversion channel, while passing entries are emitted
// on port 0. Either way the input is always consumed.
type FilterOp struct {
	name            string
	predicate       Predicate
	consumeRejected bool
}

// NewFilterOp creates a FilterOp named name, testing entries with
// predicate. Rejected entries go to output port 1 unless consumeRejected
// is true, in which case they are dropped.
func NewFilterOp(name string, predicate Predicate, consumeRejected bool) *FilterOp {
	return &FilterOp{name: name, predicate: predicate, consumeRejected: consumeRejected}
}

func (op *FilterOp) Name() string      { return op.name }
func (op *FilterOp) NInPorts() int     { return 1 }
func (op *FilterOp) NOutPorts() int    { return 2 }
func (op *FilterOp) BarrierLevel() int { return 0 }
func (op *FilterOp) Kind() graph.Kind  { return graph.KindFilter }

func (op *FilterOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	for idx, e := range inputs[0] {
		keep, err := op.predicate.Test(e)
		if err != nil {
			return r, err
		}
		if keep {
			r.Emit(0, e)
		} else if !op.consumeRejected {
			r.Emit(1, e)
		}
		r.Consume(0, idx)
	}
	return r, nil
}

// Filter builds a FilterOp from a plain predicate function, grounded on
// original_source's `Filter(criteria)` wrapper around FilterOp.
func Filter(name string, criteria func(e entry.Entry) (bool, error), consumeRejected bool) *FilterOp {
	return NewFilterOp(name, PredicateFunc(criteria), consumeRejected)
}

// FilterFailedEntries drops entries whose statusKey field equals "FAILED",
// grounded on original_source's FilterFailedEntries.
func FilterFailedEntries(name, statusKey string, consumeRejected bool) *FilterOp {
	return NewFilterOp(name, PredicateFunc(func(e entry.Entry) (bool, error) {
		status, _ := e.Get(statusKey)
		return status != "FAILED", nil
	}), consumeRejected)
}

// FilterMissingField drops entries missing any of keys, grounded on
// original_source's FilterMissingField.
func FilterMissingField(name string, keys []string, consumeRejected bool) *FilterOp {
	return NewFilterOp(name, PredicateFunc(func(e entry.Entry) (bool, error) {
		for _, k := range keys {
			if _, ok := e.Get(k); !ok {
				return false, nil
			}
		}
		return true, nil
	}), consumeRejected)
}
