// Package graph implements the inter-node record buffer and the
// barrier-level scheduler that drives a compiled pipeline to completion.
package graph

import (
	"context"

	"github.com/batchgraph/engine/pkg/entry"
)

// PumpOptions carries the scheduler's per-call configuration down into a
// node's Pump.
type PumpOptions struct {
	// DispatchBrokers, when true, allows a broker-backed node to trigger
	// its owned broker's dispatch this pump. Honored by the scheduler
	// only when current_level > 0 (see Execute).
	DispatchBrokers bool
	// Mock, when true, tells broker-backed nodes to use deterministic
	// stub responses instead of calling out.
	Mock bool
	// ReloadInputs is true only on the very first pump of a run;
	// InputOp re-reads its seed set when set.
	ReloadInputs bool
	// MaxBarrierLevel, if non-nil, bounds how high the scheduler will
	// ever raise current_level.
	MaxBarrierLevel *int
}

// PumpResult is what a node's Pump call reports back to the scheduler.
type PumpResult struct {
	// Outputs maps output port -> idx -> Entry emitted this pump.
	Outputs map[int]map[string]entry.Entry
	// Consumed maps input port -> set of idx the node has consumed
	// (i.e. the scheduler should delete from the corresponding source
	// buffer).
	Consumed map[int]map[string]struct{}
	// DidEmit reports whether any output write was actually accepted
	// (not rejected as a stale revision).
	DidEmit bool
}

// NewPumpResult returns a zero-value PumpResult with initialized maps,
// convenient for node implementations to build incrementally.
func NewPumpResult() PumpResult {
	return PumpResult{
		Outputs:  map[int]map[string]entry.Entry{},
		Consumed: map[int]map[string]struct{}{},
	}
}

// Emit records an emission on the given output port, initializing the
// port's map on first use.
func (r *PumpResult) Emit(port int, e entry.Entry) {
	if r.Outputs[port] == nil {
		r.Outputs[port] = map[string]entry.Entry{}
	}
	r.Outputs[port][e.Idx] = e
}

// Consume records that idx has been consumed from the given input port.
func (r *PumpResult) Consume(port int, idx string) {
	if r.Consumed[port] == nil {
		r.Consumed[port] = map[string]struct{}{}
	}
	r.Consumed[port][idx] = struct{}{}
}

// Node is the uniform contract every node kind reduces to: given the
// currently buffered entries on each input port, produce emissions,
// consumption declarations, and whether anything changed.
type Node interface {
	Name() string
	NInPorts() int
	NOutPorts() int
	// BarrierLevel is 0 for cheap synchronous ops, 1+ for batch
	// collectors and broker dispatch (see Execute).
	BarrierLevel() int
	Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts PumpOptions) (PumpResult, error)
}

// Kind identifies which of the eight node taxonomy members a Node is, for
// topology validation (head/tail eligibility, fanout restrictions) without
// requiring a type switch on concrete types across packages.
type Kind int

const (
	KindInput Kind = iota
	KindAtomic
	KindFilter
	KindBatch
	KindMerge
	KindSplit
	KindOutput
	KindBroker
)

// Kinded is implemented by nodes that report their taxonomy Kind, used by
// Segment construction to enforce head/tail eligibility and fanout rules.
type Kinded interface {
	Kind() Kind
}
