// Package ops implements the concrete node kinds that reduce to
// graph.Node's uniform pump contract: InputOp, AtomicOp, FilterOp, BatchOp,
// MergeOp, SplitOp, OutputOp, and BrokerOp, plus the specializations built
// on top of them.
package ops

import "github.com/batchgraph/engine/pkg/entry"

// Mapper transforms one Entry into another, or nil to drop it. Used by
// AtomicOp.
type Mapper interface {
	Apply(e entry.Entry) (*entry.Entry, error)
}

// Predicate tests one Entry. Used by FilterOp.
type Predicate interface {
	Test(e entry.Entry) (bool, error)
}

// Merger combines the per-port entries for one idx into a single Entry, or
// nil to drop it. Used by MergeOp.
type Merger interface {
	Merge(ins []entry.Entry) (*entry.Entry, error)
}

// Router maps one Entry onto zero or more output ports. Used by SplitOp.
// Ports absent from the returned map receive no emission this pump.
type Router interface {
	Route(e entry.Entry) (map[int]entry.Entry, error)
}

// BatchFunc transforms an entire batch at once, keyed by idx. Used by
// BatchOp.
type BatchFunc interface {
	ApplyBatch(batch map[string]entry.Entry) (map[string]entry.Entry, error)
}

// SideEffect observes a batch without altering it. Used by OutputOp.
type SideEffect interface {
	Observe(batch map[string]entry.Entry) error
}

// InputSource yields the seed set an InputOp emits at the start of a run
// (and again whenever reload_inputs is requested).
type InputSource interface {
	Load() ([]entry.Entry, error)
}

// OutputSink receives a passthrough batch at an OutputOp's side-effect
// point. Must be idempotent under replay (the same batch may be observed
// again after a resume).
type OutputSink interface {
	Write(batch map[string]entry.Entry) error
}

// MapperFunc adapts a plain function to Mapper.
type MapperFunc func(e entry.Entry) (*entry.Entry, error)

// Apply implements Mapper.
func (f MapperFunc) Apply(e entry.Entry) (*entry.Entry, error) { return f(e) }

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(e entry.Entry) (bool, error)

// Test implements Predicate.
func (f PredicateFunc) Test(e entry.Entry) (bool, error) { return f(e) }
