package ops

import (
	"context"

	"github.com/batchgraph/engine/pkg/broker"
	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
	"github.com/batchgraph/engine/pkg/ledger"
)

// FailureBehavior governs what happens to a FAILED broker job, per
// spec.md §4.4's state machine.
type FailureBehavior int

const (
	// Stay leaves a FAILED job stuck: it is neither retried nor surfaced.
	Stay FailureBehavior = iota
	// Retry re-prepares and re-enqueues the request under a fresh job_idx.
	Retry
	// Emit surfaces the failure downstream as an entry so pipelines can
	// filter it out explicitly (see FilterFailedEntries).
	Emit
)

// BrokerResult carries a terminal job's outcome into CollectOutput.
type BrokerResult struct {
	Status   broker.Status
	Response interface{}
}

// PrepareInput builds a broker request from a fresh input entry, plus any
// metadata the broker should carry alongside it (entry_idx/entry_rev by
// convention).
type PrepareInput interface {
	Prepare(e entry.Entry) (request interface{}, meta map[string]interface{}, err error)
}

// CollectOutput builds the output entry for a terminal job, given the
// original input entry and the job's outcome.
type CollectOutput interface {
	Collect(e entry.Entry, result BrokerResult) (*entry.Entry, error)
}

// BrokerOp / CheckpointOp owns a ledger keyed by input entry idx tracking
// in-flight broker jobs, and the Broker itself. Per pump: (a) fresh port-0
// entries are prepared and enqueued, tracked in the op's own ledger, but
// not yet consumed; (b) if DispatchBrokers, the broker's queued jobs are
// dispatched; (c) terminal jobs are collected, emitted, their original
// inputs consumed, and the jobs dequeued from the broker. An already
// collected entry whose input arrives again (e.g. after a restart) is
// collected again from the stored response, without a new broker call.
// Non-terminal jobs stay tracked and are not consumed.
type BrokerOp struct {
	name            string
	ledger          *ledger.Ledger
	broker          *broker.Broker
	prepare         PrepareInput
	collect         CollectOutput
	failureBehavior FailureBehavior
	attempts        map[string]int
}

// NewBrokerOp creates a BrokerOp named name, tracking pending jobs in
// trackingLedger and dispatching through br.
func NewBrokerOp(name string, trackingLedger *ledger.Ledger, br *broker.Broker, prepare PrepareInput, collect CollectOutput, failureBehavior FailureBehavior) *BrokerOp {
	return &BrokerOp{
		name:            name,
		ledger:          trackingLedger,
		broker:          br,
		prepare:         prepare,
		collect:         collect,
		failureBehavior: failureBehavior,
		attempts:        map[string]int{},
	}
}

func (op *BrokerOp) Name() string      { return op.name }
func (op *BrokerOp) NInPorts() int     { return 1 }
func (op *BrokerOp) NOutPorts() int    { return 1 }
func (op *BrokerOp) BarrierLevel() int { return 1 }
func (op *BrokerOp) Kind() graph.Kind  { return graph.KindBroker }

type trackRecord struct {
	JobIdx    string
	Input     map[string]interface{}
	InputRev  int64
	Collected bool
}

func (op *BrokerOp) readTrack(idx string) (trackRecord, bool) {
	e, ok := op.ledger.Get(idx)
	if !ok {
		return trackRecord{}, false
	}
	jobIdx, _ := e.Data["job_idx"].(string)
	input, _ := e.Data["input"].(map[string]interface{})
	collected, _ := e.Data["collected"].(bool)
	return trackRecord{JobIdx: jobIdx, Input: input, InputRev: asInt64(e.Data["input_rev"]), Collected: collected}, true
}

// writeTrack appends the next generation of idx's tracking record,
// deriving the ledger record's own rev from whatever is currently live
// (independent of t.InputRev, which tracks the source entry's revision).
func (op *BrokerOp) writeTrack(idx string, t trackRecord) error {
	nextRev := int64(0)
	if existing, ok := op.ledger.Get(idx); ok {
		nextRev = existing.Rev + 1
	}
	return op.ledger.Append([]entry.Entry{{
		Idx: idx,
		Rev: nextRev,
		Data: map[string]interface{}{
			"job_idx":   t.JobIdx,
			"input":     t.Input,
			"input_rev": t.InputRev,
			"collected": t.Collected,
		},
	}})
}

func (op *BrokerOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()

	// (a) track fresh entries; do not consume yet. An entry already tracked
	// at a lower rev than what's now arriving means a newer generation has
	// superseded an in-flight job: per the mixed-revision resolution, the
	// stale job is dropped and dequeued rather than retained for a future
	// match, and the newer generation is tracked fresh.
	for idx, e := range inputs[0] {
		t, tracked := op.readTrack(idx)
		if tracked && e.Rev <= t.InputRev {
			continue
		}
		if tracked && !t.Collected && t.JobIdx != "" {
			if err := op.broker.Dequeue([]string{t.JobIdx}); err != nil {
				return r, err
			}
		}
		if err := op.trackFresh(idx, e); err != nil {
			return r, err
		}
	}

	// (b) dispatch queued jobs.
	if opts.DispatchBrokers {
		pending := op.broker.GetJobRequests(statusQueuedOnly()...)
		if err := op.broker.ProcessJobs(ctx, pending, opts.Mock); err != nil {
			return r, err
		}
	}

	// (c) collect terminal jobs.
	for idx := range allTrackedIdx(op.ledger) {
		t, ok := op.readTrack(idx)
		if !ok || t.JobIdx == "" {
			continue
		}
		if _, present := inputs[0][idx]; t.Collected && !present {
			continue
		}
		job, ok := op.broker.GetResponse(t.JobIdx)
		if !ok || !job.Status.IsTerminal() {
			continue
		}

		inputEntry := entry.Entry{Idx: idx, Rev: t.InputRev, Data: t.Input}

		if job.Status == broker.StatusFailed {
			switch op.failureBehavior {
			case Stay:
				continue
			case Retry:
				if err := op.broker.Dequeue([]string{t.JobIdx}); err != nil {
					return r, err
				}
				if err := op.retryJob(idx, inputEntry); err != nil {
					return r, err
				}
				continue
			case Emit:
				// fall through to collect below
			}
		}

		out, err := op.collect.Collect(inputEntry, BrokerResult{Status: job.Status, Response: job.ResponseObject})
		if err != nil {
			return r, err
		}
		t.Collected = true
		if err := op.writeTrack(idx, t); err != nil {
			return r, err
		}
		if err := op.broker.Dequeue([]string{t.JobIdx}); err != nil {
			return r, err
		}
		if out != nil {
			r.Emit(0, *out)
		}
		if _, present := inputs[0][idx]; present {
			r.Consume(0, idx)
		}
	}

	return r, nil
}

func (op *BrokerOp) trackFresh(idx string, e entry.Entry) error {
	request, meta, err := op.prepare.Prepare(e)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["entry_idx"] = idx
	meta["entry_rev"] = e.Rev

	jobIdxs, err := op.broker.Enqueue([]interface{}{request}, []map[string]interface{}{meta})
	if err != nil {
		return err
	}

	return op.writeTrack(idx, trackRecord{JobIdx: jobIdxs[0], Input: e.Data, InputRev: e.Rev})
}

// retryJob re-prepares the original input under a fresh attempt counter
// (so implementations of PrepareInput can vary the request, e.g. via an
// attempt field, and thereby obtain a new job_idx) and re-enqueues it.
// Re-enqueuing the same request as before would be a cache hit against the
// broker's own terminal response ledger, so the request must change for a
// retry to mean anything.
func (op *BrokerOp) retryJob(idx string, original entry.Entry) error {
	op.attempts[idx]++
	retryInput := original.Set("__broker_attempt__", op.attempts[idx])

	request, meta, err := op.prepare.Prepare(retryInput)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["entry_idx"] = idx
	meta["entry_rev"] = original.Rev

	jobIdxs, err := op.broker.Enqueue([]interface{}{request}, []map[string]interface{}{meta})
	if err != nil {
		return err
	}

	return op.writeTrack(idx, trackRecord{JobIdx: jobIdxs[0], Input: original.Data, InputRev: original.Rev})
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func statusQueuedOnly() []broker.Status {
	return []broker.Status{broker.StatusQueued}
}

func allTrackedIdx(l *ledger.Ledger) map[string]struct{} {
	out := map[string]struct{}{}
	for _, e := range l.All() {
		out[e.Idx] = struct{}{}
	}
	return out
}
