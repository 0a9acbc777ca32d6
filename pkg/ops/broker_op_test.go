package ops

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/batchgraph/engine/pkg/broker"
	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
	"github.com/batchgraph/engine/pkg/ledger"
)

type echoCaller struct{ err error }

func (c echoCaller) Call(ctx context.Context, request interface{}) (interface{}, error) {
	if c.err != nil {
		return nil, c.err
	}
	return request, nil
}

type echoPrepare struct{}

func (echoPrepare) Prepare(e entry.Entry) (interface{}, map[string]interface{}, error) {
	return e.Data, nil, nil
}

type echoCollect struct{}

func (echoCollect) Collect(e entry.Entry, result BrokerResult) (*entry.Entry, error) {
	out := e.Set("result", result.Response)
	out = out.Set("status", string(result.Status))
	return &out, nil
}

func newTestBroker(t *testing.T, caller broker.Caller) *broker.Broker {
	t.Helper()
	br, err := broker.New("test", caller, broker.Config{CachePath: t.TempDir()})
	if err != nil {
		t.Fatalf("broker.New() error = %v", err)
	}
	t.Cleanup(func() { _ = br.Close() })
	return br
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "track.jsonl"))
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestBrokerOpTracksThenCollectsOnDispatch(t *testing.T) {
	br := newTestBroker(t, echoCaller{})
	track := newTestLedger(t)
	op := NewBrokerOp("call", track, br, echoPrepare{}, echoCollect{}, Stay)

	inputs := map[int]map[string]entry.Entry{0: {
		"a": entry.New("a", map[string]interface{}{"q": "hi"}),
	}}

	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if len(r.Outputs[0]) != 0 {
		t.Fatal("expected no emission before dispatch")
	}
	if len(r.Consumed[0]) != 0 {
		t.Fatal("expected no consumption before dispatch")
	}

	r, err = op.Pump(context.Background(), inputs, graph.PumpOptions{DispatchBrokers: true, Mock: true})
	if err != nil {
		t.Fatalf("Pump() (dispatch) error = %v", err)
	}
	out, ok := r.Outputs[0]["a"]
	if !ok {
		t.Fatal("expected emission after dispatch collects the terminal job")
	}
	if status, _ := out.Get("status"); status != string(broker.StatusDone) {
		t.Errorf("status = %v, want DONE", status)
	}
	if _, consumed := r.Consumed[0]["a"]; !consumed {
		t.Error("expected idx a consumed after collect")
	}
}

func TestBrokerOpStaleRevisionDequeuesInFlightJob(t *testing.T) {
	br := newTestBroker(t, echoCaller{})
	track := newTestLedger(t)
	op := NewBrokerOp("call", track, br, echoPrepare{}, echoCollect{}, Stay)

	v0 := entry.New("a", map[string]interface{}{"q": "v0"})
	if _, err := op.Pump(context.Background(), map[int]map[string]entry.Entry{0: {"a": v0}}, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	firstTrack, _ := op.readTrack("a")
	if firstTrack.JobIdx == "" {
		t.Fatal("expected a job tracked for the first generation")
	}

	v1 := v0.Set("q", "v1").WithRev(1)
	if _, err := op.Pump(context.Background(), map[int]map[string]entry.Entry{0: {"a": v1}}, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	secondTrack, ok := op.readTrack("a")
	if !ok {
		t.Fatal("expected a to still be tracked")
	}
	if secondTrack.JobIdx == firstTrack.JobIdx {
		t.Error("expected a new job_idx for the superseding generation")
	}
	if secondTrack.InputRev != 1 {
		t.Errorf("InputRev = %d, want 1", secondTrack.InputRev)
	}

	stalePending := br.GetJobRequests(broker.StatusQueued)
	for _, j := range stalePending {
		if j.JobIdx == firstTrack.JobIdx {
			t.Error("expected stale job dequeued, but it is still queued")
		}
	}
}

func TestBrokerOpFailureStayLeavesJobStuck(t *testing.T) {
	br := newTestBroker(t, echoCaller{err: errors.New("boom")})
	track := newTestLedger(t)
	op := NewBrokerOp("call", track, br, echoPrepare{}, echoCollect{}, Stay)

	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{DispatchBrokers: true}); err != nil {
		t.Fatalf("Pump() (dispatch) error = %v", err)
	}

	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() (collect attempt) error = %v", err)
	}
	if len(r.Outputs[0]) != 0 {
		t.Error("expected Stay to leave the failed job uncollected")
	}
	tr, _ := op.readTrack("a")
	if tr.Collected {
		t.Error("expected Stay to never mark the job collected")
	}
}

func TestBrokerOpFailureEmitSurfacesEntry(t *testing.T) {
	br := newTestBroker(t, echoCaller{err: errors.New("boom")})
	track := newTestLedger(t)
	op := NewBrokerOp("call", track, br, echoPrepare{}, echoCollect{}, Emit)

	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{DispatchBrokers: true}); err != nil {
		t.Fatalf("Pump() (dispatch) error = %v", err)
	}
	r, err := op.Pump(context.Background(), inputs, graph.PumpOptions{})
	if err != nil {
		t.Fatalf("Pump() (collect) error = %v", err)
	}
	out, ok := r.Outputs[0]["a"]
	if !ok {
		t.Fatal("expected Emit to surface the failed entry")
	}
	if status, _ := out.Get("status"); status != string(broker.StatusFailed) {
		t.Errorf("status = %v, want FAILED", status)
	}
	if _, consumed := r.Consumed[0]["a"]; !consumed {
		t.Error("expected idx consumed once surfaced")
	}
}

func TestBrokerOpFailureRetryReEnqueuesUnderNewJobIdx(t *testing.T) {
	br := newTestBroker(t, echoCaller{err: errors.New("boom")})
	track := newTestLedger(t)
	op := NewBrokerOp("call", track, br, echoPrepare{}, echoCollect{}, Retry)

	inputs := map[int]map[string]entry.Entry{0: {"a": entry.New("a", nil)}}
	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{}); err != nil {
		t.Fatalf("Pump() error = %v", err)
	}
	firstTrack, _ := op.readTrack("a")

	if _, err := op.Pump(context.Background(), inputs, graph.PumpOptions{DispatchBrokers: true}); err != nil {
		t.Fatalf("Pump() (dispatch) error = %v", err)
	}
	// The terminal collect phase runs inside this same Pump call and should
	// have retried rather than surfaced, since op.failureBehavior is Retry.
	secondTrack, ok := op.readTrack("a")
	if !ok {
		t.Fatal("expected a still tracked after retry")
	}
	if secondTrack.JobIdx == firstTrack.JobIdx {
		t.Error("expected retry to re-prepare under a distinct job_idx (attempt field varies the request)")
	}
	if secondTrack.Collected {
		t.Error("expected retry to leave the entry uncollected pending the new attempt")
	}
}
