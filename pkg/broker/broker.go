// Package broker implements a cache-backed asynchronous job queue: a
// request ledger and a response ledger pair, a cooperative process_jobs
// driver, and the QUEUED->RUNNING->{DONE,FAILED} job state machine.
package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/batchgraph/engine/infrastructure/cache"
	bgerrors "github.com/batchgraph/engine/infrastructure/errors"
	"github.com/batchgraph/engine/infrastructure/metrics"
	"github.com/batchgraph/engine/infrastructure/ratelimit"
	"github.com/batchgraph/engine/infrastructure/resilience"
	"github.com/batchgraph/engine/internal/dispatch"
	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/ledger"
)

// Caller is the engine's one interface boundary to an external dispatch
// target (an LLM HTTP client, a search API, a human-labeling queue). The
// engine is agnostic to provider routing; Caller is supplied by the op
// that owns a Broker.
type Caller interface {
	Call(ctx context.Context, request interface{}) (interface{}, error)
}

// Config controls a Broker's cache path and dispatch behavior.
type Config struct {
	CachePath        string
	ConcurrencyLimit int
	RateLimit        ratelimit.RateLimitConfig
	MaxPerBatch      int // 0 means unbounded
	RetryConfig      resilience.RetryConfig
	CircuitBreaker   resilience.Config
}

// Broker owns a request ledger and a response ledger and mediates all
// access to a Caller through the QUEUED/RUNNING/DONE/FAILED job lifecycle.
type Broker struct {
	name       string
	requests   *ledger.Ledger
	responses  *ledger.Ledger
	jobStatus  *cache.JobStatusCache
	caller     Caller
	dispatcher *dispatch.Dispatcher
	breaker    *resilience.CircuitBreaker
	retryCfg   resilience.RetryConfig
	maxPerBatch int
	metrics    *metrics.Metrics
}

// New creates a Broker backed by {cache_path}/requests.jsonl and
// {cache_path}/responses.jsonl.
func New(name string, caller Caller, cfg Config) (*Broker, error) {
	reqPath := cfg.CachePath + "/requests.jsonl"
	respPath := cfg.CachePath + "/responses.jsonl"

	reqLedger, err := ledger.Open(reqPath)
	if err != nil {
		return nil, err
	}
	respLedger, err := ledger.Open(respPath)
	if err != nil {
		return nil, err
	}

	retryCfg := cfg.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = resilience.DefaultRetryConfig()
	}
	cbCfg := cfg.CircuitBreaker
	if cbCfg.MaxFailures == 0 {
		cbCfg = resilience.DefaultConfig()
	}

	b := &Broker{
		name:      name,
		requests:  reqLedger,
		responses: respLedger,
		jobStatus: cache.NewJobStatusCache(),
		caller:    caller,
		dispatcher: dispatch.New(dispatch.Config{
			ConcurrencyLimit: cfg.ConcurrencyLimit,
			RateLimit:        cfg.RateLimit,
		}),
		breaker:     resilience.New(cbCfg),
		retryCfg:    retryCfg,
		maxPerBatch: cfg.MaxPerBatch,
	}
	b.resume()
	return b, nil
}

// JobIdx computes the content-hash identity for a request object: same
// request => same id => cached response.
func JobIdx(request interface{}) (string, error) {
	canonical, err := entry.MarshalCanonicalJSON(request)
	if err != nil {
		return "", fmt.Errorf("marshal request for job_idx: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SetMetrics attaches a Metrics instrument set, forwarding it to both of
// the broker's own ledgers so their write/read/compaction activity is
// instrumented under this broker's name.
func (b *Broker) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
	b.requests.SetMetrics(m, b.name+".requests")
	b.responses.SetMetrics(m, b.name+".responses")
}

func jobToEntry(j Job) entry.Entry {
	return entry.Entry{
		Idx: j.JobIdx,
		Rev: 0,
		Data: map[string]interface{}{
			"status":          string(j.Status),
			"request_object":  j.RequestObject,
			"response_object": j.ResponseObject,
			"meta":            j.Meta,
		},
	}
}

func entryToJob(e entry.Entry) Job {
	status, _ := e.Data["status"].(string)
	meta, _ := e.Data["meta"].(map[string]interface{})
	return Job{
		JobIdx:         e.Idx,
		Status:         Status(status),
		RequestObject:  e.Data["request_object"],
		ResponseObject: e.Data["response_object"],
		Meta:           meta,
	}
}

// Enqueue adds requests to the request ledger with status QUEUED, skipping
// any job_idx already terminal in the response ledger (the cache-hit
// path). Returns the job_idx assigned to each request, in order.
func (b *Broker) Enqueue(requests []interface{}, meta []map[string]interface{}) ([]string, error) {
	idxs := make([]string, len(requests))
	toAppend := make([]entry.Entry, 0, len(requests))

	for i, req := range requests {
		idx, err := JobIdx(req)
		if err != nil {
			return nil, err
		}
		idxs[i] = idx

		if _, terminal := b.responses.Get(idx); terminal {
			if b.metrics != nil {
				b.metrics.RecordJobEnqueued(b.name, true)
			}
			continue
		}
		if _, ok := b.jobStatus.Get(idx); ok {
			if b.metrics != nil {
				b.metrics.RecordJobEnqueued(b.name, true)
			}
			continue
		}
		if b.requests.Contains(idx, nil) {
			continue
		}

		m := map[string]interface{}{}
		if i < len(meta) && meta[i] != nil {
			m = meta[i]
		}
		job := Job{JobIdx: idx, Status: StatusQueued, RequestObject: req, Meta: m}
		toAppend = append(toAppend, jobToEntry(job))
		if b.metrics != nil {
			b.metrics.RecordJobEnqueued(b.name, false)
		}
	}

	if len(toAppend) > 0 {
		if err := b.requests.Append(toAppend); err != nil {
			return nil, err
		}
	}
	return idxs, nil
}

// Dequeue marks job_idxs in the request ledger with a terminal status at a
// higher rev once consumed by the owning op, so GetJobRequests(StatusQueued)
// no longer returns them; the records themselves stay in the ledger.
func (b *Broker) Dequeue(jobIdxs []string) error {
	entries := make([]entry.Entry, 0, len(jobIdxs))
	for _, idx := range jobIdxs {
		if req, ok := b.requests.Get(idx); ok {
			job := entryToJob(req)
			job.Status = StatusDone // terminal marker; dequeue removes it from active consideration
			entries = append(entries, jobToEntry(job).WithRev(req.Rev+1))
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return b.requests.Append(entries)
}

// GetJobRequests returns a snapshot of request-ledger jobs in any of the
// allowed statuses, for dispatch.
func (b *Broker) GetJobRequests(allowedStatuses ...Status) []Job {
	allowed := map[Status]bool{}
	for _, s := range allowedStatuses {
		allowed[s] = true
	}
	entries := b.requests.Filter(func(e entry.Entry) bool {
		job := entryToJob(e)
		return allowed[job.Status]
	})
	jobs := make([]Job, len(entries))
	for i, e := range entries {
		jobs[i] = entryToJob(e)
	}
	return jobs
}

// GetResponse looks up the terminal response for one job_idx, if any.
func (b *Broker) GetResponse(jobIdx string) (Job, bool) {
	e, ok := b.responses.Get(jobIdx)
	if !ok {
		return Job{}, false
	}
	return entryToJob(e), true
}

// GetJobResponses returns a snapshot of all responses.
func (b *Broker) GetJobResponses() []Job {
	entries := b.responses.All()
	jobs := make([]Job, len(entries))
	for i, e := range entries {
		jobs[i] = entryToJob(e)
	}
	return jobs
}

// resume reconstructs the in-memory job status cache from the response
// ledger's terminal jobs; the ledgers
// themselves already reconstruct their live maps in ledger.Open.
func (b *Broker) resume() {
	for _, job := range b.GetJobResponses() {
		if job.Status.IsTerminal() {
			b.jobStatus.Set(job.JobIdx, job.Status)
		}
	}
}

// ProcessJobs is the cooperative driver: launches up to concurrency_limit
// in-flight workers subject to rate_limit, optionally capped at
// max_number_per_batch. Each completion writes into the response ledger
// immediately. mock=true uses a deterministic stub response.
func (b *Broker) ProcessJobs(ctx context.Context, requests []Job, mock bool) error {
	if len(requests) == 0 {
		return nil
	}
	if b.maxPerBatch > 0 && len(requests) > b.maxPerBatch {
		requests = requests[:b.maxPerBatch]
	}

	jobs := make([]dispatch.Job, len(requests))
	for i, r := range requests {
		r := r
		jobs[i] = dispatch.Job{
			JobIdx: r.JobIdx,
			Run: func(ctx context.Context) (interface{}, error) {
				if mock {
					return mockResponse(r.RequestObject), nil
				}
				var response interface{}
				err := b.breaker.Execute(ctx, func(ctx context.Context) error {
					return resilience.Retry(ctx, b.retryCfg, func(ctx context.Context) error {
						resp, callErr := b.caller.Call(ctx, r.RequestObject)
						if callErr != nil {
							return callErr
						}
						response = resp
						return nil
					})
				})
				return response, err
			},
		}
	}

	start := time.Now()
	var dispatchErr error
	err := b.dispatcher.Run(ctx, jobs, func(res dispatch.Result) {
		status := StatusDone
		var responseObject interface{} = res.Value
		if res.Err != nil {
			status = StatusFailed
			responseObject = bgerrors.BrokerJobFailed(res.JobIdx, res.Err)
		}
		job := Job{
			JobIdx:         res.JobIdx,
			Status:         status,
			ResponseObject: responseObject,
		}
		for _, r := range requests {
			if r.JobIdx == res.JobIdx {
				job.RequestObject = r.RequestObject
				job.Meta = r.Meta
				break
			}
		}
		if appendErr := b.responses.Append([]entry.Entry{jobToEntry(job)}); appendErr != nil {
			dispatchErr = appendErr
			return
		}
		b.jobStatus.Set(res.JobIdx, status)
		if b.metrics != nil {
			b.metrics.RecordJobDispatched(b.name)
			b.metrics.RecordJobCompleted(b.name, string(status), time.Since(start))
		}
	})
	if err != nil {
		return bgerrors.Internal("broker dispatch loop failed", err)
	}
	return dispatchErr
}

func mockResponse(request interface{}) interface{} {
	return map[string]interface{}{"mock": true, "echo": request}
}

// Close flushes and closes both ledgers.
func (b *Broker) Close() error {
	if err := b.requests.Close(); err != nil {
		return err
	}
	return b.responses.Close()
}
