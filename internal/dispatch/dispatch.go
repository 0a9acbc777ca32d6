// Package dispatch runs a broker's process_jobs loop: a bounded-concurrency,
// rate-limited fan-out over queued jobs that reports each job's result back
// to the caller as soon as it completes, rather than waiting for the whole
// batch.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/batchgraph/engine/infrastructure/ratelimit"
)

// Job is one unit of work handed to a Dispatcher. JobIdx identifies it for
// logging and result correlation; Run performs the actual dispatch call and
// must be safe to invoke from any goroutine.
type Job struct {
	JobIdx string
	Run    func(ctx context.Context) (interface{}, error)
}

// Result pairs a Job's outcome back with its JobIdx.
type Result struct {
	JobIdx string
	Value  interface{}
	Err    error
}

// Dispatcher fans a batch of jobs out across a bounded pool of goroutines,
// pacing dispatch through an optional rate limiter. It mirrors a broker's
// concurrency_limit and rate_limit configuration.
type Dispatcher struct {
	concurrencyLimit int
	limiter          *ratelimit.RateLimiter
}

// Config controls a Dispatcher's concurrency and pacing.
type Config struct {
	ConcurrencyLimit int
	RateLimit        ratelimit.RateLimitConfig
}

// New creates a Dispatcher. A ConcurrencyLimit <= 0 defaults to 1 (fully
// sequential dispatch).
func New(cfg Config) *Dispatcher {
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}
	return &Dispatcher{
		concurrencyLimit: limit,
		limiter:          ratelimit.New(cfg.RateLimit),
	}
}

// Run dispatches all jobs, invoking onResult for each as it completes. It
// blocks until every job has returned a Result or ctx is cancelled. Results
// arrive in completion order, not submission order; the Dispatcher
// serializes onResult calls under a mutex, so they never run concurrently.
func (d *Dispatcher) Run(ctx context.Context, jobs []Job, onResult func(Result)) error {
	if len(jobs) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.concurrencyLimit)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		if err := d.limiter.Wait(ctx); err != nil {
			<-sem
			wg.Wait()
			return fmt.Errorf("rate limiter wait for job %s: %w", job.JobIdx, err)
		}

		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()

			value, err := j.Run(ctx)
			result := Result{JobIdx: j.JobIdx, Value: value, Err: err}

			mu.Lock()
			onResult(result)
			mu.Unlock()
		}(job)
	}

	wg.Wait()
	return nil
}
