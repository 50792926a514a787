// Package workpool runs independent jobs on a fixed number of slots.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotDispatched is the outcome of a job that never started because the
// batch stopped early (fail-fast policy or cancelled context).
var ErrNotDispatched = errors.New("job not dispatched")

// Policy decides what a job failure does to the rest of the batch.
type Policy int

const (
	// FailFast stops dispatching pending jobs after the first failure.
	// Jobs already running are left to settle.
	FailFast Policy = iota
	// CollectAll runs every job regardless of failures.
	CollectAll
)

// ParsePolicy maps "fail_fast" / "collect_all" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail_fast", "fail-fast":
		return FailFast, nil
	case "collect_all", "collect-all":
		return CollectAll, nil
	default:
		return FailFast, fmt.Errorf("unknown failure policy %q", s)
	}
}

func (p Policy) String() string {
	if p == CollectAll {
		return "collect_all"
	}
	return "fail_fast"
}

// Job is one unit of work.
type Job func(ctx context.Context) error

// Outcome is the settled state of one job.
type Outcome struct {
	Index    int
	Err      error
	Duration time.Duration
}

// OK reports whether the job succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// JobError is returned by Run when a job failed.
type JobError struct {
	Index int
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %d: %v", e.Index, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Options configures Run.
type Options struct {
	Concurrency int
	Policy      Policy
	// JobTimeout bounds each job; zero means no deadline.
	JobTimeout time.Duration
	// OnSettle is called once per dispatched job when it settles. Calls are
	// serialized.
	OnSettle func(Outcome)
}

// Run dispatches jobs in order onto at most Concurrency slots ("tickets").
// A settled job frees its ticket immediately for the next pending job. Run
// returns once every dispatched job has settled; outcomes are indexed like
// jobs, not by completion order. The returned error is the first failure in
// submission order, wrapped in a *JobError, or nil.
func Run(ctx context.Context, jobs []Job, opts Options) ([]Outcome, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	tickets := make(chan int, concurrency)
	for i := 0; i < concurrency; i++ {
		tickets <- i
	}

	outcomes := make([]Outcome, len(jobs))
	var (
		wg       sync.WaitGroup
		settleMu sync.Mutex
		failed   atomic.Bool
	)

	for i, job := range jobs {
		outcomes[i].Index = i

		if opts.Policy == FailFast && failed.Load() {
			outcomes[i].Err = ErrNotDispatched
			continue
		}

		var ticket int
		select {
		case ticket = <-tickets:
		case <-ctx.Done():
			outcomes[i].Err = fmt.Errorf("%w: %v", ErrNotDispatched, ctx.Err())
			continue
		}

		// a sibling may have failed while we waited for a ticket
		if opts.Policy == FailFast && failed.Load() {
			tickets <- ticket
			outcomes[i].Err = ErrNotDispatched
			continue
		}

		wg.Add(1)
		go func(i, ticket int, job Job) {
			defer wg.Done()
			defer func() { tickets <- ticket }()

			jobCtx := ctx
			if opts.JobTimeout > 0 {
				var cancel context.CancelFunc
				jobCtx, cancel = context.WithTimeout(ctx, opts.JobTimeout)
				defer cancel()
			}

			start := time.Now()
			err := safeCall(jobCtx, job)
			o := Outcome{Index: i, Err: err, Duration: time.Since(start)}
			outcomes[i] = o
			if err != nil {
				failed.Store(true)
			}

			if opts.OnSettle != nil {
				settleMu.Lock()
				opts.OnSettle(o)
				settleMu.Unlock()
			}
		}(i, ticket, job)
	}

	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, ErrNotDispatched) {
			return outcomes, &JobError{Index: o.Index, Err: o.Err}
		}
	}
	for _, o := range outcomes {
		if o.Err != nil {
			return outcomes, &JobError{Index: o.Index, Err: o.Err}
		}
	}
	return outcomes, nil
}

// safeCall turns a panicking job into a failed one.
func safeCall(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}
