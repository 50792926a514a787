package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BoundsInFlightJobs(t *testing.T) {
	var inFlight, peak atomic.Int32
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}
	}

	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 3})
	require.NoError(t, err)
	assert.Len(t, outcomes, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.True(t, o.OK())
	}
}

func TestRun_OutcomesInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var settled []int

	jobs := make([]Job, 5)
	for i := range jobs {
		delay := time.Duration(5-i) * 3 * time.Millisecond
		jobs[i] = func(ctx context.Context) error {
			time.Sleep(delay)
			return nil
		}
	}

	outcomes, err := Run(context.Background(), jobs, Options{
		Concurrency: 5,
		OnSettle: func(o Outcome) {
			mu.Lock()
			settled = append(settled, o.Index)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Len(t, settled, 5)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
	}
}

func TestRun_ZeroConcurrencyRunsSequentially(t *testing.T) {
	var inFlight, peak atomic.Int32
	jobs := make([]Job, 4)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			n := inFlight.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return nil
		}
	}
	_, err := Run(context.Background(), jobs, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), peak.Load())
}

func TestRun_FailFastStopsDispatching(t *testing.T) {
	boom := errors.New("boom")
	var started atomic.Int32

	jobs := make([]Job, 6)
	for i := range jobs {
		i := i
		jobs[i] = func(ctx context.Context) error {
			started.Add(1)
			if i == 0 {
				return boom
			}
			return nil
		}
	}

	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 1, Policy: FailFast})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, 0, jobErr.Index)

	assert.Equal(t, int32(1), started.Load())
	for _, o := range outcomes[1:] {
		assert.ErrorIs(t, o.Err, ErrNotDispatched)
	}
}

func TestRun_FailFastLetsRunningJobsSettle(t *testing.T) {
	release := make(chan struct{})
	var slowDone atomic.Bool

	jobs := []Job{
		func(ctx context.Context) error {
			<-release
			slowDone.Store(true)
			return nil
		},
		func(ctx context.Context) error {
			defer close(release)
			return errors.New("fail")
		},
		func(ctx context.Context) error { return nil },
	}

	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 2, Policy: FailFast})
	require.Error(t, err)
	assert.True(t, slowDone.Load())
	assert.NoError(t, outcomes[0].Err)

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, 1, jobErr.Index)
}

func TestRun_CollectAllRunsEverything(t *testing.T) {
	var started atomic.Int32
	jobs := make([]Job, 5)
	for i := range jobs {
		i := i
		jobs[i] = func(ctx context.Context) error {
			started.Add(1)
			if i%2 == 1 {
				return errors.New("odd")
			}
			return nil
		}
	}

	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 2, Policy: CollectAll})
	require.Error(t, err)
	assert.Equal(t, int32(5), started.Load())

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, 1, jobErr.Index)

	assert.True(t, outcomes[0].OK())
	assert.False(t, outcomes[1].OK())
	assert.True(t, outcomes[2].OK())
	assert.False(t, outcomes[3].OK())
	assert.True(t, outcomes[4].OK())
}

func TestRun_JobTimeout(t *testing.T) {
	jobs := []Job{
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 1, JobTimeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var started atomic.Int32
	jobs := []Job{
		func(ctx context.Context) error { started.Add(1); return nil },
		func(ctx context.Context) error { started.Add(1); return nil },
	}
	// One ticket is free so the select may pick either branch; nothing may
	// run after both are exhausted.
	outcomes, _ := Run(ctx, jobs, Options{Concurrency: 1})
	assert.Len(t, outcomes, 2)
	assert.LessOrEqual(t, started.Load(), int32(2))
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	jobs := []Job{func(ctx context.Context) error { panic("nope") }}
	outcomes, err := Run(context.Background(), jobs, Options{Concurrency: 1})
	require.Error(t, err)
	assert.Contains(t, outcomes[0].Err.Error(), "panicked")
}

func TestRun_EmptyBatch(t *testing.T) {
	outcomes, err := Run(context.Background(), nil, Options{Concurrency: 4})
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("collect_all")
	require.NoError(t, err)
	assert.Equal(t, CollectAll, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParsePolicy("whatever")
	assert.Error(t, err)
}
