package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
)

const testPoll = 5 * time.Millisecond

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q := New("test", append([]Option{WithPollInterval(testPoll)}, opts...)...)
	t.Cleanup(q.Close)
	return q
}

// eventually polls cond until it returns true or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(testPoll)
	}
	t.Fatal(msg)
}

func TestAddAndProcess_JobRemovedOnSuccess(t *testing.T) {
	q := newTestQueue(t)

	var got atomic.Value
	require.NoError(t, q.Process("greet", func(_ context.Context, payload json.RawMessage) error {
		got.Store(string(payload))
		return nil
	}))

	id, err := q.Add("greet", map[string]string{"who": "world"}, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	eventually(t, func() bool { return got.Load() != nil }, "handler was never invoked")
	assert.JSONEq(t, `{"who":"world"}`, got.Load().(string))

	eventually(t, func() bool {
		waiting, active := q.JobCounts()
		return waiting == 0 && active == 0
	}, "job should be removed after success")
}

func TestFailingJob_RetriedThenSucceeds(t *testing.T) {
	q := newTestQueue(t)

	var calls atomic.Int32
	require.NoError(t, q.Process("flaky", func(_ context.Context, _ json.RawMessage) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	_, err := q.Add("flaky", nil, Options{Attempts: 5})
	require.NoError(t, err)

	eventually(t, func() bool { return calls.Load() == 3 }, "job should be retried until it succeeds")
	eventually(t, func() bool {
		waiting, active := q.JobCounts()
		return waiting == 0 && active == 0
	}, "succeeded job should be removed")
}

func TestFailingJob_EvictedAfterAttemptBudget(t *testing.T) {
	q := newTestQueue(t)

	sentinel := errors.New("permanent")
	var calls atomic.Int32
	require.NoError(t, q.Process("doomed", func(_ context.Context, _ json.RawMessage) error {
		calls.Add(1)
		return sentinel
	}))

	var mu sync.Mutex
	var failedJob *Job
	var failedErr error
	q.OnFailed(func(job *Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedJob, failedErr = job, err
	})

	_, err := q.Add("doomed", nil, Options{Attempts: 2})
	require.NoError(t, err)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedJob != nil
	}, "failed hook should fire after the attempt budget is exhausted")

	mu.Lock()
	assert.Equal(t, "doomed", failedJob.Name)
	assert.Equal(t, 2, failedJob.Attempts())
	assert.Equal(t, sentinel, failedErr)
	mu.Unlock()

	assert.Equal(t, int32(2), calls.Load(), "handler called exactly Attempts times")
	waiting, active := q.JobCounts()
	assert.Zero(t, waiting)
	assert.Zero(t, active)
}

func TestBackoff_GatesRetryUntilDelayElapses(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	q := newTestQueue(t, WithClock(clk))

	var calls atomic.Int32
	require.NoError(t, q.Process("slow", func(_ context.Context, _ json.RawMessage) error {
		calls.Add(1)
		return errors.New("fail")
	}))

	_, err := q.Add("slow", nil, Options{Attempts: 3, Backoff: time.Hour})
	require.NoError(t, err)

	eventually(t, func() bool { return calls.Load() == 1 }, "first attempt should run")

	// Clock has not advanced, so the retry must stay gated.
	time.Sleep(20 * testPoll)
	assert.Equal(t, int32(1), calls.Load(), "retry must wait for the backoff delay")

	clk.Advance(2 * time.Hour)
	eventually(t, func() bool { return calls.Load() == 2 }, "retry should run once the backoff elapsed")
}

func TestNonReentrant_OneInFlightPerJobName(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	var running atomic.Int32
	var peak atomic.Int32
	require.NoError(t, q.Process("block", func(_ context.Context, _ json.RawMessage) error {
		n := running.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		<-release
		running.Add(-1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		_, err := q.Add("block", nil, Options{})
		require.NoError(t, err)
	}

	eventually(t, func() bool { return running.Load() == 1 }, "first job should start")
	time.Sleep(10 * testPoll)
	assert.Equal(t, int32(1), peak.Load(), "only one invocation per job name may be in flight")

	close(release)
	eventually(t, func() bool {
		waiting, active := q.JobCounts()
		return waiting == 0 && active == 0
	}, "all jobs should drain once released")
	assert.Equal(t, int32(1), peak.Load())
}

func TestProcess_DuplicateHandlerRejected(t *testing.T) {
	q := newTestQueue(t)
	noop := func(_ context.Context, _ json.RawMessage) error { return nil }

	require.NoError(t, q.Process("once", noop))
	err := q.Process("once", noop)
	require.Error(t, err)
	var dup *DuplicateHandlerError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "once", dup.Name)
}

func TestRecurrence_FiresRepeatedly(t *testing.T) {
	q := newTestQueue(t)

	var calls atomic.Int32
	require.NoError(t, q.Process("tick", func(_ context.Context, _ json.RawMessage) error {
		calls.Add(1)
		return nil
	}))

	id, err := q.Add("tick", nil, Options{Repeat: EveryInterval("tick-every", 15*time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, "tick-every", id, "recurrence handle is the stable JobID")

	eventually(t, func() bool { return calls.Load() >= 2 }, "recurrence should fire more than once")
}

func TestRecurrence_ReRegisterReplacesTimer(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Process("tick", func(_ context.Context, _ json.RawMessage) error { return nil }))

	for i := 0; i < 3; i++ {
		_, err := q.Add("tick", nil, Options{Repeat: EveryInterval("tick-every", time.Hour)})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"tick-every"}, q.Recurrences(),
		"re-adding the same JobID must replace, not duplicate, the timer")
}

func TestRecurrence_NonPositiveIntervalStillInstalls(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Add("tick", nil, Options{Repeat: &Recurrence{JobID: "bad", Every: 0, AtHour: -1}})
	require.NoError(t, err)
	assert.Contains(t, q.Recurrences(), "bad")
}

func TestEmpty_ClearsWaitingJobs(t *testing.T) {
	q := newTestQueue(t)
	// No handler registered, so jobs just sit waiting.
	for i := 0; i < 4; i++ {
		_, err := q.Add("orphan", nil, Options{})
		require.NoError(t, err)
	}
	waiting, _ := q.JobCounts()
	require.Equal(t, 4, waiting)

	q.Empty()
	waiting, active := q.JobCounts()
	assert.Zero(t, waiting)
	assert.Zero(t, active)
}

func TestClose_StopsRecurrencesAndIsIdempotent(t *testing.T) {
	q := New("closing", WithPollInterval(testPoll))

	var calls atomic.Int32
	require.NoError(t, q.Process("tick", func(_ context.Context, _ json.RawMessage) error {
		calls.Add(1)
		return nil
	}))
	_, err := q.Add("tick", nil, Options{Repeat: EveryInterval("tick-every", 10*time.Millisecond)})
	require.NoError(t, err)

	eventually(t, func() bool { return calls.Load() >= 1 }, "recurrence should fire before close")

	q.Close()
	q.Close() // must be safe to call twice

	after := calls.Load()
	time.Sleep(10 * testPoll)
	assert.Equal(t, after, calls.Load(), "no further jobs may run after Close returns")

	_, err = q.Add("tick", nil, Options{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPanickingHandler_CountsAsFailure(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Process("boom", func(_ context.Context, _ json.RawMessage) error {
		panic("kaboom")
	}))

	var mu sync.Mutex
	var failedErr error
	q.OnFailed(func(_ *Job, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedErr = err
	})

	_, err := q.Add("boom", nil, Options{Attempts: 1})
	require.NoError(t, err)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedErr != nil
	}, "panicking handler should surface through the failed hook")

	mu.Lock()
	assert.Contains(t, failedErr.Error(), "kaboom")
	mu.Unlock()
}
