// Package queue implements the in-memory job queues the scheduler runtime is
// built on. Each queue runs a single fixed-period sweep that picks up at most
// one job per registered job name at a time, so handler executions are
// non-reentrant per (queue, job name) and job mutation needs no locking
// beyond the queue's own mutex. Jobs live only in memory; a restart drops
// them. The Enqueuer interface lets callers depend on the contract rather
// than this implementation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
)

// ErrClosed is returned by Add after Close has been called.
var ErrClosed = errors.New("queue is closed")

// defaultPoll is the sweep cadence. A job waits up to one sweep interval
// before pickup; acceptable latency for a batch-style dispatcher.
const defaultPoll = time.Second

// Enqueuer is the narrow producer-side contract of a Queue.
type Enqueuer interface {
	Add(name string, payload any, opts Options) (string, error)
}

// FailedHook receives jobs evicted after exhausting their attempt budget.
type FailedHook func(job *Job, err error)

// ErrorHook receives every handler error, including ones that will be retried.
type ErrorHook func(job *Job, err error)

// Queue is a named, independent collection of jobs with its own sweep loop,
// recurrence timers, and failure hooks.
type Queue struct {
	name   string
	clk    clock.Clock
	logger *slog.Logger
	poll   time.Duration

	mu          sync.Mutex
	jobs        []*Job
	handlers    map[string]Handler
	inFlight    map[string]bool
	recurrences map[string]chan struct{}
	failedHooks []FailedHook
	errorHooks  []ErrorHook
	closed      bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

func WithClock(c clock.Clock) Option          { return func(q *Queue) { q.clk = c } }
func WithLogger(l *slog.Logger) Option        { return func(q *Queue) { q.logger = l } }
func WithPollInterval(d time.Duration) Option { return func(q *Queue) { q.poll = d } }

// New creates a queue and starts its sweep loop.
func New(name string, opts ...Option) *Queue {
	q := &Queue{
		name:        name,
		clk:         clock.System(),
		logger:      slog.Default(),
		poll:        defaultPoll,
		handlers:    make(map[string]Handler),
		inFlight:    make(map[string]bool),
		recurrences: make(map[string]chan struct{}),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.wg.Add(1)
	go q.sweepLoop()
	return q
}

// Name returns the queue's name.
func (q *Queue) Name() string { return q.name }

// Add appends a job, or installs a recurrence when opts.Repeat is set. For a
// recurrence the returned handle is the recurrence's JobID and no immediate
// job is created; re-adding the same JobID replaces the prior timer.
func (q *Queue) Add(name string, payload any, opts Options) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %q: %w", name, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}

	if r := opts.Repeat; r != nil {
		rec := *r
		if rec.AtHour < 0 && rec.Every <= 0 {
			rec.Every = defaultEvery
		}
		oneShot := opts
		oneShot.Repeat = nil
		q.installRecurrence(rec, name, raw, oneShot)
		q.mu.Unlock()
		return rec.JobID, nil
	}

	job := &Job{
		ID:        uuid.New().String(),
		Queue:     q.name,
		Name:      name,
		Payload:   raw,
		Opts:      opts,
		CreatedAt: q.clk.Now(),
	}
	q.jobs = append(q.jobs, job)
	q.updateGauges()
	q.mu.Unlock()
	return job.ID, nil
}

// Process registers the handler for the given job name. Exactly one handler
// is allowed per name; a second registration is an error.
func (q *Queue) Process(name string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[name]; exists {
		return &DuplicateHandlerError{Queue: q.name, Name: name}
	}
	q.handlers[name] = h
	return nil
}

// OnFailed registers a hook invoked when a job exhausts its attempt budget.
func (q *Queue) OnFailed(hook FailedHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failedHooks = append(q.failedHooks, hook)
}

// OnError registers a hook invoked on every handler error.
func (q *Queue) OnError(hook ErrorHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.errorHooks = append(q.errorHooks, hook)
}

// JobCounts returns the number of waiting and actively-processing jobs.
func (q *Queue) JobCounts() (waiting, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.processing {
			active++
		} else {
			waiting++
		}
	}
	return waiting, active
}

// Recurrences returns the JobIDs of all active recurrence timers.
func (q *Queue) Recurrences() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.recurrences))
	for id := range q.recurrences {
		ids = append(ids, id)
	}
	return ids
}

// Empty clears all pending jobs. Recurrence timers keep running.
func (q *Queue) Empty() {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if j.processing {
			kept = append(kept, j)
		}
	}
	q.jobs = kept
	q.updateGauges()
}

// Close cancels all recurrence timers, stops the sweep loop, and drops
// pending jobs. Idempotent. In-flight handler invocations are not waited
// for; shutdown is best-effort, not a graceful drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, stopRec := range q.recurrences {
		close(stopRec)
		delete(q.recurrences, id)
	}
	q.jobs = nil
	q.updateGauges()
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) sweepLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

// sweep picks the first eligible job for each registered name and invokes
// its handler. A name with an invocation still in flight is skipped.
func (q *Queue) sweep() {
	q.mu.Lock()
	now := q.clk.Now()
	for name, h := range q.handlers {
		if q.inFlight[name] {
			continue
		}
		job := q.firstEligible(name, now)
		if job == nil {
			continue
		}
		job.processing = true
		q.inFlight[name] = true
		go q.invoke(job, h)
	}
	q.updateGauges()
	q.mu.Unlock()
}

func (q *Queue) firstEligible(name string, now time.Time) *Job {
	for _, j := range q.jobs {
		if j.Name == name && !j.processing && !now.Before(j.notBefore) {
			return j
		}
	}
	return nil
}

func (q *Queue) invoke(job *Job, h Handler) {
	err := q.safeHandle(h, job)

	q.mu.Lock()
	q.inFlight[job.Name] = false
	if q.closed {
		q.mu.Unlock()
		return
	}

	if err == nil {
		q.remove(job)
		q.updateGauges()
		q.mu.Unlock()
		return
	}

	job.attempts++
	var evicted bool
	if job.attempts >= job.Opts.maxAttempts() {
		q.remove(job)
		evicted = true
	} else {
		job.processing = false
		job.notBefore = q.clk.Now().Add(job.Opts.Backoff)
	}
	errorHooks := append([]ErrorHook(nil), q.errorHooks...)
	failedHooks := append([]FailedHook(nil), q.failedHooks...)
	q.updateGauges()
	q.mu.Unlock()

	for _, hook := range errorHooks {
		hook(job, err)
	}
	if evicted {
		q.logger.Error("job evicted after exhausting attempts",
			slog.String("queue", q.name),
			slog.String("job", job.Name),
			slog.Int("attempts", job.attempts),
			slog.String("error", err.Error()),
		)
		for _, hook := range failedHooks {
			hook(job, err)
		}
	}
}

// safeHandle converts a handler panic into an error so one bad job cannot
// take down the sweep.
func (q *Queue) safeHandle(h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", job.Name, r)
		}
	}()
	return h(context.Background(), job.Payload)
}

func (q *Queue) remove(job *Job) {
	for i, j := range q.jobs {
		if j == job {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}

// installRecurrence replaces any timer with the same JobID. Caller holds q.mu.
func (q *Queue) installRecurrence(rec Recurrence, name string, payload json.RawMessage, opts Options) {
	if prev, exists := q.recurrences[rec.JobID]; exists {
		close(prev)
	}
	stopRec := make(chan struct{})
	q.recurrences[rec.JobID] = stopRec

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			timer := time.NewTimer(q.nextDelay(rec))
			select {
			case <-stopRec:
				timer.Stop()
				return
			case <-q.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			if _, err := q.Add(name, payload, opts); err != nil {
				return
			}
		}
	}()
}

// nextDelay computes how long until the recurrence fires next: either a plain
// interval or the next daily occurrence of AtHour local time.
func (q *Queue) nextDelay(rec Recurrence) time.Duration {
	if rec.AtHour < 0 {
		return rec.Every
	}
	now := q.clk.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), rec.AtHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

func (q *Queue) updateGauges() {
	var waiting, active float64
	for _, j := range q.jobs {
		if j.processing {
			active++
		} else {
			waiting++
		}
	}
	telemetry.QueueJobsWaiting.WithLabelValues(q.name).Set(waiting)
	telemetry.QueueJobsActive.WithLabelValues(q.name).Set(active)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
