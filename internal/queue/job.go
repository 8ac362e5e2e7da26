package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultAttempts is the handler attempt budget used when Options.Attempts
// is zero.
const DefaultAttempts = 3

// defaultEvery is the repeat interval used when a Recurrence carries a
// non-positive Every and no daily hour. Deliberately coarse; recurrences are
// approximate periodic schedules, not a cron engine.
const defaultEvery = 5 * time.Minute

// Handler processes one job payload. Returning an error counts an attempt
// against the job's budget.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Recurrence is an idempotent repeating schedule for a named job. Re-adding
// a recurrence with the same JobID replaces the prior timer, so a queue holds
// at most one active timer per JobID.
type Recurrence struct {
	// JobID is the stable identity of this schedule within its queue.
	JobID string
	// Every is the repeat interval. Ignored when AtHour is set.
	Every time.Duration
	// AtHour, when >= 0, fires once daily at that local hour.
	AtHour int
}

// EveryInterval builds a plain repeating-interval recurrence.
func EveryInterval(jobID string, every time.Duration) *Recurrence {
	return &Recurrence{JobID: jobID, Every: every, AtHour: -1}
}

// DailyAt builds a recurrence firing once per day at the given local hour.
func DailyAt(jobID string, hour int) *Recurrence {
	return &Recurrence{JobID: jobID, AtHour: hour}
}

// Options controls a job's retry budget, backoff, and recurrence.
type Options struct {
	// Attempts is the total handler invocations allowed before the job is
	// evicted and reported to the failed hook. Zero means DefaultAttempts.
	Attempts int
	// Backoff is the fixed delay before a failed job becomes eligible again.
	Backoff time.Duration
	// Repeat, when set, installs a recurrence instead of an immediate job.
	Repeat *Recurrence
}

func (o Options) maxAttempts() int {
	if o.Attempts <= 0 {
		return DefaultAttempts
	}
	return o.Attempts
}

// Job is one unit of scheduled work held in memory by a Queue. Jobs do not
// survive process restarts.
type Job struct {
	ID        string
	Queue     string
	Name      string
	Payload   json.RawMessage
	Opts      Options
	CreatedAt time.Time

	// Mutated only under the owning queue's lock.
	attempts   int
	processing bool
	notBefore  time.Time
}

// Attempts returns how many handler invocations have failed so far.
func (j *Job) Attempts() int { return j.attempts }

// DuplicateHandlerError is returned when Process is called twice for the
// same job name on one queue.
type DuplicateHandlerError struct {
	Queue string
	Name  string
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("queue %q already has a handler for %q", e.Queue, e.Name)
}
