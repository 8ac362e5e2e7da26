// Package scheduler owns the engine lifecycle: it builds the three job
// queues, registers every processor, installs the recurring schedules, and
// tears it all down on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-dial-flow/internal/kafka"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	"github.com/ramiqadoumi/go-dial-flow/internal/queue"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/internal/telephony"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-dial-flow/services/dispatch"
	"github.com/ramiqadoumi/go-dial-flow/services/events"
	"github.com/ramiqadoumi/go-dial-flow/services/maintenance"
)

// Queue names.
const (
	QueueCalls       = "calls"
	QueueWebhooks    = "webhooks"
	QueueMaintenance = "maintenance"
)

// Recurring schedule cadences. The retention sweep runs at a quiet hour in
// production and on a short interval everywhere else so dev setups exercise
// it without waiting a day.
const (
	dispatchEvery          = time.Minute
	availabilityProbeEvery = 3 * time.Minute
	retentionDevEvery      = 4 * time.Hour
	retentionProdHour      = 3
)

// State is the runtime lifecycle phase.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting-down"
	StateStopped       State = "stopped"
)

// Deps carries everything the runtime wires together. Producer and Guard
// may be nil, which disables Kafka events and per-agent rate limiting.
type Deps struct {
	Items    postgres.CallQueueRepository
	History  postgres.CallHistoryRepository
	Agents   redisstore.AgentDirectory
	Config   redisstore.ConfigStore
	Guard    redisstore.DialGuard
	Dialer   telephony.Dialer
	Presence telephony.Presence
	Producer kafka.Producer

	Clock      clock.Clock
	Logger     *slog.Logger
	Production bool
}

// QueueStatus is one queue's live job counts and installed schedules.
type QueueStatus struct {
	Waiting     int      `json:"waiting"`
	Active      int      `json:"active"`
	Recurrences []string `json:"recurrences"`
}

// Status is a point-in-time snapshot of the runtime.
type Status struct {
	State  State                  `json:"state"`
	Queues map[string]QueueStatus `json:"queues"`
}

// Runtime assembles and supervises the scheduling engine.
type Runtime struct {
	mu     sync.Mutex
	state  State
	deps   Deps
	queues map[string]*queue.Queue
	logger *slog.Logger
}

func New(deps Deps) *Runtime {
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runtime{
		state:  StateUninitialized,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "scheduler")),
	}
}

// Initialize builds the queues, registers all processors, and installs the
// recurring schedules. Calling it again while ready is a no-op; calling it
// after shutdown restarts the engine with fresh queues.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateReady, StateInitializing:
		return nil
	case StateShuttingDown:
		return fmt.Errorf("scheduler is shutting down")
	}

	r.state = StateInitializing
	r.logger.Info("initializing scheduler")

	newQueue := func(name string) *queue.Queue {
		q := queue.New(name,
			queue.WithClock(r.deps.Clock),
			queue.WithLogger(r.deps.Logger),
		)
		q.OnFailed(func(job *queue.Job, err error) {
			telemetry.QueueJobsFailedTotal.WithLabelValues(name).Inc()
			r.logger.Error("job exhausted its attempts",
				slog.String("queue", name),
				slog.String("job", job.Name),
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		})
		return q
	}

	calls := newQueue(QueueCalls)
	webhooks := newQueue(QueueWebhooks)
	maint := newQueue(QueueMaintenance)
	r.queues = map[string]*queue.Queue{
		QueueCalls:       calls,
		QueueWebhooks:    webhooks,
		QueueMaintenance: maint,
	}

	emitter := events.NewEmitter(r.deps.Producer, webhooks, r.deps.Logger)

	loop := dispatch.NewLoop(calls, r.deps.Items, r.deps.Agents, r.deps.Config,
		r.deps.Guard, emitter, r.deps.Clock, r.deps.Logger)
	caller := dispatch.NewCallProcessor(r.deps.Items, r.deps.History, r.deps.Agents,
		r.deps.Config, r.deps.Dialer, emitter, r.deps.Clock, r.deps.Logger)
	deliverer := events.NewDeliverer(r.deps.Config, r.deps.Logger)
	sweep := maintenance.NewRetentionSweep(r.deps.Items, r.deps.History,
		r.deps.Config, r.deps.Clock, r.deps.Logger)
	probe := maintenance.NewAvailabilityProbe(r.deps.Agents, r.deps.Presence, r.deps.Logger)

	handlers := []struct {
		q       *queue.Queue
		name    string
		handler queue.Handler
	}{
		{calls, dispatch.JobProcessCallQueue, loop.Run},
		{calls, dispatch.JobMakeCall, caller.Process},
		{webhooks, events.JobDeliverWebhook, deliverer.Process},
		{maint, maintenance.JobCleanupOldRecords, sweep.Run},
		{maint, maintenance.JobCheckAgentAvailability, probe.Run},
	}
	for _, h := range handlers {
		if err := h.q.Process(h.name, h.handler); err != nil {
			r.closeQueuesLocked()
			r.state = StateStopped
			return fmt.Errorf("register %s handler: %w", h.name, err)
		}
	}

	if err := r.installSchedules(calls, maint); err != nil {
		r.closeQueuesLocked()
		r.state = StateStopped
		return err
	}

	r.state = StateReady
	r.logger.Info("scheduler ready",
		slog.Bool("kafka_events", r.deps.Producer != nil),
		slog.Bool("rate_limiting", r.deps.Guard != nil))
	return nil
}

func (r *Runtime) installSchedules(calls, maint *queue.Queue) error {
	retention := queue.EveryInterval("retention-sweep", retentionDevEvery)
	if r.deps.Production {
		retention = queue.DailyAt("retention-sweep", retentionProdHour)
	}

	schedules := []struct {
		q    *queue.Queue
		name string
		rec  *queue.Recurrence
	}{
		{calls, dispatch.JobProcessCallQueue, queue.EveryInterval("dispatch-cycle", dispatchEvery)},
		{maint, maintenance.JobCleanupOldRecords, retention},
		{maint, maintenance.JobCheckAgentAvailability, queue.EveryInterval("availability-probe", availabilityProbeEvery)},
	}
	for _, s := range schedules {
		if _, err := s.q.Add(s.name, nil, queue.Options{Repeat: s.rec}); err != nil {
			return fmt.Errorf("install %s schedule: %w", s.rec.JobID, err)
		}
	}
	return nil
}

// Shutdown stops every queue and waits for their sweep loops to exit.
// In-flight handlers get to finish; queued work is discarded. Safe to call
// at any lifecycle point, including before Initialize.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReady && r.state != StateInitializing {
		r.state = StateStopped
		return
	}

	r.state = StateShuttingDown
	r.logger.Info("shutting down scheduler")
	r.closeQueuesLocked()
	r.state = StateStopped
	r.logger.Info("scheduler stopped")
}

func (r *Runtime) closeQueuesLocked() {
	for _, q := range r.queues {
		q.Close()
	}
	r.queues = nil
}

// State returns the current lifecycle phase.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Ready reports whether the engine is serving. Used by the readiness probe.
func (r *Runtime) Ready() bool { return r.State() == StateReady }

// Queue returns the named queue while the runtime is ready.
func (r *Runtime) Queue(name string) (*queue.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	return q, ok
}

// EmptyQueue drops every waiting job on the named queue, leaving in-flight
// jobs and recurring schedules alone. Reports whether the queue exists.
func (r *Runtime) EmptyQueue(name string) bool {
	q, ok := r.Queue(name)
	if !ok {
		return false
	}
	q.Empty()
	r.logger.Info("queue emptied", slog.String("queue", name))
	return true
}

// Status snapshots the runtime state and per-queue job counts.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{State: r.state, Queues: make(map[string]QueueStatus)}
	for name, q := range r.queues {
		waiting, active := q.JobCounts()
		st.Queues[name] = QueueStatus{
			Waiting:     waiting,
			Active:      active,
			Recurrences: q.Recurrences(),
		}
	}
	return st
}
