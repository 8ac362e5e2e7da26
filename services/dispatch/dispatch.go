// Package dispatch runs the per-cycle allocation of pending calls to
// eligible agents and the per-call placement processor. One dispatch cycle
// is one processCallQueue job; one placement is one makeCall job.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	"github.com/ramiqadoumi/go-dial-flow/internal/queue"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-dial-flow/services/events"
)

// Job names owned by this package.
const (
	JobProcessCallQueue = "processCallQueue"
	JobMakeCall         = "makeCall"
)

// makeCall jobs get a small fixed-backoff budget of their own; the longer
// business retry cadence lives on the queue item, not the job.
const (
	makeCallAttempts = 2
	makeCallBackoff  = 30 * time.Second
)

// CallPayload is the makeCall job payload.
type CallPayload struct {
	QueueItemID string `json:"queue_item_id"`
	AgentID     string `json:"agent_id"`
}

// Skip reasons reported in CycleResult and on the dispatch metrics.
const (
	ReasonOutsideBusinessHours = "outside_business_hours"
	ReasonNoAvailableAgents    = "no_available_agents"
)

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
	CallsScheduled int    `json:"calls_scheduled"`
}

// Loop allocates dispatchable queue items to eligible agents. It holds no
// state between cycles; every cycle re-reads agents, config, and backlog.
type Loop struct {
	calls   queue.Enqueuer
	items   postgres.CallQueueRepository
	agents  redisstore.AgentDirectory
	config  redisstore.ConfigStore
	guard   redisstore.DialGuard // nil disables per-agent rate limiting
	emitter *events.Emitter
	clk     clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewLoop(
	calls queue.Enqueuer,
	items postgres.CallQueueRepository,
	agents redisstore.AgentDirectory,
	config redisstore.ConfigStore,
	guard redisstore.DialGuard,
	emitter *events.Emitter,
	clk clock.Clock,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		calls:   calls,
		items:   items,
		agents:  agents,
		config:  config,
		guard:   guard,
		emitter: emitter,
		clk:     clk,
		logger:  logger.With(slog.String("component", "dispatch")),
		tracer:  otel.Tracer("dialflow-dispatch"),
	}
}

// Run adapts RunCycle to the queue handler signature for the recurring
// processCallQueue job. The payload is unused.
func (l *Loop) Run(ctx context.Context, _ json.RawMessage) error {
	result, err := l.RunCycle(ctx)
	if err != nil {
		return err
	}
	if result.Skipped {
		l.logger.Debug("dispatch cycle skipped", slog.String("reason", result.Reason))
	} else {
		l.logger.Info("dispatch cycle complete", slog.Int("calls_scheduled", result.CallsScheduled))
	}
	return nil
}

// RunCycle performs one allocation pass. Per-agent and per-item failures are
// logged and skipped so one bad agent cannot starve the rest of the cycle;
// only a failure to list agents at all aborts the cycle.
func (l *Loop) RunCycle(ctx context.Context) (CycleResult, error) {
	ctx, span := l.tracer.Start(ctx, "dispatch.cycle")
	defer span.End()

	now := l.clk.Now()

	if !l.withinBusinessHours(ctx, now) {
		telemetry.DispatchCyclesTotal.WithLabelValues(ReasonOutsideBusinessHours).Inc()
		span.SetAttributes(attribute.String("skip_reason", ReasonOutsideBusinessHours))
		return CycleResult{Skipped: true, Reason: ReasonOutsideBusinessHours}, nil
	}

	agents, err := l.agents.EligibleAgents(ctx)
	if err != nil {
		telemetry.DispatchCyclesTotal.WithLabelValues("error").Inc()
		return CycleResult{}, err
	}
	if len(agents) == 0 {
		telemetry.DispatchCyclesTotal.WithLabelValues(ReasonNoAvailableAgents).Inc()
		span.SetAttributes(attribute.String("skip_reason", ReasonNoAvailableAgents))
		return CycleResult{Skipped: true, Reason: ReasonNoAvailableAgents}, nil
	}

	limit := l.config.Int(ctx, domain.KeyCallRateLimit)

	scheduled := 0
	for _, agent := range agents {
		n, err := l.dispatchForAgent(ctx, agent.AgentID, limit, now)
		scheduled += n
		if err != nil {
			l.logger.Error("dispatch for agent failed",
				slog.String("agent_id", agent.AgentID),
				slog.String("error", err.Error()))
		}
	}

	telemetry.DispatchCyclesTotal.WithLabelValues("dispatched").Inc()
	telemetry.DispatchCallsScheduled.Add(float64(scheduled))
	span.SetAttributes(
		attribute.Int("agents", len(agents)),
		attribute.Int("calls_scheduled", scheduled),
	)
	return CycleResult{CallsScheduled: scheduled}, nil
}

// dispatchForAgent assigns up to limit items to one agent and enqueues a
// makeCall job per item. Returns the number scheduled even on error so the
// cycle total stays honest.
func (l *Loop) dispatchForAgent(ctx context.Context, agentID string, limit int, now time.Time) (int, error) {
	items, err := l.items.FetchDispatchable(ctx, agentID, now, limit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range items {
		if l.guard != nil {
			allowed, err := l.guard.Allow(ctx, agentID, limit)
			if err != nil {
				// A broken limiter must not stall dispatch.
				l.logger.Warn("dial guard unavailable", slog.String("error", err.Error()))
			} else if !allowed {
				break
			}
		}

		// Sticky assignment: once an item has an agent, retries stay with
		// that agent. FetchDispatchable only returns unassigned items or
		// items already assigned to this agent.
		if item.AssignedTo == "" {
			if err := l.items.Assign(ctx, item.ID, agentID); err != nil {
				l.logger.Warn("assign queue item",
					slog.String("queue_item_id", item.ID),
					slog.String("error", err.Error()))
				continue
			}
		}

		payload := CallPayload{QueueItemID: item.ID, AgentID: agentID}
		if _, err := l.calls.Add(JobMakeCall, payload, queue.Options{
			Attempts: makeCallAttempts,
			Backoff:  makeCallBackoff,
		}); err != nil {
			l.logger.Error("enqueue makeCall",
				slog.String("queue_item_id", item.ID),
				slog.String("error", err.Error()))
			continue
		}

		if l.emitter != nil {
			l.emitter.Emit(ctx, events.CallEvent{
				Type:        events.EventCallScheduled,
				QueueItemID: item.ID,
				ClientID:    item.ClientID,
				AgentID:     agentID,
				PhoneNumber: item.PhoneNumber,
				At:          now,
			})
		}
		count++
	}
	return count, nil
}
