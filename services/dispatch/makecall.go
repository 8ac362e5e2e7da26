package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/internal/telephony"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-dial-flow/services/events"
)

// agentUnavailableDelay is how far out an item moves when its assigned agent
// cannot take the call right now. Deliberately shorter than retry_delay:
// agent presence flaps on the order of minutes, provider failures don't.
const agentUnavailableDelay = 5 * time.Minute

// placeCallTimeout bounds one provider placement attempt.
const placeCallTimeout = 30 * time.Second

// CallProcessor handles makeCall jobs: re-check the agent, place the call,
// and settle the queue item. Business retries (agent away, provider error)
// are expressed as item reschedules and return nil; only infrastructure
// failures return an error and spend the job's own retry budget.
type CallProcessor struct {
	items   postgres.CallQueueRepository
	history postgres.CallHistoryRepository
	agents  redisstore.AgentDirectory
	config  redisstore.ConfigStore
	dialer  telephony.Dialer
	emitter *events.Emitter
	clk     clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewCallProcessor(
	items postgres.CallQueueRepository,
	history postgres.CallHistoryRepository,
	agents redisstore.AgentDirectory,
	config redisstore.ConfigStore,
	dialer telephony.Dialer,
	emitter *events.Emitter,
	clk clock.Clock,
	logger *slog.Logger,
) *CallProcessor {
	return &CallProcessor{
		items:   items,
		history: history,
		agents:  agents,
		config:  config,
		dialer:  dialer,
		emitter: emitter,
		clk:     clk,
		logger:  logger.With(slog.String("component", "make_call")),
		tracer:  otel.Tracer("dialflow-dispatch"),
	}
}

// Process places one call for one queue item.
func (p *CallProcessor) Process(ctx context.Context, payload json.RawMessage) error {
	var cp CallPayload
	if err := json.Unmarshal(payload, &cp); err != nil {
		return fmt.Errorf("decode makeCall payload: %w", err)
	}

	ctx, span := p.tracer.Start(ctx, "dispatch.make_call",
		trace.WithAttributes(
			attribute.String("queue_item_id", cp.QueueItemID),
			attribute.String("agent_id", cp.AgentID),
		))
	defer span.End()

	item, err := p.items.GetByID(ctx, cp.QueueItemID)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		// A stale or duplicate job after the item already settled.
		p.logger.Debug("queue item already settled",
			slog.String("queue_item_id", item.ID),
			slog.String("status", string(item.Status)))
		return nil
	}

	log := p.logger.With(
		slog.String("queue_item_id", item.ID),
		slog.String("agent_id", cp.AgentID),
	)

	now := p.clk.Now()
	attempts, err := p.items.MarkInProgress(ctx, item.ID, now)
	if err != nil {
		return err
	}

	agent, err := p.agents.Get(ctx, cp.AgentID)
	if err != nil {
		var notFound *domain.AgentNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		agent = nil
	}
	if agent == nil || !agent.Eligible() {
		return p.rescheduleAgentAway(ctx, item, cp.AgentID, now, log)
	}
	if agent.ProviderUserID == "" || agent.ProviderNumberID == "" {
		// Cannot ever place a call for this agent as provisioned; retrying
		// would loop forever on the same item.
		identErr := &domain.MissingProviderIdentityError{AgentID: agent.AgentID}
		log.Error("failing item", slog.String("error", identErr.Error()))
		return p.settleFailed(ctx, item, agent.AgentID, attempts, now)
	}

	callCtx, cancel := context.WithTimeout(ctx, placeCallTimeout)
	defer cancel()
	providerCallID, err := p.dialer.PlaceCall(callCtx, telephony.CallRequest{
		AgentProviderID:  agent.ProviderUserID,
		NumberProviderID: agent.ProviderNumberID,
		PhoneNumber:      item.PhoneNumber,
		Metadata: telephony.CallMetadata{
			ClientID:    item.ClientID,
			QueueItemID: item.ID,
		},
	})
	if err != nil {
		var badNumber *domain.InvalidPhoneNumberError
		if errors.As(err, &badNumber) {
			// The number will never become valid; don't burn retries on it.
			log.Error("invalid phone number, failing item", slog.String("error", err.Error()))
			return p.settleFailed(ctx, item, agent.AgentID, attempts, now)
		}
		log.Warn("call placement failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return p.settlePlacementError(ctx, item, agent.AgentID, attempts, now)
	}

	return p.settleConnected(ctx, item, agent.AgentID, providerCallID, now, log)
}

// rescheduleAgentAway pushes the item a short fixed delay out with the
// agent-unavailable result. The item keeps its assignment.
func (p *CallProcessor) rescheduleAgentAway(ctx context.Context, item *domain.CallQueueItem, agentID string, now time.Time, log *slog.Logger) error {
	at := now.Add(agentUnavailableDelay)
	if err := p.items.Reschedule(ctx, item.ID, domain.ResultAgentUnavailable, at); err != nil {
		return err
	}
	telemetry.ItemsRescheduledTotal.WithLabelValues("agent_unavailable").Inc()
	log.Info("agent unavailable, rescheduled", slog.Time("next_attempt", at))
	p.emit(ctx, events.CallEvent{
		Type:          events.EventCallRescheduled,
		QueueItemID:   item.ID,
		ClientID:      item.ClientID,
		AgentID:       agentID,
		PhoneNumber:   item.PhoneNumber,
		Result:        string(domain.ResultAgentUnavailable),
		NextAttemptAt: at,
		At:            now,
	})
	return nil
}

// settlePlacementError either reschedules the item by retry_delay or, once
// the attempt budget is spent, fails it for good.
func (p *CallProcessor) settlePlacementError(ctx context.Context, item *domain.CallQueueItem, agentID string, attempts int, now time.Time) error {
	telemetry.CallsPlacedTotal.WithLabelValues(string(domain.ResultError)).Inc()

	if attempts >= p.config.Int(ctx, domain.KeyMaxRetries) {
		return p.settleFailed(ctx, item, agentID, attempts, now)
	}

	at := now.Add(p.config.Duration(ctx, domain.KeyRetryDelay))
	if err := p.items.Reschedule(ctx, item.ID, domain.ResultError, at); err != nil {
		return err
	}
	telemetry.ItemsRescheduledTotal.WithLabelValues("placement_error").Inc()
	p.emit(ctx, events.CallEvent{
		Type:          events.EventCallRescheduled,
		QueueItemID:   item.ID,
		ClientID:      item.ClientID,
		AgentID:       agentID,
		PhoneNumber:   item.PhoneNumber,
		Result:        string(domain.ResultError),
		Attempts:      attempts,
		NextAttemptAt: at,
		At:            now,
	})
	return nil
}

func (p *CallProcessor) settleFailed(ctx context.Context, item *domain.CallQueueItem, agentID string, attempts int, now time.Time) error {
	if err := p.items.Fail(ctx, item.ID); err != nil {
		return err
	}
	telemetry.CallsPlacedTotal.WithLabelValues(string(domain.ResultFailed)).Inc()
	p.emit(ctx, events.CallEvent{
		Type:        events.EventCallFailed,
		QueueItemID: item.ID,
		ClientID:    item.ClientID,
		AgentID:     agentID,
		PhoneNumber: item.PhoneNumber,
		Result:      string(domain.ResultFailed),
		Attempts:    attempts,
		At:          now,
	})
	return nil
}

func (p *CallProcessor) settleConnected(ctx context.Context, item *domain.CallQueueItem, agentID, providerCallID string, now time.Time, log *slog.Logger) error {
	if err := p.agents.SetInCall(ctx, agentID, providerCallID); err != nil {
		log.Warn("mark agent in-call", slog.String("error", err.Error()))
	}

	if err := p.history.Record(ctx, &domain.CallHistory{
		QueueItemID:    item.ID,
		ClientID:       item.ClientID,
		AgentID:        agentID,
		PhoneNumber:    item.PhoneNumber,
		ProviderCallID: providerCallID,
		Result:         domain.ResultConnected,
		StartedAt:      now,
	}); err != nil {
		log.Error("record call history", slog.String("error", err.Error()))
	}

	if err := p.items.Complete(ctx, item.ID); err != nil {
		return err
	}

	telemetry.CallsPlacedTotal.WithLabelValues(string(domain.ResultConnected)).Inc()
	log.Info("call connected", slog.String("provider_call_id", providerCallID))
	p.emit(ctx, events.CallEvent{
		Type:           events.EventCallConnected,
		QueueItemID:    item.ID,
		ClientID:       item.ClientID,
		AgentID:        agentID,
		PhoneNumber:    item.PhoneNumber,
		ProviderCallID: providerCallID,
		Result:         string(domain.ResultConnected),
		At:             now,
	})
	return nil
}

func (p *CallProcessor) emit(ctx context.Context, ev events.CallEvent) {
	if p.emitter != nil {
		p.emitter.Emit(ctx, ev)
	}
}
