package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ramiqadoumi/go-dial-flow/internal/kafka"
	"github.com/ramiqadoumi/go-dial-flow/internal/queue"
)

// Emitter publishes call events to Kafka and enqueues webhook deliveries.
// Either sink may be nil, which disables it; with both nil Emit is a no-op.
type Emitter struct {
	producer kafka.Producer
	webhooks queue.Enqueuer
	logger   *slog.Logger
}

func NewEmitter(producer kafka.Producer, webhooks queue.Enqueuer, logger *slog.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		webhooks: webhooks,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit sends ev to every configured sink. Failures are logged and swallowed:
// event delivery must never fail the call flow that produced the event.
func (e *Emitter) Emit(ctx context.Context, ev CallEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("marshal call event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}

	if e.producer != nil {
		// Key by queue item so all transitions of one call land on one
		// partition, in order.
		if err := e.producer.Publish(ctx, kafka.TopicCallEvents, ev.QueueItemID, body); err != nil {
			e.logger.Error("publish call event",
				slog.String("type", ev.Type),
				slog.String("queue_item_id", ev.QueueItemID),
				slog.String("error", err.Error()))
		}
	}

	if e.webhooks != nil {
		if _, err := e.webhooks.Add(JobDeliverWebhook, json.RawMessage(body), queue.Options{}); err != nil {
			e.logger.Error("enqueue webhook delivery",
				slog.String("type", ev.Type),
				slog.String("queue_item_id", ev.QueueItemID),
				slog.String("error", err.Error()))
		}
	}
}
