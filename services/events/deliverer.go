package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
)

// Deliverer posts call events to the tenant-configured webhook URL. It runs
// as the handler for deliverWebhook jobs, so a non-2xx response or transport
// error surfaces as a job error and gets the queue's retry budget.
type Deliverer struct {
	config redisstore.ConfigStore
	client *http.Client
	logger *slog.Logger
}

func NewDeliverer(config redisstore.ConfigStore, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "webhook")),
	}
}

// Process delivers one event. An empty webhook_url means webhooks are not
// configured for this tenant; the job completes without delivering.
func (d *Deliverer) Process(ctx context.Context, payload json.RawMessage) error {
	url := d.config.String(ctx, domain.KeyWebhookURL)
	if url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	telemetry.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	d.logger.Debug("webhook delivered", slog.String("url", url))
	return nil
}
