// Package maintenance holds the recurring housekeeping jobs: purging settled
// records past the retention horizon and downgrading agents whose provider
// presence has gone stale.
package maintenance

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
	"github.com/ramiqadoumi/go-dial-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-dial-flow/internal/redis"
	"github.com/ramiqadoumi/go-dial-flow/pkg/clock"
	"github.com/ramiqadoumi/go-dial-flow/pkg/telemetry"
)

// Job names owned by this package.
const (
	JobCleanupOldRecords      = "cleanupOldRecords"
	JobCheckAgentAvailability = "checkAgentAvailability"
)

// RetentionSweep deletes settled queue items and call history older than the
// configured retention window. Pending and in-progress items are never
// touched regardless of age.
type RetentionSweep struct {
	items   postgres.CallQueueRepository
	history postgres.CallHistoryRepository
	config  redisstore.ConfigStore
	clk     clock.Clock
	logger  *slog.Logger
}

func NewRetentionSweep(
	items postgres.CallQueueRepository,
	history postgres.CallHistoryRepository,
	config redisstore.ConfigStore,
	clk clock.Clock,
	logger *slog.Logger,
) *RetentionSweep {
	return &RetentionSweep{
		items:   items,
		history: history,
		config:  config,
		clk:     clk,
		logger:  logger.With(slog.String("component", "retention")),
	}
}

// Run executes one sweep. The payload is unused.
func (s *RetentionSweep) Run(ctx context.Context, _ json.RawMessage) error {
	days := s.config.Int(ctx, domain.KeyRetentionDays)
	cutoff := s.clk.Now().AddDate(0, 0, -days)

	itemsDeleted, err := s.items.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	telemetry.MaintenanceDeletedTotal.WithLabelValues("queue_items").Add(float64(itemsDeleted))

	historyDeleted, err := s.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	telemetry.MaintenanceDeletedTotal.WithLabelValues("call_history").Add(float64(historyDeleted))

	s.logger.Info("retention sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("queue_items_deleted", itemsDeleted),
		slog.Int64("history_deleted", historyDeleted))
	return nil
}
