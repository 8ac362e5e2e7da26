package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

// CallHistoryRepository records placed calls for auditing and retention.
type CallHistoryRepository interface {
	Record(ctx context.Context, call *domain.CallHistory) error
	ListRecent(ctx context.Context, limit int) ([]*domain.CallHistory, error)
	// DeleteBefore removes history rows started before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type callHistoryRepo struct {
	pool *pgxpool.Pool
}

// NewCallHistoryRepository wraps a pgxpool with the CallHistoryRepository interface.
func NewCallHistoryRepository(pool *pgxpool.Pool) CallHistoryRepository {
	return &callHistoryRepo{pool: pool}
}

func (r *callHistoryRepo) Record(ctx context.Context, call *domain.CallHistory) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_history
			(id, queue_item_id, client_id, agent_id, phone_number,
			 provider_call_id, result, duration_seconds, started_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		call.ID, call.QueueItemID, call.ClientID, call.AgentID,
		call.PhoneNumber, call.ProviderCallID, string(call.Result),
		call.DurationSeconds, call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record call history for item %s: %w", call.QueueItemID, err)
	}
	return nil
}

func (r *callHistoryRepo) ListRecent(ctx context.Context, limit int) ([]*domain.CallHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, queue_item_id, client_id, agent_id, phone_number,
		       provider_call_id, result, duration_seconds, started_at
		FROM call_history
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallHistory
	for rows.Next() {
		var c domain.CallHistory
		var result string
		if err := rows.Scan(
			&c.ID, &c.QueueItemID, &c.ClientID, &c.AgentID, &c.PhoneNumber,
			&c.ProviderCallID, &result, &c.DurationSeconds, &c.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call history: %w", err)
		}
		c.Result = domain.CallResult(result)
		calls = append(calls, &c)
	}
	return calls, rows.Err()
}

func (r *callHistoryRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM call_history WHERE started_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete call history before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}
