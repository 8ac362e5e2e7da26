// Package postgres is the durable store for the call backlog and call
// history. The dispatch loop and call processor only ever reference rows
// through these repositories; nothing is cached between cycles.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-dial-flow/internal/domain"
)

// CallQueueRepository abstracts all database access for call-queue items.
type CallQueueRepository interface {
	Create(ctx context.Context, item *domain.CallQueueItem) error
	GetByID(ctx context.Context, id string) (*domain.CallQueueItem, error)
	// FetchDispatchable returns pending items due at or before now that are
	// unassigned or already assigned to agentID, ordered by (priority asc,
	// scheduled_for asc).
	FetchDispatchable(ctx context.Context, agentID string, now time.Time, limit int) ([]*domain.CallQueueItem, error)
	// Assign binds an unassigned item to agentID. Assignment is sticky: an
	// item already bound to a different agent is left untouched and an error
	// is returned.
	Assign(ctx context.Context, itemID, agentID string) error
	// MarkInProgress transitions the item to in-progress, stamps the attempt
	// time, increments attempts, and returns the new attempt count.
	MarkInProgress(ctx context.Context, itemID string, now time.Time) (int, error)
	// Reschedule moves the item back to pending with a future scheduled_for.
	Reschedule(ctx context.Context, itemID string, result domain.CallResult, at time.Time) error
	Complete(ctx context.Context, itemID string) error
	Fail(ctx context.Context, itemID string) error
	ListByStatus(ctx context.Context, status domain.ItemStatus, limit int) ([]*domain.CallQueueItem, error)
	CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error)
	// DeleteTerminalBefore removes completed/failed items updated before
	// cutoff. It never touches non-terminal rows.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type callQueueRepo struct {
	pool *pgxpool.Pool
}

// NewCallQueueRepository wraps a pgxpool with the CallQueueRepository interface.
func NewCallQueueRepository(pool *pgxpool.Pool) CallQueueRepository {
	return &callQueueRepo{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

const itemColumns = `id, client_id, phone_number, status, priority, assigned_to,
	scheduled_for, attempts, last_attempt, last_result, notes, created_at, updated_at`

func (r *callQueueRepo) Create(ctx context.Context, item *domain.CallQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = domain.ItemPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_queue
			(id, client_id, phone_number, status, priority, assigned_to,
			 scheduled_for, attempts, last_attempt, last_result, notes, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, NULLIF($10, ''), $11, $12, $13)
	`,
		item.ID, item.ClientID, item.PhoneNumber, string(item.Status),
		item.Priority, item.AssignedTo, item.ScheduledFor, item.Attempts,
		item.LastAttempt, string(item.LastResult), item.Notes,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create call queue item %s: %w", item.ID, err)
	}
	return nil
}

func (r *callQueueRepo) GetByID(ctx context.Context, id string) (*domain.CallQueueItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM call_queue
		WHERE id = $1
	`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ItemNotFoundError{ItemID: id}
		}
		return nil, err
	}
	return item, nil
}

func (r *callQueueRepo) FetchDispatchable(ctx context.Context, agentID string, now time.Time, limit int) ([]*domain.CallQueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM call_queue
		WHERE status = $1
		  AND scheduled_for <= $2
		  AND (assigned_to IS NULL OR assigned_to = $3)
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT $4
	`, string(domain.ItemPending), now, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch dispatchable items for agent %s: %w", agentID, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *callQueueRepo) Assign(ctx context.Context, itemID, agentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE call_queue
		SET assigned_to = $2, updated_at = NOW()
		WHERE id = $1 AND (assigned_to IS NULL OR assigned_to = $2)
	`, itemID, agentID)
	if err != nil {
		return fmt.Errorf("assign item %s to agent %s: %w", itemID, agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s is missing or already assigned to another agent", itemID)
	}
	return nil
}

func (r *callQueueRepo) MarkInProgress(ctx context.Context, itemID string, now time.Time) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE call_queue
		SET status = $2, last_attempt = $3, attempts = attempts + 1, updated_at = $3
		WHERE id = $1
		RETURNING attempts
	`, itemID, string(domain.ItemInProgress), now).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &domain.ItemNotFoundError{ItemID: itemID}
		}
		return 0, fmt.Errorf("mark item %s in progress: %w", itemID, err)
	}
	return attempts, nil
}

func (r *callQueueRepo) Reschedule(ctx context.Context, itemID string, result domain.CallResult, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_queue
		SET status = $2, last_result = $3, scheduled_for = $4, updated_at = NOW()
		WHERE id = $1
	`, itemID, string(domain.ItemPending), string(result), at)
	if err != nil {
		return fmt.Errorf("reschedule item %s: %w", itemID, err)
	}
	return nil
}

func (r *callQueueRepo) Complete(ctx context.Context, itemID string) error {
	return r.finish(ctx, itemID, domain.ItemCompleted, domain.ResultConnected)
}

func (r *callQueueRepo) Fail(ctx context.Context, itemID string) error {
	return r.finish(ctx, itemID, domain.ItemFailed, domain.ResultFailed)
}

func (r *callQueueRepo) finish(ctx context.Context, itemID string, status domain.ItemStatus, result domain.CallResult) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE call_queue
		SET status = $2, last_result = $3, updated_at = NOW()
		WHERE id = $1
	`, itemID, string(status), string(result))
	if err != nil {
		return fmt.Errorf("finish item %s as %s: %w", itemID, status, err)
	}
	return nil
}

func (r *callQueueRepo) ListByStatus(ctx context.Context, status domain.ItemStatus, limit int) ([]*domain.CallQueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM call_queue
		WHERE status = $1
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list items by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *callQueueRepo) CountByStatus(ctx context.Context) (map[domain.ItemStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM call_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ItemStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.ItemStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *callQueueRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM call_queue
		WHERE status = ANY($1) AND updated_at < $2
	`, []string{string(domain.ItemCompleted), string(domain.ItemFailed)}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal items before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func collectItems(rows pgx.Rows) ([]*domain.CallQueueItem, error) {
	var items []*domain.CallQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanItem reads an item row from any pgx row type.
func scanItem(row interface {
	Scan(...any) error
}) (*domain.CallQueueItem, error) {
	var item domain.CallQueueItem
	var status string
	var assignedTo, lastResult *string
	err := row.Scan(
		&item.ID, &item.ClientID, &item.PhoneNumber, &status,
		&item.Priority, &assignedTo, &item.ScheduledFor, &item.Attempts,
		&item.LastAttempt, &lastResult, &item.Notes,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = domain.ItemStatus(status)
	if assignedTo != nil {
		item.AssignedTo = *assignedTo
	}
	if lastResult != nil {
		item.LastResult = domain.CallResult(*lastResult)
	}
	return &item, nil
}
