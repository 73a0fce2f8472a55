package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magotmarket/payment-service/internal/outbox"
)

const (
	// SKIP LOCKED lets concurrent dispatchers claim disjoint batches.
	claimBatchSQL = `UPDATE outbox_messages
		SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, order_id, recipient, body, status, attempts, next_attempt_at, created_at`

	markSentSQL = `UPDATE outbox_messages SET status = 'sent', sent_at = now() WHERE id = $1`

	markFailedSQL = `UPDATE outbox_messages
		SET status = $2, attempts = attempts + 1, next_attempt_at = $3
		WHERE id = $1`
)

var _ outbox.Store = (*OutboxStore)(nil)

// OutboxStore implements outbox.Store backed by PostgreSQL.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore returns an OutboxStore that uses the given pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// ClaimBatch claims up to limit due messages. Claimed rows get their next
// attempt pushed past the lease window, so a crashed dispatcher only delays
// them, never loses them, and a healthy one finishes the batch before any
// other instance can see it.
func (s *OutboxStore) ClaimBatch(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]outbox.Message, error) {
	rows, err := s.pool.Query(ctx, claimBatchSQL, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox batch: %w", err)
	}
	return pgx.CollectRows(rows, scanMessage)
}

// MarkSent finalizes a delivered message.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, markSentSQL, id); err != nil {
		return fmt.Errorf("marking outbox message %q sent: %w", id, err)
	}
	return nil
}

// MarkFailed schedules a retry or moves the message to dead.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string, nextAttempt time.Time, dead bool) error {
	status := outbox.StatusPending
	if dead {
		status = outbox.StatusDead
	}
	if _, err := s.pool.Exec(ctx, markFailedSQL, id, status, nextAttempt); err != nil {
		return fmt.Errorf("marking outbox message %q failed: %w", id, err)
	}
	return nil
}

func scanMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var m outbox.Message
	err := row.Scan(&m.ID, &m.OrderID, &m.Recipient, &m.Body, &m.Status, &m.Attempts, &m.NextAttemptAt, &m.CreatedAt)
	return m, err
}
