package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magotmarket/payment-service/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
			id, gross_amount, transaction_status, payment_status, items,
			customer_name, customer_phone, customer_email,
			farmer_name, farmer_phone, farmer_email, snap_token
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	selectOrderSQL = `SELECT id, gross_amount, transaction_status, payment_status, items,
			customer_name, customer_phone, customer_email,
			farmer_name, farmer_phone, farmer_email, snap_token,
			last_processed_at, created_at
		FROM orders WHERE id = $1`

	selectStalePendingSQL = `SELECT id, gross_amount, transaction_status, payment_status, items,
			customer_name, customer_phone, customer_email,
			farmer_name, farmer_phone, farmer_email, snap_token,
			last_processed_at, created_at
		FROM orders
		WHERE transaction_status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	recordNotificationSQL = `INSERT INTO processed_notifications (order_id, notification_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	wasProcessedSQL = `SELECT EXISTS (
			SELECT 1 FROM processed_notifications WHERE order_id = $1 AND notification_id = $2
		)`

	casStatusSQL = `UPDATE orders
		SET transaction_status = $1, payment_status = $2,
			last_notification_id = $3, last_processed_at = now()
		WHERE id = $4 AND transaction_status = $5`

	reserveStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	restoreStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	insertOutboxSQL = `INSERT INTO outbox_messages (id, order_id, recipient, body, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', now())`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new pending order and reserves stock for its items in
// one transaction. Items are serialized to JSON for the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.GrossAmount, o.Status, o.PaymentStatus, itemsJSON,
		o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Farmer.Name, o.Farmer.Phone, o.Farmer.Email, o.SnapToken,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		tag, err := tx.Exec(ctx, reserveStockSQL, item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("reserving stock for %q: %w", item.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return &order.InsufficientStockError{ProductID: item.ProductID}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its normalized identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, selectOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListStalePending returns pending orders created before the cutoff.
func (r *OrderRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, selectStalePendingSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// WasProcessed reports whether the notification identity was already recorded.
func (r *OrderRepository) WasProcessed(ctx context.Context, orderID, notificationID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, wasProcessedSQL, orderID, notificationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking processed notification: %w", err)
	}
	return exists, nil
}

// ApplyTransition performs the idempotency-key insert, the status
// compare-and-swap, the stock adjustment, and the outbox enqueue in a single
// transaction. Either all of it becomes visible or none of it.
func (r *OrderRepository) ApplyTransition(ctx context.Context, t order.Transition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, recordNotificationSQL, t.OrderID, t.NotificationID)
	if err != nil {
		return fmt.Errorf("recording notification %q: %w", t.NotificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrDuplicateNotification
	}

	tag, err = tx.Exec(ctx, casStatusSQL,
		t.To, t.PaymentStatus, t.NotificationID, t.OrderID, t.From,
	)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", t.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent writer moved the order between load and apply.
		return order.ErrStaleStatus
	}

	if t.Stock != order.StockNone {
		if err := r.adjustStock(ctx, tx, t); err != nil {
			return err
		}
	}

	for _, msg := range t.Messages {
		if _, err := tx.Exec(ctx, insertOutboxSQL, msg.ID, msg.OrderID, msg.Recipient, msg.Body); err != nil {
			return fmt.Errorf("enqueueing outbox message for %q: %w", t.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition for %q: %w", t.OrderID, err)
	}
	return nil
}

func (r *OrderRepository) adjustStock(ctx context.Context, tx pgx.Tx, t order.Transition) error {
	var itemsJSON []byte
	if err := tx.QueryRow(ctx, `SELECT items FROM orders WHERE id = $1`, t.OrderID).Scan(&itemsJSON); err != nil {
		return fmt.Errorf("loading items for %q: %w", t.OrderID, err)
	}
	var items []order.Item
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return fmt.Errorf("unmarshaling items for %q: %w", t.OrderID, err)
	}

	for _, item := range items {
		switch t.Stock {
		case order.StockReserve:
			tag, err := tx.Exec(ctx, reserveStockSQL, item.ProductID, item.Quantity)
			if err != nil {
				return fmt.Errorf("adjusting stock for %q: %w", item.ProductID, err)
			}
			if tag.RowsAffected() == 0 {
				return &order.InsufficientStockError{ProductID: item.ProductID}
			}
		case order.StockRestore:
			if _, err := tx.Exec(ctx, restoreStockSQL, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("adjusting stock for %q: %w", item.ProductID, err)
			}
		}
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		processed *time.Time
	)
	err := row.Scan(
		&o.ID, &o.GrossAmount, &o.Status, &o.PaymentStatus, &itemsJSON,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Farmer.Name, &o.Farmer.Phone, &o.Farmer.Email, &o.SnapToken,
		&processed, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if processed != nil {
		o.LastProcessedAt = *processed
	}
	return o, nil
}
