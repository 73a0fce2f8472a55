package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrDuplicateNotification is returned by Repository.ApplyTransition when the
// notification identity has already been recorded as processed.
var ErrDuplicateNotification = errors.New("notification already processed")

// ErrStaleStatus is returned by Repository.ApplyTransition when the
// compare-and-swap on transaction status matched zero rows, meaning a
// concurrent writer changed the order between load and apply.
var ErrStaleStatus = errors.New("order status changed concurrently")

// Order represents one marketplace purchase. GrossAmount is a whole-rupiah
// value; IDR carries no subunit, so minor units equal rupiah.
type Order struct {
	ID              string
	GrossAmount     int64
	Status          TransactionStatus
	PaymentStatus   PaymentStatus
	Items           []Item
	Customer        Contact
	Farmer          Contact
	SnapToken       string
	LastProcessedAt time.Time
	CreatedAt       time.Time
}

// Item is a single order line used to reserve and restore stock.
type Item struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Contact routes notifications for one party of the order. The core never
// mutates contacts.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// Transition describes one atomic state change: the status compare-and-swap,
// the notification identity to record, the stock adjustment, and the outbox
// messages to enqueue. A Repository applies all of it in a single transaction
// or none of it.
type Transition struct {
	OrderID        string
	From           TransactionStatus
	To             TransactionStatus
	PaymentStatus  PaymentStatus
	NotificationID string
	Stock          StockOp
	Messages       []OutboxMessage
}

// StockOp selects the stock side effect for a transition.
type StockOp int

const (
	StockNone StockOp = iota
	// StockReserve decrements product stock by the ordered quantities.
	StockReserve
	// StockRestore returns previously reserved quantities to stock.
	StockRestore
)

// OutboxMessage is a pending customer or farmer notification, enqueued in the
// same transaction as the transition it belongs to.
type OutboxMessage struct {
	ID        string
	OrderID   string
	Recipient string
	Body      string
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListStalePending returns pending orders created before the cutoff,
	// used by the manual reconciliation sweep.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
	// ApplyTransition atomically records the notification identity, swaps the
	// transaction status, adjusts stock, and enqueues outbox messages.
	// It returns ErrDuplicateNotification or ErrStaleStatus without applying
	// anything when the respective guard fails.
	ApplyTransition(ctx context.Context, t Transition) error
	// WasProcessed reports whether the notification identity has already been
	// recorded for the order.
	WasProcessed(ctx context.Context, orderID, notificationID string) (bool, error)
}

// NormalizeID canonicalizes an order identifier: trims surrounding
// whitespace, removes inner whitespace, and uppercases. Gateways are not
// guaranteed to echo identifiers byte-for-byte.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Join(strings.Fields(id), "")
	return strings.ToUpper(id)
}
