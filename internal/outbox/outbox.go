// Package outbox drains the durable notification queue. Messages are
// enqueued transactionally together with the order transition that caused
// them; delivery is retried with backoff and is eventually consistent.
package outbox

import (
	"context"
	"time"
)

// MessageStatus is the delivery lifecycle of one outbox row.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	// StatusDead marks a message that exhausted its attempts.
	StatusDead MessageStatus = "dead"
)

// Message is one pending WhatsApp notification.
type Message struct {
	ID            string
	OrderID       string
	Recipient     string
	Body          string
	Status        MessageStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// Store provides claim-and-settle operations over the outbox table.
type Store interface {
	// ClaimBatch atomically claims up to limit due pending messages and
	// leases them until now+lease, so concurrent dispatchers never deliver
	// the same message twice while it is in flight.
	ClaimBatch(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id string) error
	// MarkFailed increments the attempt counter and schedules the retry, or
	// moves the message to dead when attempts are exhausted.
	MarkFailed(ctx context.Context, id string, nextAttempt time.Time, dead bool) error
}
