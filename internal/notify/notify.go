// Package notify delivers best-effort WhatsApp messages to customers and
// farmers. Delivery is fire-and-forget relative to order state: a failed send
// never influences reconciliation.
package notify

import "context"

// Dispatcher sends a templated message to a phone number. Implementations
// must honor the context deadline; a timeout is a delivery failure, not a
// reconciliation failure.
type Dispatcher interface {
	Send(ctx context.Context, phone, message string) error
}
