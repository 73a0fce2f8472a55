package payment

import "github.com/magotmarket/payment-service/internal/domain/order"

// Gateway fraud screening outcomes.
const (
	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

// Mapped is the internal interpretation of a gateway (transaction status,
// fraud status) pair.
type Mapped struct {
	Status        order.TransactionStatus
	PaymentStatus order.PaymentStatus
	// Recognized is false when the gateway transaction status was unknown and
	// the mapping degraded to pending; callers should log a warning.
	Recognized bool
}

// Map translates gateway statuses into the internal pair. The decision order
// matters: a card payment can be captured yet still challenged or denied by
// fraud screening, so fraud status is consulted before transaction status.
func Map(transactionStatus, fraudStatus string) Mapped {
	switch fraudStatus {
	case FraudChallenge:
		// Held for manual review; not yet a failure.
		return Mapped{Status: order.StatusPending, PaymentStatus: order.PaymentPending, Recognized: true}
	case FraudDeny:
		return Mapped{Status: order.StatusFailed, PaymentStatus: order.PaymentDeny, Recognized: true}
	}

	switch transactionStatus {
	case "capture":
		return Mapped{Status: order.StatusPaid, PaymentStatus: order.PaymentCapture, Recognized: true}
	case "settlement":
		return Mapped{Status: order.StatusPaid, PaymentStatus: order.PaymentSettlement, Recognized: true}
	case "pending":
		return Mapped{Status: order.StatusPending, PaymentStatus: order.PaymentPending, Recognized: true}
	case "deny":
		return Mapped{Status: order.StatusFailed, PaymentStatus: order.PaymentDeny, Recognized: true}
	case "cancel":
		return Mapped{Status: order.StatusCancelled, PaymentStatus: order.PaymentCancel, Recognized: true}
	case "expire":
		return Mapped{Status: order.StatusExpired, PaymentStatus: order.PaymentExpire, Recognized: true}
	case "failure":
		return Mapped{Status: order.StatusFailed, PaymentStatus: order.PaymentFailure, Recognized: true}
	}

	// Unknown gateway statuses must degrade safely, never crash the webhook
	// handler.
	return Mapped{Status: order.StatusPending, PaymentStatus: order.PaymentPending, Recognized: false}
}
