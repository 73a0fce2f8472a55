package order

// TransactionStatus is the internal order lifecycle state exposed to the rest
// of the system.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusPaid       TransactionStatus = "paid"
	StatusProcessing TransactionStatus = "processing"
	StatusShipped    TransactionStatus = "shipped"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusExpired    TransactionStatus = "expired"
)

// PaymentStatus mirrors the gateway's own vocabulary. It is kept alongside
// TransactionStatus for audit and debugging, never for business decisions.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentCapture    PaymentStatus = "capture"
	PaymentSettlement PaymentStatus = "settlement"
	PaymentDeny       PaymentStatus = "deny"
	PaymentCancel     PaymentStatus = "cancel"
	PaymentExpire     PaymentStatus = "expire"
	PaymentFailure    PaymentStatus = "failure"
)

// transitions is the static adjacency table of legal forward edges.
// completed, failed, cancelled, and expired are terminal: no outgoing edges.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusPaid, StatusFailed, StatusCancelled, StatusExpired},
	StatusPaid:       {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusCompleted},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusExpired:    {},
}

// CanTransition reports whether from -> to is a legal forward edge. Anything
// not in the adjacency table is illegal, never silently coerced.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing edges.
func IsTerminal(s TransactionStatus) bool {
	return len(transitions[s]) == 0
}

// ValidStatus reports whether s is a known transaction status.
func ValidStatus(s TransactionStatus) bool {
	_, ok := transitions[s]
	return ok
}
