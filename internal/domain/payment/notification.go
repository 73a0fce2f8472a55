// Package payment models the gateway's asynchronous payment notifications:
// the wire payload, its authentication, and the mapping of gateway statuses
// onto the internal order lifecycle.
package payment

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Notification is the JSON body the gateway posts to the webhook endpoint.
// Field names follow the gateway's wire format.
type Notification struct {
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	FraudStatus       string `json:"fraud_status,omitempty"`
}

// MissingFieldError reports a required notification field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing required notification field " + e.Field
}

// Validate checks that every required field is present. FraudStatus is
// always optional; the signature is only required on the webhook path, where
// it is the sole proof of origin. Status payloads pulled over the
// authenticated gateway API skip it.
func (n *Notification) Validate(requireSignature bool) error {
	fields := []struct{ name, value string }{
		{"transaction_status", n.TransactionStatus},
		{"transaction_id", n.TransactionID},
		{"status_code", n.StatusCode},
		{"order_id", n.OrderID},
		{"gross_amount", n.GrossAmount},
	}
	if requireSignature {
		fields = append(fields, struct{ name, value string }{"signature_key", n.SignatureKey})
	}
	for _, f := range fields {
		if f.value == "" {
			return &MissingFieldError{Field: f.name}
		}
	}
	return nil
}

// ParseAmount converts a gateway amount string such as "50000.00" to whole
// rupiah. IDR has no subunit, so a fractional part other than zero is
// rejected.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse amount %q", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, errors.Errorf("amount %q has a fractional part", s)
	}
	if d.IsNegative() {
		return 0, errors.Errorf("amount %q is negative", s)
	}
	return d.IntPart(), nil
}
