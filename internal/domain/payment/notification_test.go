package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNotification() *Notification {
	return &Notification{
		TransactionStatus: "settlement",
		TransactionID:     "txn-123",
		StatusCode:        "200",
		SignatureKey:      "abc",
		OrderID:           "ORD-1",
		GrossAmount:       "50000.00",
	}
}

func TestNotificationValidate(t *testing.T) {
	require.NoError(t, validNotification().Validate(true))

	mutations := []struct {
		field  string
		mutate func(n *Notification)
	}{
		{"transaction_status", func(n *Notification) { n.TransactionStatus = "" }},
		{"transaction_id", func(n *Notification) { n.TransactionID = "" }},
		{"status_code", func(n *Notification) { n.StatusCode = "" }},
		{"signature_key", func(n *Notification) { n.SignatureKey = "" }},
		{"order_id", func(n *Notification) { n.OrderID = "" }},
		{"gross_amount", func(n *Notification) { n.GrossAmount = "" }},
	}
	for _, m := range mutations {
		t.Run("missing "+m.field, func(t *testing.T) {
			n := validNotification()
			m.mutate(n)

			var mfErr *MissingFieldError
			require.ErrorAs(t, n.Validate(true), &mfErr)
			assert.Equal(t, m.field, mfErr.Field)
		})
	}
}

func TestNotificationValidate_FraudStatusOptional(t *testing.T) {
	n := validNotification()
	n.FraudStatus = ""
	require.NoError(t, n.Validate(true))
}

func TestNotificationValidate_SignatureOptionalOnPollPath(t *testing.T) {
	n := validNotification()
	n.SignatureKey = ""
	require.NoError(t, n.Validate(false))
	require.Error(t, n.Validate(true))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"50000.00", 50000, false},
		{"50000", 50000, false},
		{"0.00", 0, false},
		{"15000.50", 0, true},
		{"-100", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
