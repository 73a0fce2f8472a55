package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magotmarket/payment-service/internal/domain/order"
)

func sessionRequest() order.SessionRequest {
	return order.SessionRequest{
		OrderID:     "ord-1 ",
		GrossAmount: 50000,
		Items: []order.Item{
			{ProductID: "maggot-fresh-1kg", Name: "Maggot BSF Segar 1kg", Quantity: 2, UnitPrice: 15000},
		},
		Customer:        order.Contact{Name: "Budi Santoso", Phone: "081234567890"},
		ShippingAddress: "Jl. Peternakan No. 1, Bogor",
	}
}

func TestCreateSession(t *testing.T) {
	var captured snapRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/snap/v1/transactions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"snap-token-1","redirect_url":"https://gw.example/pay/snap-token-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{
		SnapURL:     srv.URL,
		ServerKey:   "sk",
		CallbackURL: "https://magotmarket.example/orders",
	})

	req := sessionRequest()
	req.Items[0].Name = strings.Repeat("Maggot BSF Segar Kualitas Premium Untuk Pakan ", 2)

	session, err := c.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "snap-token-1", session.Token)
	assert.Equal(t, "https://gw.example/pay/snap-token-1", session.RedirectURL)

	// Server key is sent as basic auth with an empty password.
	assert.Equal(t, "Basic c2s6", auth)

	assert.Equal(t, "ORD-1", captured.TransactionDetails.OrderID)
	assert.Equal(t, int64(50000), captured.TransactionDetails.GrossAmount)

	require.Len(t, captured.ItemDetails, 1)
	assert.Len(t, captured.ItemDetails[0].Name, maxItemNameLen)

	assert.Equal(t, "Budi", captured.CustomerDetails.FirstName)
	assert.Equal(t, "Santoso", captured.CustomerDetails.LastName)
	require.NotNil(t, captured.CustomerDetails.ShippingAddress)
	assert.Equal(t, "Jl. Peternakan No. 1, Bogor", captured.CustomerDetails.ShippingAddress.Address)

	// All three redirect outcomes land on the same order-status page.
	assert.Equal(t, "https://magotmarket.example/orders", captured.Callbacks.Finish)
	assert.Equal(t, "https://magotmarket.example/orders", captured.Callbacks.Error)
	assert.Equal(t, "https://magotmarket.example/orders", captured.Callbacks.Pending)

	assert.Equal(t, sessionExpiryHours, captured.Expiry.Duration)
	assert.Equal(t, "hours", captured.Expiry.Unit)
}

func TestCreateSession_GatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error_messages":["order_id has already been taken"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{SnapURL: srv.URL, ServerKey: "sk"})

	_, err := c.CreateSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, ErrSessionCreateFailed)
}

func TestCreateSession_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"redirect_url":"https://gw.example/pay"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{SnapURL: srv.URL, ServerKey: "sk"})

	_, err := c.CreateSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, ErrSessionCreateFailed)
}

func TestCreateSession_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	c := NewClient(nil, Config{SnapURL: srv.URL, ServerKey: "sk"})

	_, err := c.CreateSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetTransactionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v2/ORD-1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"transaction_status": "settlement",
			"transaction_id": "txn-1",
			"status_code": "200",
			"order_id": "ORD-1",
			"gross_amount": "50000.00",
			"fraud_status": "accept"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{CoreURL: srv.URL, ServerKey: "sk"})

	n, err := c.GetTransactionStatus(context.Background(), "ord-1 ")
	require.NoError(t, err)
	assert.Equal(t, "settlement", n.TransactionStatus)
	assert.Equal(t, "txn-1", n.TransactionID)
	assert.Equal(t, "50000.00", n.GrossAmount)
}

func TestGetTransactionStatus_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status_message":"transaction doesn't exist"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{CoreURL: srv.URL, ServerKey: "sk"})

	_, err := c.GetTransactionStatus(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestCancelTransaction(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		_, _ = w.Write([]byte(`{"status_code":"200"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), Config{CoreURL: srv.URL, ServerKey: "sk"})

	require.NoError(t, c.CancelTransaction(context.Background(), "ord-1 "))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/v2/ORD-1/cancel", path)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, strings.Repeat("a", 50), truncate(strings.Repeat("a", 92), 50))

	// A multi-byte rune straddling the limit is dropped whole.
	name := strings.Repeat("a", 49) + "é"
	got := truncate(name, 50)
	assert.Equal(t, strings.Repeat("a", 49), got)
	assert.True(t, utf8.ValidString(got))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"Budi", "Budi", ""},
		{"Budi Santoso", "Budi", "Santoso"},
		{"Budi Agus Santoso", "Budi", "Agus Santoso"},
		{"", "", ""},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}
