package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/handler"
	"github.com/magotmarket/payment-service/internal/reconciler"
)

type stubReconciler struct {
	lastNotification *payment.Notification
	lastCancelID     string
	result           *reconciler.Result
	err              error
}

func (s *stubReconciler) ProcessNotification(_ context.Context, n *payment.Notification) (*reconciler.Result, error) {
	s.lastNotification = n
	return s.result, s.err
}

func (s *stubReconciler) Cancel(_ context.Context, orderID string) (*reconciler.Result, error) {
	s.lastCancelID = orderID
	return s.result, s.err
}

type stubGateway struct {
	cancelled []string
	err       error
}

func (s *stubGateway) CancelTransaction(_ context.Context, orderID string) error {
	s.cancelled = append(s.cancelled, orderID)
	return s.err
}

func newMux(rec *stubReconciler, orders order.Repository, gw handler.RemoteGateway) *http.ServeMux {
	mux := http.NewServeMux()
	handler.New(rec, nil, orders, gw).Register(mux)
	return mux
}

func postWebhook(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const webhookBody = `{
	"transaction_status": "settlement",
	"transaction_id": "txn-1",
	"status_code": "200",
	"signature_key": "abc",
	"order_id": "ORD-1",
	"gross_amount": "50000.00",
	"fraud_status": "accept"
}`

func TestPaymentWebhook_Applied(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{Applied: true, Status: order.StatusPaid}}
	mux := newMux(rec, nil, nil)

	resp := postWebhook(t, mux, webhookBody)

	require.Equal(t, http.StatusOK, resp.Code)

	var ack struct {
		Status            string `json:"status"`
		OrderID           string `json:"order_id"`
		Applied           bool   `json:"applied"`
		TransactionStatus string `json:"transaction_status"`
		Reason            string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, "ok", ack.Status)
	assert.Equal(t, "ORD-1", ack.OrderID)
	assert.True(t, ack.Applied)
	assert.Equal(t, "paid", ack.TransactionStatus)
	assert.Empty(t, ack.Reason)

	require.NotNil(t, rec.lastNotification)
	assert.Equal(t, "settlement", rec.lastNotification.TransactionStatus)
	assert.Equal(t, "50000.00", rec.lastNotification.GrossAmount)
	assert.Equal(t, "accept", rec.lastNotification.FraudStatus)
}

func TestPaymentWebhook_NumericGrossAmount(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{Applied: true, Status: order.StatusPaid}}
	mux := newMux(rec, nil, nil)

	resp := postWebhook(t, mux, `{
		"transaction_status": "settlement",
		"transaction_id": "txn-1",
		"status_code": "200",
		"signature_key": "abc",
		"order_id": "ORD-1",
		"gross_amount": 50000
	}`)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, rec.lastNotification)
	assert.Equal(t, "50000", rec.lastNotification.GrossAmount)
}

func TestPaymentWebhook_DuplicateAcknowledged(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{
		Applied: false,
		Status:  order.StatusPaid,
		Reason:  reconciler.ReasonDuplicate,
	}}
	mux := newMux(rec, nil, nil)

	resp := postWebhook(t, mux, webhookBody)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"reason":"DUPLICATE"`)
	assert.Contains(t, resp.Body.String(), `"applied":false`)
}

func TestPaymentWebhook_RejectionStatuses(t *testing.T) {
	tests := []struct {
		code reconciler.Code
		want int
	}{
		{reconciler.CodeInvalidSignature, http.StatusForbidden},
		{reconciler.CodeOrderNotFound, http.StatusNotFound},
		{reconciler.CodeAmountMismatch, http.StatusBadRequest},
		{reconciler.CodeMalformedNotification, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := &stubReconciler{err: &reconciler.Error{Code: tt.code, Detail: "rejected"}}
			mux := newMux(rec, nil, nil)

			resp := postWebhook(t, mux, webhookBody)

			require.Equal(t, tt.want, resp.Code)
			assert.Contains(t, resp.Body.String(), string(tt.code))
		})
	}
}

func TestPaymentWebhook_MalformedJSON(t *testing.T) {
	rec := &stubReconciler{}
	mux := newMux(rec, nil, nil)

	resp := postWebhook(t, mux, `{"order_id": `)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), string(reconciler.CodeMalformedNotification))
	assert.Nil(t, rec.lastNotification)
}

func TestCancelOrder(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{Applied: true, Status: order.StatusCancelled}}
	gw := &stubGateway{}
	mux := newMux(rec, nil, gw)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1%20/cancel", nil)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"ORD-1"}, gw.cancelled)
	assert.Equal(t, "ORD-1", rec.lastCancelID)
	assert.Contains(t, resp.Body.String(), `"applied":true`)
}

func TestCancelOrder_RemoteFailureIsBestEffort(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{Applied: true, Status: order.StatusCancelled}}
	gw := &stubGateway{err: context.DeadlineExceeded}
	mux := newMux(rec, nil, gw)

	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-1/cancel", nil)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)

	// Local cancellation still proceeds when the gateway call fails.
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ORD-1", rec.lastCancelID)
}

func TestCancelOrder_NotAppliedIsConflict(t *testing.T) {
	rec := &stubReconciler{result: &reconciler.Result{
		Applied: false,
		Status:  order.StatusCompleted,
		Reason:  reconciler.ReasonIllegalTransition,
	}}
	mux := newMux(rec, nil, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ORD-1/cancel", nil)
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)

	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "ILLEGAL_TRANSITION")
}
