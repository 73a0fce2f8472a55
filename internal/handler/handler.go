// Package handler exposes the HTTP surface of the payment service: the
// gateway webhook, checkout session creation, and order status reads.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/reconciler"
)

// Reconciler is the subset of the reconciliation service the handlers use.
type Reconciler interface {
	ProcessNotification(ctx context.Context, n *payment.Notification) (*reconciler.Result, error)
	Cancel(ctx context.Context, orderID string) (*reconciler.Result, error)
}

// RemoteGateway requests best-effort remote cancellation.
type RemoteGateway interface {
	CancelTransaction(ctx context.Context, orderID string) error
}

// Handler wires HTTP routes to the domain services.
type Handler struct {
	reconciler Reconciler
	checkout   *order.Service
	orders     order.Repository
	gateway    RemoteGateway
}

// New constructs a Handler with the required dependencies.
func New(rec Reconciler, checkout *order.Service, orders order.Repository, gw RemoteGateway) *Handler {
	return &Handler{
		reconciler: rec,
		checkout:   checkout,
		orders:     orders,
		gateway:    gw,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/payment", h.PaymentWebhook)
	mux.HandleFunc("POST /checkout/session", h.CreateCheckoutSession)
	mux.HandleFunc("GET /orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /orders/{id}/cancel", h.CancelOrder)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Error("encode response", zap.Error(err))
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	writeJSON(ctx, w, status, errorBody{Code: code, Message: message})
}
