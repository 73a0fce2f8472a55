package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/reconciler"
)

type orderResponse struct {
	ID                string       `json:"id"`
	GrossAmount       int64        `json:"gross_amount"`
	TransactionStatus string       `json:"transaction_status"`
	PaymentStatus     string       `json:"payment_status"`
	Items             []order.Item `json:"items"`
	CreatedAt         time.Time    `json:"created_at"`
}

// GetOrder returns the order status the gateway callback page displays.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	o, err := h.orders.GetByID(ctx, order.NormalizeID(r.PathValue("id")))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(ctx, w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
			return
		}
		zctx.From(ctx).Error("load order", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "load order failed")
		return
	}

	writeJSON(ctx, w, http.StatusOK, orderResponse{
		ID:                o.ID,
		GrossAmount:       o.GrossAmount,
		TransactionStatus: string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		Items:             o.Items,
		CreatedAt:         o.CreatedAt,
	})
}

type cancelResponse struct {
	OrderID           string `json:"order_id"`
	Applied           bool   `json:"applied"`
	TransactionStatus string `json:"transaction_status"`
	Reason            string `json:"reason,omitempty"`
}

// CancelOrder is the explicit audited cancellation. Remote cancellation at
// the gateway is best-effort; local state changes only through the
// reconciler to keep a single writer.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := order.NormalizeID(r.PathValue("id"))

	if err := h.gateway.CancelTransaction(ctx, id); err != nil {
		zctx.From(ctx).Warn("remote cancellation failed",
			zap.String("order_id", id),
			zap.Error(err),
		)
	}

	result, err := h.reconciler.Cancel(ctx, id)
	if err != nil {
		var rej *reconciler.Error
		if errors.As(err, &rej) {
			writeError(ctx, w, rejectionStatus(rej.Code), string(rej.Code), rej.Detail)
			return
		}
		zctx.From(ctx).Error("cancel order", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "cancel failed")
		return
	}

	status := http.StatusOK
	if !result.Applied {
		status = http.StatusConflict
	}
	writeJSON(ctx, w, status, cancelResponse{
		OrderID:           id,
		Applied:           result.Applied,
		TransactionStatus: string(result.Status),
		Reason:            string(result.Reason),
	})
}
