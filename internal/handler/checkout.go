package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/gateway"
)

type checkoutContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type checkoutRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Customer        checkoutContact `json:"customer"`
	Farmer          checkoutContact `json:"farmer"`
	ShippingAddress string          `json:"shipping_address,omitempty"`
}

type checkoutResponse struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// CreateCheckoutSession prices the requested items, mints a gateway session,
// and persists the pending order.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	items := make([]order.CheckoutItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CheckoutItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := h.checkout.Checkout(ctx, order.CheckoutRequest{
		Items:           items,
		Customer:        order.Contact(req.Customer),
		Farmer:          order.Contact(req.Farmer),
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, checkoutResponse{
		OrderID:     result.Order.ID,
		GrossAmount: result.Order.GrossAmount,
		Token:       result.Session.Token,
		RedirectURL: result.Session.RedirectURL,
	})
}

// writeCheckoutError maps checkout domain errors onto the error taxonomy.
func (h *Handler) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		pnfErr *order.ProductNotFoundError
		isErr  *order.InsufficientStockError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrInvalidQuantity):
		writeError(ctx, w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.As(err, &pnfErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, "PRODUCT_NOT_FOUND", pnfErr.Error())
	case errors.As(err, &isErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", isErr.Error())
	case errors.Is(err, gateway.ErrSessionCreateFailed):
		writeError(ctx, w, http.StatusBadGateway, "SESSION_CREATE_FAILED", "payment session creation failed")
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(ctx, w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable")
	default:
		zctx.From(ctx).Error("checkout failed", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "checkout failed")
	}
}
