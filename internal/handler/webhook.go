package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/reconciler"
)

const maxWebhookBody = 1 << 20

// PaymentWebhook receives asynchronous gateway notifications. Duplicates and
// stale deliveries are acknowledged with 200 so the gateway stops retrying;
// security-relevant rejections answer non-2xx.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, string(reconciler.CodeMalformedNotification), "unreadable body")
		return
	}

	n, err := decodeNotification(body)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, string(reconciler.CodeMalformedNotification), err.Error())
		return
	}

	result, err := h.reconciler.ProcessNotification(ctx, n)
	if err != nil {
		var rej *reconciler.Error
		if errors.As(err, &rej) {
			writeError(ctx, w, rejectionStatus(rej.Code), string(rej.Code), rej.Detail)
			return
		}
		zctx.From(ctx).Error("reconciliation failed", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "reconciliation failed")
		return
	}

	writeAck(w, n.OrderID, result)
}

func rejectionStatus(code reconciler.Code) int {
	switch code {
	case reconciler.CodeInvalidSignature:
		return http.StatusForbidden
	case reconciler.CodeOrderNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// decodeNotification parses the gateway payload. gross_amount arrives as a
// string but some gateway API versions send a bare number; both are accepted.
func decodeNotification(body []byte) (*payment.Notification, error) {
	var n payment.Notification
	d := jx.DecodeBytes(body)

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "transaction_status":
			n.TransactionStatus, err = d.Str()
		case "transaction_id":
			n.TransactionID, err = d.Str()
		case "status_code":
			n.StatusCode, err = d.Str()
		case "signature_key":
			n.SignatureKey, err = d.Str()
		case "order_id":
			n.OrderID, err = d.Str()
		case "fraud_status":
			n.FraudStatus, err = d.Str()
		case "gross_amount":
			switch d.Next() {
			case jx.String:
				n.GrossAmount, err = d.Str()
			case jx.Number:
				var num jx.Num
				num, err = d.Num()
				n.GrossAmount = num.String()
			default:
				return errors.New("gross_amount must be a string or number")
			}
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "decode notification")
	}

	return &n, nil
}

// writeAck answers the gateway with the reconciliation outcome. Both applied
// transitions and idempotent no-ops are 200.
func writeAck(w http.ResponseWriter, orderID string, result *reconciler.Result) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str("ok")
	e.FieldStart("order_id")
	e.Str(orderID)
	e.FieldStart("applied")
	e.Bool(result.Applied)
	e.FieldStart("transaction_status")
	e.Str(string(result.Status))
	if result.Reason != "" {
		e.FieldStart("reason")
		e.Str(string(result.Reason))
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}
