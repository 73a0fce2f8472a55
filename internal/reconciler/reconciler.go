// Package reconciler drives the order state machine from verified gateway
// notifications and manual reconciliation polls. It is the single writer of
// order transaction status.
package reconciler

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
	"github.com/magotmarket/payment-service/internal/notify"
)

// Reason explains why a notification was acknowledged without a transition.
type Reason string

const (
	ReasonDuplicate         Reason = "DUPLICATE"
	ReasonIllegalTransition Reason = "ILLEGAL_TRANSITION"
)

// Result is the idempotent outcome of one reconciliation attempt.
type Result struct {
	Applied bool
	Status  order.TransactionStatus
	Reason  Reason
}

// Expected duplicate pressure from gateway retries is modest; a false
// positive only costs one duplicate log line staying at Debug.
const (
	seenCapacity = 1_000_000
	seenFPR      = 0.001
)

// Service reconciles gateway payment events against stored orders.
type Service struct {
	orders   order.Repository
	verifier *payment.Verifier

	// seen is an in-memory hint of notification identities this process has
	// already handled. The authoritative record is the
	// processed_notifications table; the filter only throttles duplicate
	// logging during gateway retry storms.
	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// New creates a reconciliation Service.
func New(orders order.Repository, verifier *payment.Verifier) *Service {
	return &Service{
		orders:   orders,
		verifier: verifier,
		seen:     bloom.NewWithEstimates(seenCapacity, seenFPR),
	}
}

// ProcessNotification handles an inbound webhook notification: it validates,
// authenticates, maps, and applies the transition exactly once.
func (s *Service) ProcessNotification(ctx context.Context, n *payment.Notification) (*Result, error) {
	return s.reconcile(ctx, n, true)
}

// ProcessStatus handles a status payload pulled from the gateway's
// authenticated status API during a manual reconciliation sweep. The
// transport already authenticates the response, so no signature check runs.
func (s *Service) ProcessStatus(ctx context.Context, n *payment.Notification) (*Result, error) {
	return s.reconcile(ctx, n, false)
}

func (s *Service) reconcile(ctx context.Context, n *payment.Notification, verifySignature bool) (*Result, error) {
	lg := zctx.From(ctx)

	if err := n.Validate(verifySignature); err != nil {
		return nil, rejectf(CodeMalformedNotification, "%s", err)
	}

	if verifySignature && !s.verifier.Verify(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		lg.Error("notification signature mismatch",
			zap.String("order_id", n.OrderID),
			zap.String("transaction_id", n.TransactionID),
		)
		return nil, rejectf(CodeInvalidSignature, "signature mismatch for order %s", n.OrderID)
	}

	orderID := order.NormalizeID(n.OrderID)
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// Gateway/merchant mismatch; never create an order here.
			lg.Error("notification for unknown order", zap.String("order_id", orderID))
			return nil, rejectf(CodeOrderNotFound, "order %s not found", orderID)
		}
		return nil, errors.Wrap(err, "load order")
	}

	amount, err := payment.ParseAmount(n.GrossAmount)
	if err != nil {
		return nil, rejectf(CodeMalformedNotification, "%s", err)
	}
	if amount != o.GrossAmount {
		lg.Error("notification amount mismatch",
			zap.String("order_id", orderID),
			zap.Int64("expected", o.GrossAmount),
			zap.Int64("got", amount),
		)
		return nil, rejectf(CodeAmountMismatch, "order %s expects %d, notification says %d", orderID, o.GrossAmount, amount)
	}

	mapped := payment.Map(n.TransactionStatus, n.FraudStatus)
	if !mapped.Recognized {
		lg.Warn("unrecognized gateway transaction status",
			zap.String("order_id", orderID),
			zap.String("transaction_status", n.TransactionStatus),
		)
	}

	key := notificationKey(n.TransactionID, mapped.Status)

	if mapped.Status == o.Status {
		// Same-status redelivery. Only the processed_notifications table is
		// authoritative here: the filter is per-process, and the key may have
		// been recorded by a previous incarnation or by the sweep binary.
		processed, err := s.orders.WasProcessed(ctx, orderID, key)
		if err != nil {
			return nil, errors.Wrap(err, "check processed notifications")
		}
		if processed {
			// The filter keeps gateway retry storms out of the log: only the
			// first duplicate seen by this process is logged above Debug.
			if s.maybeSeen(key) {
				lg.Debug("duplicate notification", zap.String("order_id", orderID), zap.String("key", key))
			} else {
				lg.Info("duplicate notification", zap.String("order_id", orderID), zap.String("key", key))
				s.markSeen(key)
			}
			return &Result{Applied: false, Status: o.Status, Reason: ReasonDuplicate}, nil
		}
		lg.Debug("notification matches current status, no edge",
			zap.String("order_id", orderID),
			zap.String("status", string(o.Status)),
		)
		return &Result{Applied: false, Status: o.Status, Reason: ReasonIllegalTransition}, nil
	}

	if !order.CanTransition(o.Status, mapped.Status) {
		// Stale or out-of-order delivery, e.g. a stray pending after paid.
		lg.Debug("illegal transition ignored",
			zap.String("order_id", orderID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(mapped.Status)),
		)
		return &Result{Applied: false, Status: o.Status, Reason: ReasonIllegalTransition}, nil
	}

	t := order.Transition{
		OrderID:        orderID,
		From:           o.Status,
		To:             mapped.Status,
		PaymentStatus:  mapped.PaymentStatus,
		NotificationID: key,
		Stock:          stockOpFor(mapped.Status),
		Messages:       messagesFor(o, mapped.Status),
	}

	if err := s.orders.ApplyTransition(ctx, t); err != nil {
		switch {
		case errors.Is(err, order.ErrDuplicateNotification):
			s.markSeen(key)
			return &Result{Applied: false, Status: o.Status, Reason: ReasonDuplicate}, nil
		case errors.Is(err, order.ErrStaleStatus):
			return s.resolveRace(ctx, orderID, key, mapped.Status)
		default:
			return nil, errors.Wrapf(err, "apply transition %s -> %s", o.Status, mapped.Status)
		}
	}

	s.markSeen(key)
	lg.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(mapped.Status)),
		zap.String("payment_status", string(mapped.PaymentStatus)),
	)
	return &Result{Applied: true, Status: mapped.Status}, nil
}

// resolveRace re-reads the order after a lost compare-and-swap. The
// concurrent writer's outcome decides whether this notification was a
// duplicate of it or simply stale.
func (s *Service) resolveRace(ctx context.Context, orderID, key string, wanted order.TransactionStatus) (*Result, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order after lost cas")
	}
	if o.Status == wanted {
		return &Result{Applied: false, Status: o.Status, Reason: ReasonDuplicate}, nil
	}
	return &Result{Applied: false, Status: o.Status, Reason: ReasonIllegalTransition}, nil
}

// Cancel is the explicit, independently audited cancellation action. It runs
// through the same transition path to keep the single-writer property.
func (s *Service) Cancel(ctx context.Context, orderID string) (*Result, error) {
	orderID = order.NormalizeID(orderID)
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, rejectf(CodeOrderNotFound, "order %s not found", orderID)
		}
		return nil, errors.Wrap(err, "load order")
	}

	if !order.CanTransition(o.Status, order.StatusCancelled) {
		return &Result{Applied: false, Status: o.Status, Reason: ReasonIllegalTransition}, nil
	}

	t := order.Transition{
		OrderID:        orderID,
		From:           o.Status,
		To:             order.StatusCancelled,
		PaymentStatus:  order.PaymentCancel,
		NotificationID: "manual-cancel:" + uuid.New().String(),
		Stock:          order.StockRestore,
		Messages:       messagesFor(o, order.StatusCancelled),
	}
	if err := s.orders.ApplyTransition(ctx, t); err != nil {
		if errors.Is(err, order.ErrStaleStatus) {
			return s.resolveRace(ctx, orderID, t.NotificationID, order.StatusCancelled)
		}
		return nil, errors.Wrap(err, "apply cancellation")
	}

	zctx.From(ctx).Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("from", string(o.Status)),
	)
	return &Result{Applied: true, Status: order.StatusCancelled}, nil
}

func (s *Service) maybeSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.TestString(key)
}

func (s *Service) markSeen(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen.AddString(key)
}

// notificationKey is the persisted idempotency identity: the gateway reuses
// one transaction id across status changes, so the mapped status is part of
// the key.
func notificationKey(transactionID string, status order.TransactionStatus) string {
	return transactionID + ":" + string(status)
}

// stockOpFor selects the stock side effect. Stock is reserved at checkout, so
// a paid transition keeps it; any non-paid terminal outcome returns it.
func stockOpFor(to order.TransactionStatus) order.StockOp {
	switch to {
	case order.StatusCancelled, order.StatusExpired, order.StatusFailed:
		return order.StockRestore
	default:
		return order.StockNone
	}
}

// messagesFor builds the outbox messages a transition produces.
func messagesFor(o *order.Order, to order.TransactionStatus) []order.OutboxMessage {
	switch to {
	case order.StatusPaid:
		return []order.OutboxMessage{
			{
				ID:        uuid.New().String(),
				OrderID:   o.ID,
				Recipient: o.Customer.Phone,
				Body:      notify.PaymentSuccess(o),
			},
			{
				ID:        uuid.New().String(),
				OrderID:   o.ID,
				Recipient: o.Farmer.Phone,
				Body:      notify.NewOrderForFarmer(o),
			},
		}
	case order.StatusCancelled, order.StatusExpired:
		return []order.OutboxMessage{
			{
				ID:        uuid.New().String(),
				OrderID:   o.ID,
				Recipient: o.Customer.Phone,
				Body:      notify.OrderClosed(o, to),
			},
		}
	default:
		return nil
	}
}
