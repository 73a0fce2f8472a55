package reconciler

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
)

const testServerKey = "test-server-key"

// memRepo is an in-memory order.Repository with the same transactional
// semantics as the PostgreSQL implementation: duplicate idempotency keys and
// lost compare-and-swaps reject the whole transition.
type memRepo struct {
	orders      map[string]*order.Order
	processed   map[string]bool
	transitions []order.Transition
	// applyHook runs once at the start of the next ApplyTransition, standing
	// in for a concurrent writer racing the caller.
	applyHook func(order.Transition) error
}

func newMemRepo(orders ...*order.Order) *memRepo {
	r := &memRepo{
		orders:    make(map[string]*order.Order),
		processed: make(map[string]bool),
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *memRepo) Create(_ context.Context, o *order.Order) error {
	r.orders[o.ID] = o
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListStalePending(_ context.Context, _ time.Time, _ int) ([]order.Order, error) {
	return nil, nil
}

func (r *memRepo) WasProcessed(_ context.Context, orderID, notificationID string) (bool, error) {
	return r.processed[orderID+"|"+notificationID], nil
}

func (r *memRepo) ApplyTransition(_ context.Context, t order.Transition) error {
	if r.applyHook != nil {
		hook := r.applyHook
		r.applyHook = nil
		if err := hook(t); err != nil {
			return err
		}
	}
	if r.processed[t.OrderID+"|"+t.NotificationID] {
		return order.ErrDuplicateNotification
	}
	o, ok := r.orders[t.OrderID]
	if !ok || o.Status != t.From {
		return order.ErrStaleStatus
	}
	o.Status = t.To
	o.PaymentStatus = t.PaymentStatus
	r.processed[t.OrderID+"|"+t.NotificationID] = true
	r.transitions = append(r.transitions, t)
	return nil
}

// --- Helpers ---

func signFor(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	return hex.EncodeToString(sum[:])
}

func notification(orderID, txStatus, grossAmount string) *payment.Notification {
	return &payment.Notification{
		TransactionStatus: txStatus,
		TransactionID:     "txn-1",
		StatusCode:        "200",
		OrderID:           orderID,
		GrossAmount:       grossAmount,
		SignatureKey:      signFor(orderID, "200", grossAmount),
	}
}

func pendingOrder(id string, amount int64) *order.Order {
	return &order.Order{
		ID:            id,
		GrossAmount:   amount,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Items: []order.Item{
			{ProductID: "maggot-fresh-1kg", Name: "Maggot BSF Segar 1kg", Quantity: 2, UnitPrice: 15000},
			{ProductID: "kasgot-5kg", Name: "Pupuk Kasgot 5kg", Quantity: 1, UnitPrice: 20000},
		},
		Customer: order.Contact{Name: "Budi", Phone: "081234567890"},
		Farmer:   order.Contact{Name: "Pak Tani", Phone: "081298765432"},
	}
}

func newService(repo *memRepo) *Service {
	return New(repo, payment.NewVerifier(testServerKey))
}

// --- Tests ---

func TestReconcile_SettlementMarksPaid(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	// Order id arrives with stray whitespace and lowercase; the signature is
	// computed over the raw wire value.
	n := notification("ord-1 ", "settlement", "50000")

	result, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusPaid, result.Status)

	o := repo.orders["ORD-1"]
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, order.PaymentSettlement, o.PaymentStatus)

	// Paid enqueues the customer and farmer messages and keeps the stock
	// reserved at checkout.
	require.Len(t, repo.transitions, 1)
	tr := repo.transitions[0]
	assert.Equal(t, order.StockNone, tr.Stock)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, "081234567890", tr.Messages[0].Recipient)
	assert.Equal(t, "081298765432", tr.Messages[1].Recipient)
}

func TestReconcile_RedeliveryIsDuplicate(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)
	n := notification("ord-1 ", "settlement", "50000")

	first, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, order.StatusPaid, second.Status)

	// No second transition, hence no second notification dispatch.
	assert.Len(t, repo.transitions, 1)
}

func TestReconcile_FraudChallengeHoldsPending(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	n := notification("ORD-1", "capture", "50000")
	n.FraudStatus = payment.FraudChallenge
	n.SignatureKey = signFor("ORD-1", "200", "50000")

	result, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, order.StatusPending, result.Status)

	assert.Equal(t, order.StatusPending, repo.orders["ORD-1"].Status)
	assert.Empty(t, repo.transitions)
}

func TestReconcile_FraudDenyFailsOrder(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	n := notification("ORD-1", "capture", "50000")
	n.FraudStatus = payment.FraudDeny

	result, err := svc.ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusFailed, result.Status)
	assert.Equal(t, order.PaymentDeny, repo.orders["ORD-1"].PaymentStatus)

	// A failed payment releases the reserved stock.
	require.Len(t, repo.transitions, 1)
	assert.Equal(t, order.StockRestore, repo.transitions[0].Stock)
}

func TestReconcile_TamperedSignatureRejected(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	n := notification("ORD-1", "settlement", "50000")
	n.SignatureKey = signFor("ORD-1", "200", "99999")

	_, err := svc.ProcessNotification(context.Background(), n)

	var rej *Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeInvalidSignature, rej.Code)
	assert.Equal(t, order.StatusPending, repo.orders["ORD-1"].Status)
	assert.Empty(t, repo.transitions)
}

func TestReconcile_AmountMismatchRejected(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	// Off by one unit, correctly signed.
	n := notification("ORD-1", "settlement", "50001")

	_, err := svc.ProcessNotification(context.Background(), n)

	var rej *Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeAmountMismatch, rej.Code)
	assert.Equal(t, order.StatusPending, repo.orders["ORD-1"].Status)
	assert.Empty(t, repo.transitions)
}

func TestReconcile_MissingFieldRejected(t *testing.T) {
	svc := newService(newMemRepo())

	n := notification("ORD-1", "settlement", "50000")
	n.TransactionID = ""

	_, err := svc.ProcessNotification(context.Background(), n)

	var rej *Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeMalformedNotification, rej.Code)
}

func TestReconcile_UnknownOrderRejected(t *testing.T) {
	svc := newService(newMemRepo())

	n := notification("ORD-404", "settlement", "50000")

	_, err := svc.ProcessNotification(context.Background(), n)

	var rej *Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeOrderNotFound, rej.Code)
}

func TestReconcile_NeverMovesBackward(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	_, err := svc.ProcessNotification(context.Background(), notification("ORD-1", "settlement", "50000"))
	require.NoError(t, err)

	// A stray pending delivered after settlement must be ignored.
	stale := notification("ORD-1", "pending", "50000")
	result, err := svc.ProcessNotification(context.Background(), stale)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonIllegalTransition, result.Reason)
	assert.Equal(t, order.StatusPaid, repo.orders["ORD-1"].Status)
}

func TestReconcile_ExpireRestoresStock(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	result, err := svc.ProcessNotification(context.Background(), notification("ORD-1", "expire", "50000"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusExpired, result.Status)

	require.Len(t, repo.transitions, 1)
	tr := repo.transitions[0]
	assert.Equal(t, order.StockRestore, tr.Stock)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "081234567890", tr.Messages[0].Recipient)
}

func TestReconcile_UnknownStatusDegrades(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	result, err := svc.ProcessNotification(context.Background(), notification("ORD-1", "refund", "50000"))
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, order.StatusPending, repo.orders["ORD-1"].Status)
}

func TestReconcile_LostRaceResolvesAsDuplicate(t *testing.T) {
	o := pendingOrder("ORD-1", 50000)
	repo := newMemRepo(o)
	svc := newService(repo)

	// A concurrent webhook wins the compare-and-swap with the same outcome
	// between our load and our apply.
	repo.applyHook = func(order.Transition) error {
		o.Status = order.StatusPaid
		return order.ErrStaleStatus
	}

	result, err := svc.ProcessNotification(context.Background(), notification("ORD-1", "settlement", "50000"))
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonDuplicate, result.Reason)
	assert.Equal(t, order.StatusPaid, result.Status)
}

func TestReconcile_LostRaceWithOtherOutcome(t *testing.T) {
	o := pendingOrder("ORD-1", 50000)
	repo := newMemRepo(o)
	svc := newService(repo)

	// A concurrent writer expires the order while we try to mark it paid.
	repo.applyHook = func(order.Transition) error {
		o.Status = order.StatusExpired
		return order.ErrStaleStatus
	}

	result, err := svc.ProcessNotification(context.Background(), notification("ORD-1", "settlement", "50000"))
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonIllegalTransition, result.Reason)
	assert.Equal(t, order.StatusExpired, result.Status)
}

func TestReconcile_DuplicateSurvivesRestart(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	n := notification("ORD-1", "settlement", "50000")

	first, err := newService(repo).ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	require.True(t, first.Applied)

	// A fresh service instance has a cold in-memory filter, so the persisted
	// record alone must classify the redelivery.
	second, err := newService(repo).ProcessNotification(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, ReasonDuplicate, second.Reason)
	assert.Equal(t, order.StatusPaid, second.Status)
	assert.Len(t, repo.transitions, 1)
}

func TestProcessStatus_SkipsSignature(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	n := notification("ORD-1", "settlement", "50000")
	n.SignatureKey = ""

	result, err := svc.ProcessStatus(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusPaid, result.Status)
}

func TestCancel_PendingOrder(t *testing.T) {
	repo := newMemRepo(pendingOrder("ORD-1", 50000))
	svc := newService(repo)

	result, err := svc.Cancel(context.Background(), "ord-1 ")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, order.StatusCancelled, result.Status)

	require.Len(t, repo.transitions, 1)
	assert.Equal(t, order.StockRestore, repo.transitions[0].Stock)
}

func TestCancel_TerminalOrderRejected(t *testing.T) {
	o := pendingOrder("ORD-1", 50000)
	o.Status = order.StatusCompleted
	repo := newMemRepo(o)
	svc := newService(repo)

	result, err := svc.Cancel(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, ReasonIllegalTransition, result.Reason)
	assert.Equal(t, order.StatusCompleted, result.Status)
	assert.Empty(t, repo.transitions)
}

func TestCancel_UnknownOrder(t *testing.T) {
	svc := newService(newMemRepo())

	_, err := svc.Cancel(context.Background(), "ORD-404")

	var rej *Error
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, CodeOrderNotFound, rej.Code)
}
