package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/magotmarket/payment-service/internal/domain/product"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems      = fmt.Errorf("items required")
	ErrInvalidQuantity = fmt.Errorf("quantity must be greater than 0")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError indicates a line item exceeds the available stock.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product %s has only %d in stock", e.ProductID, e.Available)
}

// PaymentSession is a minted gateway checkout session.
type PaymentSession struct {
	Token       string
	RedirectURL string
}

// SessionRequest carries everything the gateway needs to mint a session.
type SessionRequest struct {
	OrderID         string
	GrossAmount     int64
	Customer        Contact
	Items           []Item
	ShippingAddress string
}

// SessionGateway mints payment sessions. Implemented by the gateway client.
type SessionGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*PaymentSession, error)
}

// CheckoutRequest holds the input for creating an order with a payment
// session.
type CheckoutRequest struct {
	Items           []CheckoutItem
	Customer        Contact
	Farmer          Contact
	ShippingAddress string
}

// CheckoutItem is one requested line: quantities of a listed product.
type CheckoutItem struct {
	ProductID string
	Quantity  int
}

// CheckoutResult holds the created order and its payment session.
type CheckoutResult struct {
	Order   *Order
	Session *PaymentSession
}

// Service encapsulates checkout business logic: it validates items, prices
// the order, mints a gateway session, and persists the pending order.
type Service struct {
	products product.Repository
	orders   Repository
	sessions SessionGateway
}

// NewService creates an order Service with the required dependencies.
func NewService(products product.Repository, orders Repository, sessions SessionGateway) *Service {
	return &Service{
		products: products,
		orders:   orders,
		sessions: sessions,
	}
}

// Checkout validates the request, fetches products in a single batch, mints
// the payment session, and persists the order as pending. Persisting the
// order also reserves stock; a failed persist leaves an orphan session that
// expires at the gateway.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	items := make([]Item, len(req.Items))
	var gross int64
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if p.Stock < item.Quantity {
			return nil, &InsufficientStockError{ProductID: item.ProductID, Available: p.Stock}
		}
		items[i] = Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: p.PriceRupiah(),
		}
		gross += items[i].UnitPrice * int64(item.Quantity)
	}

	orderID := NormalizeID("ORD-" + uuid.New().String())

	session, err := s.sessions.CreateSession(ctx, SessionRequest{
		OrderID:         orderID,
		GrossAmount:     gross,
		Customer:        req.Customer,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	o := &Order{
		ID:            orderID,
		GrossAmount:   gross,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Items:         items,
		Customer:      req.Customer,
		Farmer:        req.Farmer,
		SnapToken:     session.Token,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return &CheckoutResult{
		Order:   o,
		Session: session,
	}, nil
}
