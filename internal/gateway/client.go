// Package gateway is the outbound client for the payment gateway: it mints
// checkout session tokens, pulls authoritative transaction status for manual
// reconciliation, and requests remote cancellation.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"

	"github.com/magotmarket/payment-service/internal/domain/order"
	"github.com/magotmarket/payment-service/internal/domain/payment"
)

var (
	// ErrSessionCreateFailed is returned on any non-2xx or missing-token
	// session response.
	ErrSessionCreateFailed = errors.New("payment session creation failed")
	// ErrUnavailable is returned when the gateway cannot be reached or
	// answers with a server error.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrTransactionNotFound is returned when the gateway does not know the
	// order.
	ErrTransactionNotFound = errors.New("transaction not found at gateway")
)

// The gateway rejects item names longer than this.
const maxItemNameLen = 50

// Session expiry window for checkout tokens.
const sessionExpiryHours = 24

// Config holds the gateway endpoints and credentials, injected at startup so
// tests can point the client at a fixture server.
type Config struct {
	// SnapURL hosts the session-token API.
	SnapURL string
	// CoreURL hosts the status and cancel APIs.
	CoreURL string
	// ServerKey authenticates outbound calls and signs inbound notifications.
	ServerKey string
	// CallbackURL is the order-status page all three redirect outcomes
	// (finish, error, pending) point at.
	CallbackURL string
}

// Client talks to the gateway HTTP APIs.
type Client struct {
	http *http.Client
	cfg  Config
}

// NewClient creates a Client. The caller owns the http.Client and its
// timeout; reconciliation callers should keep it short and retry outside.
func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.SnapURL = strings.TrimSuffix(cfg.SnapURL, "/")
	cfg.CoreURL = strings.TrimSuffix(cfg.CoreURL, "/")
	return &Client{http: httpClient, cfg: cfg}
}

// Compile-time check: the client satisfies the checkout service's gateway
// contract.
var _ order.SessionGateway = (*Client)(nil)

type snapTransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type snapItem struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type snapAddress struct {
	Address string `json:"address,omitempty"`
}

type snapCustomer struct {
	FirstName       string       `json:"first_name"`
	LastName        string       `json:"last_name"`
	Email           string       `json:"email,omitempty"`
	Phone           string       `json:"phone,omitempty"`
	ShippingAddress *snapAddress `json:"shipping_address,omitempty"`
}

type snapCallbacks struct {
	Finish  string `json:"finish"`
	Error   string `json:"error"`
	Pending string `json:"pending"`
}

type snapExpiry struct {
	Duration int    `json:"duration"`
	Unit     string `json:"unit"`
}

type snapRequest struct {
	TransactionDetails snapTransactionDetails `json:"transaction_details"`
	ItemDetails        []snapItem             `json:"item_details"`
	CustomerDetails    snapCustomer           `json:"customer_details"`
	Callbacks          snapCallbacks          `json:"callbacks"`
	Expiry             snapExpiry             `json:"expiry"`
}

// CreateSession mints a payment session token for the order. Item names are
// truncated to the gateway's field-length limit and amounts are whole rupiah.
func (c *Client) CreateSession(ctx context.Context, req order.SessionRequest) (*order.PaymentSession, error) {
	items := make([]snapItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = snapItem{
			ID:       item.ProductID,
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
			Name:     truncate(item.Name, maxItemNameLen),
		}
	}

	first, last := splitName(req.Customer.Name)
	payload := snapRequest{
		TransactionDetails: snapTransactionDetails{
			OrderID:     order.NormalizeID(req.OrderID),
			GrossAmount: req.GrossAmount,
		},
		ItemDetails: items,
		CustomerDetails: snapCustomer{
			FirstName: first,
			LastName:  last,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
		},
		Callbacks: snapCallbacks{
			Finish:  c.cfg.CallbackURL,
			Error:   c.cfg.CallbackURL,
			Pending: c.cfg.CallbackURL,
		},
		Expiry: snapExpiry{Duration: sessionExpiryHours, Unit: "hours"},
	}
	if req.ShippingAddress != "" {
		payload.CustomerDetails.ShippingAddress = &snapAddress{Address: req.ShippingAddress}
	}

	body, status, err := c.do(ctx, http.MethodPost, c.cfg.SnapURL+"/snap/v1/transactions", payload)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	if status < 200 || status >= 300 {
		return nil, errors.Wrapf(ErrSessionCreateFailed, "gateway returned %d: %s", status, body)
	}

	var decoded struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(ErrSessionCreateFailed, "decode session response")
	}
	if decoded.Token == "" {
		return nil, errors.Wrap(ErrSessionCreateFailed, "gateway response missing token")
	}
	return &order.PaymentSession{
		Token:       decoded.Token,
		RedirectURL: decoded.RedirectURL,
	}, nil
}

// GetTransactionStatus pulls the authoritative status payload for an order,
// used when a webhook is believed lost. The response shape matches the
// webhook notification.
func (c *Client) GetTransactionStatus(ctx context.Context, orderID string) (*payment.Notification, error) {
	id := order.NormalizeID(orderID)
	body, status, err := c.do(ctx, http.MethodGet, c.cfg.CoreURL+"/v2/"+id+"/status", nil)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrTransactionNotFound
	case status < 200 || status >= 300:
		return nil, errors.Wrapf(ErrUnavailable, "gateway returned %d: %s", status, body)
	}

	var n payment.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errors.Wrap(err, "decode status response")
	}
	return &n, nil
}

// CancelTransaction requests remote cancellation. It never mutates local
// order state; that only happens on the reconciler path.
func (c *Client) CancelTransaction(ctx context.Context, orderID string) error {
	id := order.NormalizeID(orderID)
	body, status, err := c.do(ctx, http.MethodPost, c.cfg.CoreURL+"/v2/"+id+"/cancel", nil)
	if err != nil {
		return errors.Wrap(ErrUnavailable, err.Error())
	}
	switch {
	case status == http.StatusNotFound:
		return ErrTransactionNotFound
	case status < 200 || status >= 300:
		return errors.Wrapf(ErrUnavailable, "gateway returned %d: %s", status, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, errors.Wrap(err, "encode payload")
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.cfg.ServerKey+":")))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, errors.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back the cut off to a rune boundary so the payload never carries
	// invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// splitName breaks a full name into the first/last pair the gateway expects.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
