package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
)

var _ Dispatcher = (*WhatsAppClient)(nil)

// WhatsAppClient dispatches messages through a WhatsApp gateway HTTP API.
type WhatsAppClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewWhatsAppClient creates a client for the given gateway endpoint. The
// token authenticates the merchant account.
func NewWhatsAppClient(httpClient *http.Client, baseURL, token string) *WhatsAppClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WhatsAppClient{
		http:    httpClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

type sendResponse struct {
	Status bool   `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Send posts one message to the gateway. The phone number is normalized to
// international format before dispatch.
func (c *WhatsAppClient) Send(ctx context.Context, phone, message string) error {
	form := url.Values{}
	form.Set("target", NormalizePhone(phone))
	form.Set("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("gateway returned %d: %s", resp.StatusCode, body)
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if !sr.Status {
		return errors.Errorf("gateway rejected message: %s", sr.Reason)
	}
	return nil
}
