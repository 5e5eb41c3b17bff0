package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/kioskpos/internal/domain/errors"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	cartPath     = "/cart"
	sessionPath  = "/session"
	checkoutPath = "/checkout"
)

// CartItem is one line of the kiosk cart
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// CartSnapshot is the cart as last reported by the backend
type CartSnapshot struct {
	Items      []CartItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	ServiceFee decimal.Decimal `json:"serviceFee"`
	Discount   decimal.Decimal `json:"discount"`
}

// BrokerAvailability is one broker entry of the checkout response
type BrokerAvailability struct {
	Available bool     `json:"available"`
	Broker    string   `json:"broker"`
	Methods   []string `json:"methods"`
	QRCode    string   `json:"qrcode,omitempty"`
}

// Checkout lists the brokers the backend currently accepts
type Checkout struct {
	Brokers   []BrokerAvailability
	Timestamp string
}

// Client talks to the kiosk backend for cart and checkout data.
type Client struct {
	client *resty.Client
	logger zerolog.Logger

	mu   sync.RWMutex
	cart CartSnapshot
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.SetTimeout(d) }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.client.SetTransport(rt) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5*time.Second).
			SetHeader("Accept", "application/json"),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refresh reloads the cart snapshot from the backend.
func (c *Client) Refresh(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get(cartPath)
	if err != nil {
		return fmt.Errorf("%w: get cart: %v", domainErrors.ErrBackendUnavailable, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: get cart: HTTP %d", domainErrors.ErrBackendUnavailable, resp.StatusCode())
	}

	var snap CartSnapshot
	if err := json.Unmarshal(resp.Body(), &snap); err != nil {
		return fmt.Errorf("decode cart: %w", err)
	}

	c.mu.Lock()
	c.cart = snap
	c.mu.Unlock()
	return nil
}

// Snapshot returns the cached cart.
func (c *Client) Snapshot() CartSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cart
}

// Total returns the cached cart total.
func (c *Client) Total() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cart.Total
}

// Clear ends the server-side session, which empties the cart.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Delete(sessionPath)
	if err != nil {
		return fmt.Errorf("%w: clear session: %v", domainErrors.ErrBackendUnavailable, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: clear session: HTTP %d", domainErrors.ErrBackendUnavailable, resp.StatusCode())
	}

	c.mu.Lock()
	c.cart = CartSnapshot{}
	c.mu.Unlock()
	c.logger.Debug().Msg("kiosk session cleared")
	return nil
}

// Checkout fetches broker availability. The backend answers with a JSON array
// mixing broker objects and a trailing {"timestamp": ...} object.
func (c *Client) Checkout(ctx context.Context) (Checkout, error) {
	resp, err := c.client.R().SetContext(ctx).Get(checkoutPath)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: checkout: %v", domainErrors.ErrBackendUnavailable, err)
	}
	if !resp.IsSuccess() {
		return Checkout{}, fmt.Errorf("%w: checkout: HTTP %d", domainErrors.ErrBackendUnavailable, resp.StatusCode())
	}
	return parseCheckout(resp.Body())
}

func parseCheckout(body []byte) (Checkout, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Checkout{}, fmt.Errorf("decode checkout: %w", err)
	}

	var out Checkout
	for _, item := range items {
		if _, ok := item["broker"]; ok {
			var b BrokerAvailability
			raw, _ := json.Marshal(item)
			if err := json.Unmarshal(raw, &b); err != nil {
				return Checkout{}, fmt.Errorf("decode checkout broker: %w", err)
			}
			out.Brokers = append(out.Brokers, b)
			continue
		}
		if ts, ok := item["timestamp"]; ok {
			var s string
			if err := json.Unmarshal(ts, &s); err != nil {
				s = string(ts)
			}
			out.Timestamp = s
		}
	}
	return out, nil
}
