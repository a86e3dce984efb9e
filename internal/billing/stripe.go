// Package billing talks to the external checkout provider: it creates
// subscription checkout sessions and verifies the provider's webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProviderStripe = "stripe"

	defaultBaseURL      = "https://api.stripe.com"
	defaultCheckoutHost = "checkout.stripe.com"
	defaultCurrency     = "brl"
	defaultTimeout      = 12 * time.Second
)

var (
	// ErrNotConfigured is returned when no secret key is set
	ErrNotConfigured = errors.New("billing gateway not configured")
	// ErrInvalidResponse is returned when a 2xx response lacks a usable checkout URL
	ErrInvalidResponse = errors.New("stripe_response_invalid")
)

// GatewayError carries the provider's status and message for a non-2xx reply.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("stripe returned %d: %s", e.Status, e.Message)
}

// Config holds the client settings
type Config struct {
	SecretKey    string
	BaseURL      string
	CheckoutHost string
	Currency     string
	SuccessURL   string
	CancelURL    string
	Timeout      time.Duration
}

// CheckoutSessionRequest describes one monthly subscription checkout
type CheckoutSessionRequest struct {
	ExternalID     string
	RestaurantSlug string
	PlanID         string
	PlanName       string
	Amount         decimal.Decimal
}

// CheckoutSession is the provider's answer
type CheckoutSession struct {
	ID  string
	URL string
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StripeClient creates checkout sessions through Stripe's REST API
type StripeClient struct {
	cfg    Config
	client *http.Client
}

// NewStripeClient creates a new client, filling defaults for empty fields
func NewStripeClient(cfg Config) *StripeClient {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CheckoutHost == "" {
		cfg.CheckoutHost = defaultCheckoutHost
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &StripeClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Provider names the gateway in API responses
func (c *StripeClient) Provider() string {
	return ProviderStripe
}

// Configured reports whether a secret key is present
func (c *StripeClient) Configured() bool {
	return c.cfg.SecretKey != ""
}

// CreateCheckoutSession opens a subscription-mode session billed monthly.
// The external id doubles as the idempotency key, so a retried call returns
// the same session.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	values := url.Values{}
	values.Set("mode", "subscription")
	values.Set("client_reference_id", req.ExternalID)
	values.Set("success_url", callbackURL(c.cfg.SuccessURL, req.ExternalID))
	values.Set("cancel_url", callbackURL(c.cfg.CancelURL, req.ExternalID))
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(c.cfg.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(MinorUnits(req.Amount), 10))
	values.Set("line_items[0][price_data][recurring][interval]", "month")
	values.Set("line_items[0][price_data][product_data][name]", req.PlanName)
	values.Set("metadata[restaurant_slug]", req.RestaurantSlug)
	values.Set("metadata[plan_id]", req.PlanID)
	values.Set("metadata[external_id]", req.ExternalID)
	values.Set("subscription_data[metadata][restaurant_slug]", req.RestaurantSlug)
	values.Set("subscription_data[metadata][plan_id]", req.PlanID)
	values.Set("subscription_data[metadata][external_id]", req.ExternalID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/checkout/sessions", strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", "checkout:"+req.ExternalID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var stripeErr stripeErrorResponse
		message := "stripe_request_failed"
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err == nil {
			if m := strings.TrimSpace(stripeErr.Error.Message); m != "" {
				message = m
			}
		}
		return nil, &GatewayError{Status: resp.StatusCode, Message: message}
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if session.ID == "" || !c.isCheckoutURL(session.URL) {
		return nil, ErrInvalidResponse
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// isCheckoutURL accepts only https URLs on the provider's checkout host
func (c *StripeClient) isCheckoutURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	want := strings.ToLower(c.cfg.CheckoutHost)
	return host == want || strings.HasSuffix(host, "."+want)
}

// MinorUnits converts a decimal currency amount to cents
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// callbackURL fills {external_id} in base, or appends it as a query parameter
func callbackURL(base, externalID string) string {
	if strings.Contains(base, "{external_id}") {
		return strings.ReplaceAll(base, "{external_id}", url.QueryEscape(externalID))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "external_id=" + url.QueryEscape(externalID)
}
