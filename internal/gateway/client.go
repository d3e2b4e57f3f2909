// Package gateway is the thin client for the third-party payment processor.
// It issues outbound API calls and verifies the authenticity of inbound
// webhook events. Vendor-side failures are wrapped into a single GatewayError
// taxonomy before they reach the core.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"subpay/internal/common/errs"
)

// Config holds gateway client configuration.
type Config struct {
	BaseURL        string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.processor.example/v1"`
	APIKey         string        `envconfig:"GATEWAY_API_KEY"`
	WebhookSecret  string        `envconfig:"GATEWAY_WEBHOOK_SECRET"`
	RequestTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
}

// Client talks to the payment processor's remote API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// VerifyAndParse authenticates a raw webhook payload against its signature
// header and parses it into an Event. It fails with an AuthenticationError
// on a bad or missing signature, or a missing secret configuration.
func (c *Client) VerifyAndParse(payload []byte, signatureHeader string) (*Event, error) {
	if err := VerifySignature(payload, signatureHeader, c.cfg.WebhookSecret, DefaultSignatureTolerance, time.Now()); err != nil {
		return nil, errs.NewAuthentication("%v", err)
	}
	evt, err := ParseEvent(payload)
	if err != nil {
		return nil, errs.NewValidation("%v", err)
	}
	return evt, nil
}

// CreateCustomerRequest creates a processor-side customer.
type CreateCustomerRequest struct {
	UserID string
	Email  string
	Name   string
}

// CreateCustomer registers a customer with the processor.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	form := url.Values{}
	form.Set("email", req.Email)
	form.Set("name", req.Name)
	form.Set("metadata[user_id]", req.UserID)

	var out Customer
	if err := c.post(ctx, "/customers", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAttemptRequest creates a processor-side payment attempt.
type CreateAttemptRequest struct {
	CustomerID  string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// CreatePaymentAttempt initiates a payment attempt with the processor.
func (c *Client) CreatePaymentAttempt(ctx context.Context, req CreateAttemptRequest) (*PaymentAttempt, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerID)
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", req.Currency)
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var out PaymentAttempt
	if err := c.post(ctx, "/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSubscriptionRequest creates a processor-side subscription.
type CreateSubscriptionRequest struct {
	CustomerID string
	PlanRef    string
	TrialDays  int
}

// CreateSubscription starts a recurring billing agreement with the processor.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerID)
	form.Set("plan", req.PlanRef)
	if req.TrialDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(req.TrialDays))
	}

	var out Subscription
	if err := c.post(ctx, "/subscriptions", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelSubscription cancels a processor-side subscription.
func (c *Client) CancelSubscription(ctx context.Context, processorSubscriptionID string, atPeriodEnd bool) (*Subscription, error) {
	form := url.Values{}
	form.Set("cancel_at_period_end", strconv.FormatBool(atPeriodEnd))

	var out Subscription
	path := fmt.Sprintf("/subscriptions/%s/cancel", processorSubscriptionID)
	if err := c.post(ctx, path, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetachInstrument removes a saved payment method on the processor side.
func (c *Client) DetachInstrument(ctx context.Context, instrumentID string) error {
	path := fmt.Sprintf("/payment_methods/%s/detach", instrumentID)
	return c.post(ctx, path, url.Values{}, &struct{}{})
}

// vendorError is the processor's error response shape.
type vendorError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	if c.cfg.APIKey == "" {
		return errs.NewGateway("config", "gateway API key is not configured", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return errs.NewGateway("request", "building gateway request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.NewGateway("network", "gateway request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ve vendorError
		if err := json.Unmarshal(body, &ve); err == nil && ve.Error.Message != "" {
			c.logger.Warn("gateway call rejected",
				"path", path,
				"status", resp.StatusCode,
				"vendor_code", ve.Error.Code,
			)
			return errs.NewGateway(ve.Error.Code, ve.Error.Message, nil)
		}
		return errs.NewGateway(strconv.Itoa(resp.StatusCode), fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.NewGateway("decode", "decoding gateway response", err)
	}
	return nil
}
