package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"flowmarket/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CheckoutParams describes a one-item hosted checkout.
type CheckoutParams struct {
	IdempotencyKey string
	WorkflowID     string
	BuyerID        string
	BuyerEmail     string
	ProductName    string
	AmountMinor    int64
	Currency       string
	SuccessURL     string
	CancelURL      string
}

// Processor is the outbound side of the payment processor.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	http *resty.Client
}

func NewClient(cfg *config.Config) *Client {
	return NewClientWithResty(newRestyClient(cfg))
}

func NewClientWithResty(rc *resty.Client) *Client {
	return &Client{http: rc}
}

func newRestyClient(cfg *config.Config) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.Payment.BaseURL).
		SetTimeout(cfg.Payment.Timeout).
		SetAuthToken(cfg.Payment.SecretKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Payment.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
}

// retryCondition retries network errors, 429 and 5xx. Checkout creation is
// safe to retry because every request carries an Idempotency-Key.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	form := map[string]string{
		"mode":        "payment",
		"success_url": p.SuccessURL,
		"cancel_url":  p.CancelURL,

		"line_items[0][quantity]":                       "1",
		"line_items[0][price_data][currency]":           p.Currency,
		"line_items[0][price_data][unit_amount]":        strconv.FormatInt(p.AmountMinor, 10),
		"line_items[0][price_data][product_data][name]": p.ProductName,

		"metadata[" + MetadataWorkflowID + "]": p.WorkflowID,
		"metadata[" + MetadataUserID + "]":     p.BuyerID,
	}
	if p.BuyerEmail != "" {
		form["customer_email"] = p.BuyerEmail
	}

	var out CheckoutSession
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", p.IdempotencyKey).
		SetFormData(form).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if resp.IsError() {
		zap.L().Warn("payment processor rejected checkout",
			zap.Int("status", resp.StatusCode()),
			zap.String("type", apiErr.Error.Type),
			zap.String("message", apiErr.Error.Message),
		)
		return nil, fmt.Errorf("create checkout session: processor returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	if out.ID == "" || out.URL == "" {
		return nil, fmt.Errorf("create checkout session: response missing id or url")
	}

	return &out, nil
}
