package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"flowmarket/pkg/config"

	"github.com/go-resty/resty/v2"
)

type Message struct {
	To      string
	Subject string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// HTTPMailer posts messages to a Resend-compatible email API.
type HTTPMailer struct {
	http *resty.Client
	from string
}

func NewHTTPMailer(cfg *config.Config) *HTTPMailer {
	rc := resty.New().
		SetBaseURL(cfg.Mail.BaseURL).
		SetTimeout(cfg.Mail.Timeout).
		SetAuthToken(cfg.Mail.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Mail.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && (r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError)
		})
	return &HTTPMailer{http: rc, from: cfg.Mail.From}
}

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	var out sendResponse
	var apiErr apiError
	resp, err := m.http.R().
		SetContext(ctx).
		SetBody(sendRequest{From: m.from, To: []string{msg.To}, Subject: msg.Subject, Text: msg.Text}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send email: api returned %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return nil
}
