package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Processor event types the marketplace reacts to.
const (
	EventCheckoutCompleted        = "checkout.session.completed"
	EventCheckoutPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutPaymentFailed    = "checkout.session.async_payment_failed"
)

const (
	MetadataWorkflowID = "workflowId"
	MetadataUserID     = "userId"
)

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

var ErrMalformedEvent = errors.New("payment: malformed event")

type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the subset of the processor's checkout session the
// marketplace reads. AmountTotal is in minor units.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url,omitempty"`
	AmountTotal   *int64            `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *CheckoutSession) WorkflowID() string {
	return s.Metadata[MetadataWorkflowID]
}

func (s *CheckoutSession) UserID() string {
	return s.Metadata[MetadataUserID]
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return &evt, nil
}

func (e *Event) IsCheckoutEvent() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventCheckoutPaymentSucceeded, EventCheckoutPaymentFailed:
		return true
	default:
		return false
	}
}

func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	if len(e.Data.Object) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	}
	return &s, nil
}
