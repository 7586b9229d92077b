package purchase

import (
	"errors"
	"io"
	"net/http"

	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"
	"flowmarket/services/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

const (
	resultProcessed = "processed"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultRejected  = "rejected"
	resultRetry     = "retry"
)

type WebhookHandler struct {
	svc      *Service
	verifier *payment.Verifier
}

func NewWebhookHandler(svc *Service, verifier *payment.Verifier) *WebhookHandler {
	return &WebhookHandler{svc: svc, verifier: verifier}
}

// Handle acknowledges with 2xx everything that must not be redelivered,
// including signed events that can never be applied, and answers 5xx only
// when a retry could succeed.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	zapLog := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(errutil.RequestTooLarge("webhook payload too large", err))
			return
		}
		_ = c.Error(errutil.BadRequest("failed to read webhook payload", err))
		return
	}

	if err := h.verifier.Verify(c.GetHeader(payment.SignatureHeader), body); err != nil {
		webhookEvents.WithLabelValues("unknown", resultRejected).Inc()
		zapLog.Warn("rejected payment webhook", zap.Error(err))
		_ = c.Error(errutil.BadRequest("invalid signature", err))
		return
	}

	evt, err := payment.ParseEvent(body)
	if err != nil {
		webhookEvents.WithLabelValues("unknown", resultRejected).Inc()
		zapLog.Error("signed payment webhook is malformed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	zapLog = zapLog.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	seen, err := h.svc.EventSeen(ctx, evt.ID)
	if err != nil {
		webhookEvents.WithLabelValues(evt.Type, resultRetry).Inc()
		zapLog.Error("failed to look up webhook event", zap.Error(err))
		_ = c.Error(errutil.Internal("failed to process event", err))
		return
	}
	if seen {
		webhookEvents.WithLabelValues(evt.Type, resultDuplicate).Inc()
		zapLog.Info("payment event already processed")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	result := resultProcessed
	if !evt.IsCheckoutEvent() {
		result = resultIgnored
	} else if err := h.svc.HandleEvent(ctx, evt); err != nil {
		if !IsPermanent(err) {
			webhookEvents.WithLabelValues(evt.Type, resultRetry).Inc()
			_ = c.Error(errutil.Internal("failed to process event", err))
			return
		}
		result = resultRejected
		zapLog.Error("payment event cannot be applied", zap.Error(err))
	}

	// recorded only once handled, so a failed attempt is retried in full
	if err := h.svc.RecordEvent(ctx, evt, body); err != nil {
		zapLog.Warn("failed to record webhook event", zap.Error(err))
	}

	webhookEvents.WithLabelValues(evt.Type, result).Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}
