package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowmarket/pkg/db"
	"flowmarket/pkg/logger"
	"flowmarket/services/payment"
	"flowmarket/services/user"
	"flowmarket/services/workflow"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Permanent faults: redelivering the same event can never succeed.
var (
	ErrMissingMetadata = errors.New("purchase: event missing session, workflow or buyer")
	ErrUnknownWorkflow = errors.New("purchase: unknown workflow")
	ErrUnknownBuyer    = errors.New("purchase: unknown buyer")
)

// errReplay aborts the transaction of an event that was already applied.
var errReplay = errors.New("purchase: already reconciled")

// IsPermanent reports whether err is a fault of the event itself rather
// than of the store.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMissingMetadata) ||
		errors.Is(err, ErrUnknownWorkflow) ||
		errors.Is(err, ErrUnknownBuyer) ||
		errors.Is(err, payment.ErrMalformedEvent)
}

// Completion is a verified payment-succeeded notification.
type Completion struct {
	SessionID  string
	WorkflowID string
	BuyerID    string
	// AmountMinor is in minor units; nil when the processor sent no total.
	AmountMinor *int64
	Currency    string
}

type Outcome struct {
	Purchase *Purchase
	Earnings *Earnings
	Replayed bool
}

// Reconcile applies a successful payment exactly once per session: the
// purchase is COMPLETED, the workflow's download counter bumped and the
// seller's earnings recorded, all in one transaction. Replays are no-ops.
func (s *Service) Reconcile(ctx context.Context, in Completion) (*Outcome, error) {
	zapLog := logger.FromContext(ctx).With(
		zap.String("session_id", in.SessionID),
		zap.String("workflow_id", in.WorkflowID),
		zap.String("buyer_id", in.BuyerID),
	)

	if in.SessionID == "" || in.WorkflowID == "" || in.BuyerID == "" {
		reconciliations.WithLabelValues(outcomeRejected).Inc()
		return nil, ErrMissingMetadata
	}

	// a reported total is authoritative even when zero; nil means the
	// processor sent none
	var amount *decimal.Decimal
	if in.AmountMinor != nil {
		a := AmountFromMinor(*in.AmountMinor)
		amount = &a
		if !a.IsPositive() {
			zapLog.Warn("payment event reports a zero amount", zap.Int64("amount_minor", *in.AmountMinor))
		}
	}

	out := &Outcome{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.purchases.WithTrx(tx).FindOne(ctx, &Purchase{ExternalSessionID: in.SessionID})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if p == nil {
			if err := requireBuyer(tx, in.BuyerID); err != nil {
				return err
			}
			p = &Purchase{
				ID:                s.node.Generate().String(),
				WorkflowID:        in.WorkflowID,
				BuyerID:           in.BuyerID,
				Amount:            decimal.Zero,
				Currency:          in.Currency,
				Status:            StatusCompleted,
				ExternalSessionID: in.SessionID,
				CompletedAt:       &now,
			}
			if amount != nil {
				p.Amount = *amount
			} else {
				zapLog.Warn("payment event carries no amount, recording zero")
			}
			if err := tx.Create(p).Error; err != nil {
				if db.IsUniqueViolation(err) {
					return errReplay
				}
				return err
			}
		} else {
			if p.Status != StatusPending {
				zapLog.Info("purchase already settled", zap.String("purchase_id", p.ID), zap.String("status", string(p.Status)))
				return errReplay
			}
			if p.WorkflowID != in.WorkflowID || p.BuyerID != in.BuyerID {
				zapLog.Warn("event metadata differs from checkout record, keeping checkout record",
					zap.String("purchase_id", p.ID),
					zap.String("recorded_workflow_id", p.WorkflowID),
					zap.String("recorded_buyer_id", p.BuyerID),
				)
			}

			changes := map[string]any{"status": StatusCompleted, "completed_at": now}
			if amount != nil {
				changes["amount"] = *amount
				p.Amount = *amount
			}
			if in.Currency != "" {
				changes["currency"] = in.Currency
				p.Currency = in.Currency
			}
			res := tx.Model(&Purchase{}).Where("id = ? AND status = ?", p.ID, StatusPending).Updates(changes)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errReplay
			}
			p.Status = StatusCompleted
			p.CompletedAt = &now
		}

		wf, err := requireWorkflow(tx, p.WorkflowID)
		if err != nil {
			return err
		}
		if wf.DeletedAt.Valid {
			zapLog.Warn("workflow was deleted before payment completed", zap.String("purchase_id", p.ID))
		}
		if err := workflow.IncrementDownloads(tx, wf.ID); err != nil {
			return fmt.Errorf("increment downloads: %w", err)
		}

		e := &Earnings{
			ID:         s.node.Generate().String(),
			PurchaseID: p.ID,
			SellerID:   wf.OwnerID,
			Amount:     SellerAmount(p.Amount),
			Status:     PayoutPending,
		}
		if err := tx.Create(e).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return errReplay
			}
			return err
		}

		out.Purchase, out.Earnings = p, e
		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		reconciliations.WithLabelValues(outcomeReplayed).Inc()
		zapLog.Info("payment already reconciled")
		return &Outcome{Replayed: true}, nil
	case IsPermanent(err):
		reconciliations.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	case err != nil:
		reconciliations.WithLabelValues(outcomeFailed).Inc()
		zapLog.Error("failed to reconcile payment", zap.Error(err))
		return nil, err
	}

	reconciliations.WithLabelValues(outcomeCompleted).Inc()
	zapLog.Info("purchase completed",
		zap.String("purchase_id", out.Purchase.ID),
		zap.String("amount", out.Purchase.Amount.String()),
		zap.String("earnings", out.Earnings.Amount.String()),
	)

	s.enqueueConfirmation(ctx, out.Purchase.ID)
	return out, nil
}

// requireWorkflow includes soft-deleted workflows: a sale paid after the
// listing was removed is still owed to the seller.
func requireWorkflow(tx *gorm.DB, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := tx.Unscoped().Where("id = ?", id).Take(&wf).Error
	if db.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, id)
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func requireBuyer(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&user.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownBuyer, id)
	}
	return nil
}

// enqueueConfirmation never fails the caller: the purchase is already
// committed and the email is best-effort.
func (s *Service) enqueueConfirmation(ctx context.Context, purchaseID string) {
	zapLog := logger.FromContext(ctx).With(zap.String("purchase_id", purchaseID))

	t, err := NewConfirmationTask(purchaseID)
	if err != nil {
		zapLog.Error("failed to build confirmation task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t, confirmationOptions(purchaseID)...); err != nil {
		zapLog.Warn("failed to enqueue purchase confirmation", zap.Error(err))
		return
	}
	zapLog.Debug("purchase confirmation enqueued")
}

// FailPending marks the PENDING purchase of a session FAILED. Settled or
// unknown sessions are left alone.
func (s *Service) FailPending(ctx context.Context, sessionID string) (bool, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("session_id", sessionID))

	res := s.db.WithContext(ctx).Model(&Purchase{}).
		Where("external_session_id = ? AND status = ?", sessionID, StatusPending).
		Update("status", StatusFailed)
	if res.Error != nil {
		zapLog.Error("failed to mark purchase failed", zap.Error(res.Error))
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		zapLog.Info("no pending purchase for failed payment")
		return false, nil
	}

	zapLog.Info("purchase failed")
	return true, nil
}

// HandleEvent dispatches a verified checkout event.
func (s *Service) HandleEvent(ctx context.Context, evt *payment.Event) error {
	zapLog := logger.FromContext(ctx).With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	if !evt.IsCheckoutEvent() {
		zapLog.Debug("ignoring payment event")
		return nil
	}

	sess, err := evt.CheckoutSession()
	if err != nil {
		return err
	}

	switch evt.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutPaymentSucceeded:
		// delayed payment methods complete the session before the money moves
		if evt.Type == payment.EventCheckoutCompleted && sess.PaymentStatus == payment.PaymentStatusUnpaid {
			zapLog.Info("checkout completed with payment still pending", zap.String("session_id", sess.ID))
			return nil
		}
		_, err := s.Reconcile(ctx, Completion{
			SessionID:   sess.ID,
			WorkflowID:  sess.WorkflowID(),
			BuyerID:     sess.UserID(),
			AmountMinor: sess.AmountTotal,
			Currency:    sess.Currency,
		})
		return err
	case payment.EventCheckoutPaymentFailed:
		_, err := s.FailPending(ctx, sess.ID)
		return err
	}
	return nil
}

// EventSeen reports whether the event id was already recorded.
func (s *Service) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.events.Count(ctx, &WebhookEvent{ID: eventID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordEvent stores a processed event. A concurrent delivery of the same
// event may have recorded it first, which is fine.
func (s *Service) RecordEvent(ctx context.Context, evt *payment.Event, body []byte) error {
	err := s.events.Create(ctx, &WebhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		Payload:    datatypes.JSON(body),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil && !db.IsUniqueViolation(err) {
		return err
	}
	return nil
}
