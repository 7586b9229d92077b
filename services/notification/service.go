package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"flowmarket/pkg/config"
	"flowmarket/pkg/db"
	"flowmarket/pkg/logger"
	"flowmarket/services/purchase"
	"flowmarket/services/user"
	"flowmarket/services/workflow"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	cfg    *config.Config
	mailer Mailer
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
	Mailer Mailer
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, cfg: p.Config, mailer: p.Mailer}
}

// HandleConfirmationTask emails the buyer of a completed purchase. Payloads
// that can never be delivered are dropped with asynq.SkipRetry; mail API
// errors are returned so asynq retries them.
func (s *Service) HandleConfirmationTask(ctx context.Context, t *asynq.Task) error {
	var payload purchase.ConfirmationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode confirmation payload: %v: %w", err, asynq.SkipRetry)
	}
	zapLog := logger.FromContext(ctx).With(zap.String("purchase_id", payload.PurchaseID))

	var p purchase.Purchase
	if err := s.db.WithContext(ctx).Where("id = ?", payload.PurchaseID).Take(&p).Error; err != nil {
		if db.IsNotFound(err) {
			zapLog.Warn("purchase for confirmation not found")
			return fmt.Errorf("purchase %s: %w", payload.PurchaseID, asynq.SkipRetry)
		}
		return err
	}
	if p.Status != purchase.StatusCompleted {
		zapLog.Info("purchase not completed, skipping confirmation", zap.String("status", string(p.Status)))
		return nil
	}

	var buyer user.User
	if err := s.db.WithContext(ctx).Where("id = ?", p.BuyerID).Take(&buyer).Error; err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("buyer %s: %w", p.BuyerID, asynq.SkipRetry)
		}
		return err
	}
	if buyer.EmailAddress() == "" {
		zapLog.Info("buyer has no email address, skipping confirmation", zap.String("buyer_id", buyer.ID))
		return nil
	}

	var wf workflow.Workflow
	if err := s.db.WithContext(ctx).Unscoped().Where("id = ?", p.WorkflowID).Take(&wf).Error; err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("workflow %s: %w", p.WorkflowID, asynq.SkipRetry)
		}
		return err
	}

	if err := s.mailer.Send(ctx, confirmationMessage(s.cfg.PublicURL, buyer, wf, p)); err != nil {
		zapLog.Warn("failed to send purchase confirmation", zap.Error(err))
		return err
	}

	zapLog.Info("purchase confirmation sent", zap.String("buyer_id", buyer.ID))
	return nil
}

func confirmationMessage(publicURL string, buyer user.User, wf workflow.Workflow, p purchase.Purchase) Message {
	greeting := "Hi"
	if buyer.Name != "" {
		greeting = "Hi " + buyer.Name
	}
	return Message{
		To:      buyer.EmailAddress(),
		Subject: fmt.Sprintf("Your purchase of %s", wf.Title),
		Text: fmt.Sprintf("%s,\n\nThanks for buying %q for %s %s.\nDownload it any time from %s/workflows/%s.\n",
			greeting, wf.Title, p.Amount.StringFixed(2), strings.ToUpper(p.Currency), publicURL, wf.ID),
	}
}
