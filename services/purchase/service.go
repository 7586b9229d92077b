package purchase

import (
	"context"
	"net/url"
	"strings"
	"time"

	"flowmarket/pkg/access"
	"flowmarket/pkg/config"
	"flowmarket/pkg/db"
	"flowmarket/pkg/db/option"
	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"
	"flowmarket/pkg/repository"
	"flowmarket/pkg/task"
	"flowmarket/services/payment"
	"flowmarket/services/workflow"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	cfg       *config.Config
	node      *snowflake.Node
	processor payment.Processor
	enqueuer  task.Enqueuer

	purchases repository.Repository[Purchase]
	earnings  repository.Repository[Earnings]
	events    repository.Repository[WebhookEvent]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Config    *config.Config
	Node      *snowflake.Node
	Processor payment.Processor
	Enqueuer  task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		cfg:       p.Config,
		node:      p.Node,
		processor: p.Processor,
		enqueuer:  p.Enqueuer,
		purchases: repository.ProvideStore[Purchase](p.DB),
		earnings:  repository.ProvideStore[Earnings](p.DB),
		events:    repository.ProvideStore[WebhookEvent](p.DB),
	}
}

// Checkout opens a hosted checkout for a paid, approved workflow and keeps a
// PENDING purchase keyed on the processor session until the webhook lands.
func (s *Service) Checkout(ctx context.Context, caller *access.Principal, workflowID string) (*CheckoutResult, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("workflow_id", workflowID), zap.String("buyer_id", caller.UserID))

	var wf workflow.Workflow
	err := s.db.WithContext(ctx).Where("id = ?", workflowID).Take(&wf).Error
	if db.IsNotFound(err) || (err == nil && !wf.IsApproved()) {
		return nil, errutil.NotFound("workflow not found", nil)
	}
	if err != nil {
		zapLog.Error("failed to load workflow", zap.Error(err))
		return nil, errutil.Internal("failed to load workflow", err)
	}
	if wf.OwnerID == caller.UserID {
		return nil, errutil.UnprocessableEntity("cannot purchase your own workflow", nil)
	}
	if wf.IsFree() {
		return nil, errutil.UnprocessableEntity("free workflows are downloaded directly", nil)
	}

	owned, err := s.HasCompletedPurchase(ctx, wf.ID, caller.UserID)
	if err != nil {
		zapLog.Error("failed to check purchase", zap.Error(err))
		return nil, errutil.Internal("failed to check purchase", err)
	}
	if owned {
		return nil, errutil.Conflict("workflow already purchased", nil)
	}

	purchaseID := s.node.Generate().String()
	currency := strings.ToLower(s.cfg.Payment.Currency)
	sess, err := s.processor.CreateCheckoutSession(ctx, payment.CheckoutParams{
		IdempotencyKey: "checkout-" + purchaseID,
		WorkflowID:     wf.ID,
		BuyerID:        caller.UserID,
		BuyerEmail:     caller.Email,
		ProductName:    wf.Title,
		AmountMinor:    wf.Price.Shift(2).Round(0).IntPart(),
		Currency:       currency,
		SuccessURL:     s.successURL(),
		CancelURL:      s.cancelURL(wf.ID),
	})
	if err != nil {
		zapLog.Error("failed to create checkout session", zap.Error(err))
		return nil, errutil.BadGateway("payment processor unavailable", err)
	}

	p := &Purchase{
		ID:                purchaseID,
		WorkflowID:        wf.ID,
		BuyerID:           caller.UserID,
		Amount:            wf.Price,
		Currency:          currency,
		Status:            StatusPending,
		ExternalSessionID: sess.ID,
	}
	if err := s.purchases.Create(ctx, p); err != nil {
		// the webhook beat us to it and already recorded the session
		if !db.IsUniqueViolation(err) {
			zapLog.Error("failed to record pending purchase", zap.String("session_id", sess.ID), zap.Error(err))
			return nil, errutil.Internal("failed to record purchase", err)
		}
		zapLog.Info("checkout session already reconciled", zap.String("session_id", sess.ID))
	}

	zapLog.Info("checkout session created", zap.String("purchase_id", purchaseID), zap.String("session_id", sess.ID))
	return &CheckoutResult{PurchaseID: purchaseID, SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *Service) successURL() string {
	if s.cfg.Payment.SuccessURL != "" {
		return s.cfg.Payment.SuccessURL
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/purchases/success?session_id={CHECKOUT_SESSION_ID}"
}

func (s *Service) cancelURL(workflowID string) string {
	if s.cfg.Payment.CancelURL != "" {
		return s.cfg.Payment.CancelURL
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/workflows/" + url.PathEscape(workflowID)
}

func (s *Service) HasCompletedPurchase(ctx context.Context, workflowID, userID string) (bool, error) {
	n, err := s.purchases.Count(ctx, &Purchase{WorkflowID: workflowID, BuyerID: userID, Status: StatusCompleted})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) ListPurchases(ctx context.Context, caller *access.Principal) ([]*Purchase, error) {
	items, err := s.purchases.Find(ctx, &Purchase{BuyerID: caller.UserID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list purchases", zap.String("buyer_id", caller.UserID), zap.Error(err))
		return nil, errutil.Internal("failed to list purchases", err)
	}
	return items, nil
}

// ListEarnings returns the caller's earnings with totals per payout status.
func (s *Service) ListEarnings(ctx context.Context, caller *access.Principal) (*EarningsSummary, error) {
	items, err := s.earnings.Find(ctx, &Earnings{SellerID: caller.UserID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list earnings", zap.String("seller_id", caller.UserID), zap.Error(err))
		return nil, errutil.Internal("failed to list earnings", err)
	}

	summary := &EarningsSummary{
		Items: items,
		Totals: map[PayoutStatus]decimal.Decimal{
			PayoutPending: decimal.Zero,
			PayoutPaid:    decimal.Zero,
			PayoutFailed:  decimal.Zero,
		},
		Total: decimal.Zero,
	}
	for _, e := range items {
		summary.Totals[e.Status] = summary.Totals[e.Status].Add(e.Amount)
		summary.Total = summary.Total.Add(e.Amount)
	}
	return summary, nil
}

// SetPayoutStatus settles a PENDING earnings row as PAID or FAILED.
func (s *Service) SetPayoutStatus(ctx context.Context, earningsID string, status PayoutStatus) (*Earnings, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("earnings_id", earningsID), zap.String("status", string(status)))

	if status != PayoutPaid && status != PayoutFailed {
		return nil, errutil.ValidationFailed("invalid payout status", nil, errutil.WithField("status", "must be PAID or FAILED"))
	}

	changes := map[string]any{"status": status}
	if status == PayoutPaid {
		changes["paid_at"] = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).Model(&Earnings{}).
		Where("id = ? AND status = ?", earningsID, PayoutPending).
		Updates(changes)
	if res.Error != nil {
		zapLog.Error("failed to update payout status", zap.Error(res.Error))
		return nil, errutil.Internal("failed to update payout", res.Error)
	}

	e, err := s.earnings.FindOne(ctx, &Earnings{ID: earningsID})
	if err != nil {
		zapLog.Error("failed to load earnings", zap.Error(err))
		return nil, errutil.Internal("failed to load earnings", err)
	}
	if e == nil {
		return nil, errutil.NotFound("earnings not found", nil)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("earnings already settled", nil)
	}

	zapLog.Info("payout status updated")
	return e, nil
}
