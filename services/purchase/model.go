package purchase

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutPaid    PayoutStatus = "PAID"
	PayoutFailed  PayoutStatus = "FAILED"
)

// SellerShare is the fraction of every completed sale owed to the seller.
var SellerShare = decimal.RequireFromString("0.7")

type Purchase struct {
	ID                string          `gorm:"column:id;primaryKey" json:"id"`
	WorkflowID        string          `gorm:"column:workflow_id;not null;index:idx_purchases_workflow_buyer" json:"workflow_id"`
	BuyerID           string          `gorm:"column:buyer_id;not null;index:idx_purchases_workflow_buyer;index" json:"buyer_id"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(14,4);not null;default:0" json:"amount"`
	Currency          string          `gorm:"column:currency" json:"currency"`
	Status            Status          `gorm:"column:status;not null;index" json:"status"`
	ExternalSessionID string          `gorm:"column:external_session_id;not null;uniqueIndex" json:"-"`
	CompletedAt       *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchases"
}

type Earnings struct {
	ID         string          `gorm:"column:id;primaryKey" json:"id"`
	PurchaseID string          `gorm:"column:purchase_id;not null;uniqueIndex" json:"purchase_id"`
	SellerID   string          `gorm:"column:seller_id;not null;index" json:"seller_id"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(14,4);not null" json:"amount"`
	Status     PayoutStatus    `gorm:"column:status;not null;index" json:"status"`
	PaidAt     *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Earnings) TableName() string {
	return "earnings"
}

// WebhookEvent is the audit row of a verified processor event. The primary
// key drops exact redeliveries before any processing.
type WebhookEvent struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Type       string         `gorm:"column:type;not null;index"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	ReceivedAt time.Time      `gorm:"column:received_at;not null"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// Models lists the tables owned by this package, in migration order.
func Models() []any {
	return []any{&Purchase{}, &Earnings{}, &WebhookEvent{}}
}

// SellerAmount is the seller's share of amount, computed without rounding.
func SellerAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(SellerShare)
}

// AmountFromMinor converts processor minor units (cents) to a decimal amount.
func AmountFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type CheckoutResult struct {
	PurchaseID string `json:"purchase_id"`
	SessionID  string `json:"session_id"`
	URL        string `json:"url"`
}

type EarningsSummary struct {
	Items  []*Earnings                      `json:"items"`
	Totals map[PayoutStatus]decimal.Decimal `json:"totals"`
	Total  decimal.Decimal                  `json:"total"`
}

type PayoutRequest struct {
	Status PayoutStatus `json:"status" binding:"required,oneof=PAID FAILED"`
}
