package workflow

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

type Workflow struct {
	ID          string          `gorm:"column:id;primaryKey" json:"id"`
	OwnerID     string          `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Title       string          `gorm:"column:title;not null" json:"title"`
	Slug        string          `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Description string          `gorm:"column:description" json:"description"`
	Category    string          `gorm:"column:category;index" json:"category"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(14,4);not null;default:0" json:"price"`
	Status      Status          `gorm:"column:status;not null;index" json:"status"`
	ReviewNote  string          `gorm:"column:review_note" json:"review_note,omitempty"`
	FileKey     string          `gorm:"column:file_key;not null" json:"-"`
	FileName    string          `gorm:"column:file_name;not null" json:"file_name"`
	FileSize    int64           `gorm:"column:file_size;not null" json:"file_size"`
	Downloads   int64           `gorm:"column:downloads;not null;default:0" json:"downloads"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"column:deleted_at;index" json:"-"`
}

func (Workflow) TableName() string {
	return "workflows"
}

func (w *Workflow) IsFree() bool {
	return w.Price.IsZero()
}

func (w *Workflow) IsApproved() bool {
	return w.Status == StatusApproved
}

type ListQuery struct {
	Query    string `form:"q" binding:"omitempty,max=100"`
	Category string `form:"category" binding:"omitempty,max=50"`
	Cursor   string `form:"cursor"`
	Limit    int    `form:"limit,default=20" binding:"gte=1,lte=100"`
}

type UpdateRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=3,max=120"`
	Description *string `json:"description" binding:"omitempty,max=5000"`
	Category    *string `json:"category" binding:"omitempty,max=50"`
	Price       *string `json:"price"`
}

type RejectRequest struct {
	Note string `json:"note" binding:"required,min=3,max=1000"`
}

type DownloadLink struct {
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	ExpiresAt time.Time `json:"expires_at"`
}
