package review

import "time"

const (
	MinRating = 1
	MaxRating = 5
)

type Review struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	WorkflowID string    `gorm:"column:workflow_id;not null;uniqueIndex:idx_reviews_workflow_user" json:"workflow_id"`
	UserID     string    `gorm:"column:user_id;not null;uniqueIndex:idx_reviews_workflow_user;index" json:"user_id"`
	Rating     int       `gorm:"column:rating;not null" json:"rating"`
	Comment    string    `gorm:"column:comment" json:"comment"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Review) TableName() string {
	return "reviews"
}

type CreateRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment" binding:"max=2000"`
}

type UpdateRequest struct {
	Rating  *int    `json:"rating"`
	Comment *string `json:"comment" binding:"omitempty,max=2000"`
}

type Summary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}
