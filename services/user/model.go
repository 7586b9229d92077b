package user

import (
	"time"

	"flowmarket/pkg/access"

	"github.com/lib/pq"
)

type User struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	Email     *string        `gorm:"column:email;uniqueIndex" json:"email,omitempty"`
	Name      string         `gorm:"column:name" json:"name"`
	Roles     pq.StringArray `gorm:"column:roles;type:text[];not null" json:"roles"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) AccessRoles() []access.Role {
	return access.FromStrings(u.Roles)
}

func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

type UpdateRolesRequest struct {
	Roles []string `json:"roles" binding:"required,min=1,dive,role"`
}
