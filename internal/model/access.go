package model

import (
	"fmt"
	"time"
)

// AccessLevel is an ordered permission tier: none < read < call < manage.
type AccessLevel string

const (
	AccessNone   AccessLevel = "none"
	AccessRead   AccessLevel = "read"
	AccessCall   AccessLevel = "call"
	AccessManage AccessLevel = "manage"
)

var accessRank = map[AccessLevel]int{
	AccessNone:   0,
	AccessRead:   1,
	AccessCall:   2,
	AccessManage: 3,
}

// ParseAccessLevel validates an access level string.
func ParseAccessLevel(s string) (AccessLevel, error) {
	l := AccessLevel(s)
	if _, ok := accessRank[l]; !ok {
		return "", fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, s)
	}
	return l, nil
}

// AtLeast reports whether l is the same tier as min or higher.
// Unknown levels rank as none.
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return accessRank[l] >= accessRank[min]
}

// AccessGrant records a user's access level for one model. At most one row
// exists per (user_id, model_id).
type AccessGrant struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UserID      uint        `gorm:"not null;uniqueIndex:idx_user_model_access_pair" json:"user_id"`
	ModelID     uint        `gorm:"not null;uniqueIndex:idx_user_model_access_pair;index" json:"model_id"`
	AccessLevel AccessLevel `gorm:"type:varchar(50);not null" json:"access_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	User  *User    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Model *AIModel `gorm:"foreignKey:ModelID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName matches the persisted schema name.
func (AccessGrant) TableName() string {
	return "user_model_access"
}

// GrantView is an AccessGrant joined with the names of both endpoints.
type GrantView struct {
	Username    string      `json:"username"`
	ModelName   string      `json:"model_name"`
	AccessLevel AccessLevel `json:"access_level"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
