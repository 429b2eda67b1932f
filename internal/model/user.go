package model

import (
	"fmt"
	"time"
)

// Role determines a user's default authorization scope.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleUser:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// User is a credential holder with a usage counter and cap.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	APIKey       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"api_key"`
	Role         Role      `gorm:"type:varchar(50);default:'user';not null" json:"role"`
	UsageCount   int64     `gorm:"default:0;not null" json:"usage_count"`
	UsageLimit   int64     `gorm:"default:0;not null" json:"usage_limit"`
	RateLimit    int       `gorm:"default:0;not null" json:"rate_limit"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Remaining returns how many tokens the user may still consume.
func (u *User) Remaining() int64 {
	if u.UsageCount >= u.UsageLimit {
		return 0
	}
	return u.UsageLimit - u.UsageCount
}
