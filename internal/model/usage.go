package model

import "time"

// UsageType splits consumed tokens by kind.
type UsageType string

const (
	UsagePrompt     UsageType = "PROMPT"
	UsageCompletion UsageType = "COMPLETION"
	UsageCached     UsageType = "CACHED"
)

// UsageRecord is one consumption entry. ModelName is a snapshot so history
// survives model deletion.
type UsageRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	ModelID   uint      `gorm:"not null;index" json:"model_id"`
	ModelName string    `gorm:"type:varchar(255);not null" json:"model_name"`
	UsageType UsageType `gorm:"type:varchar(50);not null" json:"usage_type"`
	Tokens    int64     `gorm:"not null" json:"tokens"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	User *User `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// TableName matches the persisted schema name.
func (UsageRecord) TableName() string {
	return "user_model_usage"
}

// Consumption is the token count reported by a provider for one call.
// Cached tokens are a subset of prompt tokens.
type Consumption struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	CachedTokens     int64 `json:"cached_tokens"`
}

// Total is the amount charged against the user's limit.
func (c Consumption) Total() int64 {
	return c.PromptTokens + c.CompletionTokens
}

// UsageTotals aggregates usage records.
type UsageTotals struct {
	Total  int64               `json:"total_usage"`
	ByType map[UsageType]int64 `json:"by_type"`
}

// UsageSnapshot is the readable state of a user's usage ledger.
type UsageSnapshot struct {
	Username   string      `json:"username"`
	UsageCount int64       `json:"usage_count"`
	UsageLimit int64       `json:"usage_limit"`
	Remaining  int64       `json:"remaining"`
	Records    UsageTotals `json:"records"`
	StartDate  *time.Time  `json:"start_date,omitempty"`
	EndDate    *time.Time  `json:"end_date,omitempty"`
}
