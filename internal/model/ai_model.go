package model

import (
	"fmt"
	"time"
)

// Provider identifies the upstream inference service a model is served by.
type Provider string

const (
	ProviderAzureOpenAI Provider = "AZURE_OPENAI"
	ProviderOpenAI      Provider = "OPENAI"
	ProviderAnthropic   Provider = "ANTHROPIC"
	ProviderGemini      Provider = "GEMINI"
	ProviderGCPGemini   Provider = "GCP_GEMINI"
)

// ParseProvider validates a provider string.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderAzureOpenAI, ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderGCPGemini:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, s)
	}
}

// ProviderConfig holds what is needed to reach the upstream provider.
// It is admin-only and must never be logged.
type ProviderConfig struct {
	Endpoint   string `json:"endpoint"`
	Deployment string `json:"deployment"`
	APIKey     string `json:"api_key"`
	APIVersion string `json:"api_version,omitempty"`
}

// AIModel is a named model configuration. Stored in the "models" table.
type AIModel struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description    string         `gorm:"type:varchar(255)" json:"description"`
	Provider       Provider       `gorm:"type:varchar(50);not null" json:"provider"`
	ProviderConfig ProviderConfig `gorm:"serializer:json;type:text" json:"provider_config"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName keeps the table name stable regardless of the Go type name.
func (AIModel) TableName() string {
	return "models"
}

// ModelSummary is the caller-facing view of a model. ProviderConfig is nil
// unless the caller is an admin.
type ModelSummary struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Provider       Provider        `json:"provider"`
	ProviderConfig *ProviderConfig `json:"provider_config,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Summary builds a ModelSummary, including provider config only when
// withConfig is set.
func (m *AIModel) Summary(withConfig bool) ModelSummary {
	s := ModelSummary{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Provider:    m.Provider,
		CreatedAt:   m.CreatedAt,
	}
	if withConfig {
		cfg := m.ProviderConfig
		s.ProviderConfig = &cfg
	}
	return s
}
