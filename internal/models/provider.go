package models

import "time"

// ProviderType names an LLM backend family.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
	ProviderAzure  ProviderType = "azure"
	ProviderClaude ProviderType = "claude"
	ProviderLocal  ProviderType = "local"
	ProviderMock   ProviderType = "mock"
)

// ProviderStatus is the availability of a configured provider.
type ProviderStatus string

const (
	ProviderActive      ProviderStatus = "active"
	ProviderInactive    ProviderStatus = "inactive"
	ProviderMaintenance ProviderStatus = "maintenance"
)

// ProviderConfig holds the connection settings of a provider. Timeout is in milliseconds.
type ProviderConfig struct {
	APIKey      string  `json:"apiKey" yaml:"api_key"`
	BaseURL     string  `json:"baseUrl,omitempty" yaml:"base_url"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"maxTokens,omitempty" yaml:"max_tokens"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature"`
	Timeout     int     `json:"timeout,omitempty" yaml:"timeout"`
}

// Provider is a configured LLM backend.
type Provider struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description,omitempty" db:"description"`
	Type        ProviderType   `json:"type" db:"type"`
	Config      ProviderConfig `json:"config" db:"config"`
	Status      ProviderStatus `json:"status" db:"status"`
	Priority    int            `json:"priority" db:"priority"`
	IsDefault   bool           `json:"isDefault" db:"is_default"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}
