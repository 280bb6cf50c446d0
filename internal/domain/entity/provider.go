// Package entity holds the gateway's persisted domain types: Provider,
// ProviderConfig, Model, ProviderModel, Session, Request, Response,
// ErrorRecord, Setting and Credential. These are storage-agnostic — the
// persistence package maps them to gorm models and back.
package entity

import "time"

// Capability is one of the finite model capabilities.
type Capability string

const (
	CapabilityChat       Capability = "chat"
	CapabilityStreaming  Capability = "streaming"
	CapabilityTools      Capability = "tools"
	CapabilityVision     Capability = "vision"
	CapabilityCompletion Capability = "completion"
)

// ProviderType is the closed, compile-time-extensible set of provider
// implementations. New variants are added by implementing the Provider
// interface and registering a factory under a new type string.
type ProviderType string

const (
	ProviderTypeOpenAI      ProviderType = "openai"
	ProviderTypeLocalOpenAI ProviderType = "local-openai"
	ProviderTypeQwenWeb     ProviderType = "qwen-web"
)

// Provider is a configured upstream target.
type Provider struct {
	ID          string // lowercase slug, globally unique
	Name        string // display name, unique
	Type        ProviderType
	Enabled     bool
	Priority    int // higher wins ties
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderConfig is one key/value pair scoped to a provider. Value is the
// JSON-encoded representation of whatever scalar or string the key holds;
// IsSensitive causes it to be redacted on any egress (admin API, logs).
type ProviderConfig struct {
	ProviderID  string
	Key         string
	Value       string
	IsSensitive bool
}

// Model describes a model identity and its capability set.
type Model struct {
	ID           string
	Name         string
	Description  string
	Capabilities []Capability
}

// HasCapability reports whether m supports cap.
func (m Model) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// ProviderModel links a Provider to a Model, many-to-many, with a
// provider-local default flag and optional provider-local JSON config.
type ProviderModel struct {
	ProviderID string
	ModelID    string
	IsDefault  bool
	Config     string // JSON, may be empty
}
