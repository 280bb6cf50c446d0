// Package models holds the gorm row representations of the gateway's
// entities (internal/domain/entity). They exist only so the persistence
// package has something gorm can map directly to table columns; every
// other layer of the gateway programs against the storage-agnostic
// entity types and never imports this package.
package models

// Metadata is the single-row schema-version tracker migrations.go reads
// and advances.
type Metadata struct {
	ID            int `gorm:"primaryKey"`
	SchemaVersion int
}

func (Metadata) TableName() string { return "metadata" }

// Provider is the gorm row for entity.Provider.
type Provider struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	Type        string `gorm:"size:32;not null;index"`
	Enabled     bool
	Priority    int
	Description string `gorm:"type:text"`
	CreatedAt   int64  // unix-ms
	UpdatedAt   int64  // unix-ms
}

func (Provider) TableName() string { return "providers" }

// ProviderConfig is the gorm row for entity.ProviderConfig, keyed by
// (ProviderID, Key).
type ProviderConfig struct {
	ProviderID  string `gorm:"primaryKey;size:64"`
	Key         string `gorm:"primaryKey;size:128"`
	Value       string `gorm:"type:text"`
	IsSensitive bool
}

func (ProviderConfig) TableName() string { return "provider_configs" }

// Model is the gorm row for entity.Model.
type Model struct {
	ID           string `gorm:"primaryKey;size:128"`
	Name         string `gorm:"size:128;not null"`
	Description  string `gorm:"type:text"`
	Capabilities string `gorm:"type:text"` // comma-joined Capability values
}

func (Model) TableName() string { return "models" }

// ProviderModel is the gorm row for entity.ProviderModel, the
// Provider<->Model link table.
type ProviderModel struct {
	ProviderID string `gorm:"primaryKey;size:64"`
	ModelID    string `gorm:"primaryKey;size:128"`
	IsDefault  bool
	Config     string `gorm:"type:text"`
}

func (ProviderModel) TableName() string { return "provider_models" }

// Session is the gorm row for entity.Session.
type Session struct {
	ID               string `gorm:"primaryKey;size:32"` // MD5 hex
	ChatID           string `gorm:"size:128"`
	ParentID         string `gorm:"size:128"`
	FirstUserMessage string `gorm:"type:text"`
	FirstAssistant   string `gorm:"type:text"`
	ConversationHash string `gorm:"size:32;index"`
	MessageCount     int
	CreatedAt        int64
	LastAccessed     int64
	ExpiresAt        int64 `gorm:"index"`
}

func (Session) TableName() string { return "sessions" }

// Request is the gorm row for entity.Request.
type Request struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RequestID     string `gorm:"uniqueIndex;size:36"`
	SessionID     string `gorm:"size:32;index"`
	OpenAIRequest string `gorm:"column:openai_request;type:text"`
	QwenRequest   string `gorm:"type:text"`
	Model         string `gorm:"size:128"`
	Stream        bool
	Method        string `gorm:"size:16"`
	Path          string `gorm:"size:255"`
	Timestamp     int64  `gorm:"index"`
}

func (Request) TableName() string { return "requests" }

// Response is the gorm row for entity.Response.
type Response struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ResponseID       string `gorm:"uniqueIndex;size:36"`
	RequestID        int64  `gorm:"uniqueIndex;not null"`
	SessionID        string `gorm:"size:32;index"`
	QwenResponse     string `gorm:"type:text"`
	OpenAIResponse   string `gorm:"type:text"`
	ParentID         string `gorm:"size:128"`
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string `gorm:"size:32"`
	Error            string `gorm:"type:text"`
	DurationMS       int64
	Timestamp        int64 `gorm:"index"`
}

func (Response) TableName() string { return "responses" }

// ErrorRecord is the gorm row for entity.ErrorRecord.
type ErrorRecord struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ErrorID   string `gorm:"uniqueIndex;size:36"`
	ErrorType string `gorm:"size:16;index"`
	Severity  string `gorm:"size:16"`
	SessionID string `gorm:"size:32;index"`
	RequestID int64  `gorm:"index"`
	Payload   string `gorm:"type:text"`
	Resolved  bool
	Timestamp int64 `gorm:"index"`
}

func (ErrorRecord) TableName() string { return "error_records" }

// Setting is the gorm row for entity.Setting.
type Setting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	ValueType string `gorm:"size:16"`
	UpdatedAt int64
}

func (Setting) TableName() string { return "settings" }

// Credential is the gorm row for entity.Credential, one row per backend.
type Credential struct {
	Backend   string `gorm:"primaryKey;size:32"`
	Token     string `gorm:"type:text"`
	Cookies   string `gorm:"type:text"`
	ExpiresAt int64
	Stale     bool
	UpdatedAt int64
}

func (Credential) TableName() string { return "credentials" }
