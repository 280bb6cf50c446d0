// Package repository declares the store-facing contracts the rest of the
// gateway programs against. Concrete implementations live in
// internal/infrastructure/persistence and are backed by gorm.
package repository

import (
	"context"

	"github.com/openrelay/gateway/internal/domain/entity"
)

// Filter is a generic equality/range filter map; concrete repositories
// document which keys they honor. Kept intentionally loose (map[string]any)
// rather than per-entity filter structs, matching the admin surface's need
// to filter requests/responses/sessions/errors by arbitrary column.
type Filter map[string]any

// Order describes a single ORDER BY clause.
type Order struct {
	Column string
	Desc   bool
}

// Page bounds a FindAll call.
type Page struct {
	Limit  int
	Offset int
}

// ProviderRepository persists Provider rows. Deleting a provider cascades
// to its ProviderConfig and ProviderModel rows (enforced at the store
// layer via foreign keys, not here).
type ProviderRepository interface {
	Create(ctx context.Context, p *entity.Provider) error
	Get(ctx context.Context, id string) (*entity.Provider, error)
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.Provider, error)
	Update(ctx context.Context, p *entity.Provider) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, f Filter) (int64, error)
}

// ProviderConfigRepository persists ProviderConfig rows, keyed by
// (ProviderID, Key).
type ProviderConfigRepository interface {
	Upsert(ctx context.Context, c *entity.ProviderConfig) error
	Get(ctx context.Context, providerID, key string) (*entity.ProviderConfig, error)
	FindByProvider(ctx context.Context, providerID string) ([]entity.ProviderConfig, error)
	Delete(ctx context.Context, providerID, key string) error
	DeleteByProvider(ctx context.Context, providerID string) error
}

// ModelRepository persists Model rows.
type ModelRepository interface {
	Create(ctx context.Context, m *entity.Model) error
	Get(ctx context.Context, id string) (*entity.Model, error)
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.Model, error)
	Update(ctx context.Context, m *entity.Model) error
	Delete(ctx context.Context, id string) error
}

// ProviderModelRepository persists the Provider<->Model link table.
type ProviderModelRepository interface {
	Link(ctx context.Context, l *entity.ProviderModel) error
	Unlink(ctx context.Context, providerID, modelID string) error
	FindByProvider(ctx context.Context, providerID string) ([]entity.ProviderModel, error)
	FindByModel(ctx context.Context, modelID string) ([]entity.ProviderModel, error)
	Get(ctx context.Context, providerID, modelID string) (*entity.ProviderModel, error)
}

// SessionRepository persists Session rows and implements the lookups the
// session manager needs (content-addressed get, conversation-hash lookup
// with collision resolution, expiry sweep, full clear on boot).
type SessionRepository interface {
	Create(ctx context.Context, s *entity.Session) error
	Get(ctx context.Context, id string) (*entity.Session, error)
	FindByConversationHash(ctx context.Context, hash string) ([]entity.Session, error)
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.Session, error)
	Update(ctx context.Context, s *entity.Session) error
	DeleteExpired(ctx context.Context, nowMS int64) (int64, error)
	Clear(ctx context.Context) error
}

// RequestRepository persists Request rows. A row is created before any
// upstream call and completed — at most once, still pre-upstream — with
// the transformed payload a translating provider is about to send; after
// that it never changes.
type RequestRepository interface {
	Create(ctx context.Context, r *entity.Request) error
	AttachUpstreamPayload(ctx context.Context, id int64, payload string) error
	Get(ctx context.Context, id int64) (*entity.Request, error)
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.Request, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// ResponseRepository persists Response rows.
type ResponseRepository interface {
	Create(ctx context.Context, r *entity.Response) error
	Get(ctx context.Context, id int64) (*entity.Response, error)
	FindByRequest(ctx context.Context, requestID int64) (*entity.Response, error)
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.Response, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// ErrorRepository persists ErrorRecord rows.
type ErrorRepository interface {
	Create(ctx context.Context, e *entity.ErrorRecord) error
	FindAll(ctx context.Context, f Filter, order []Order, page Page) ([]entity.ErrorRecord, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// SettingRepository persists Setting rows.
type SettingRepository interface {
	Get(ctx context.Context, key string) (*entity.Setting, error)
	FindAll(ctx context.Context) ([]entity.Setting, error)
	Upsert(ctx context.Context, s *entity.Setting) error
}

// CredentialRepository persists the single active Credential per backend.
type CredentialRepository interface {
	GetCurrent(ctx context.Context, backend string) (*entity.Credential, error)
	Upsert(ctx context.Context, c *entity.Credential) error
	MarkStale(ctx context.Context, backend string) error
}
