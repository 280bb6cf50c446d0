package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
)

// ProviderRepository implements repository.ProviderRepository over gorm.
type ProviderRepository struct {
	*Repository[models.Provider]
}

func NewProviderRepository(db *gorm.DB) repository.ProviderRepository {
	return &ProviderRepository{Repository: NewRepository[models.Provider](db)}
}

func (r *ProviderRepository) Create(ctx context.Context, p *entity.Provider) error {
	m := providerToModel(p)
	if err := r.Repository.Create(ctx, m); err != nil {
		return err
	}
	return nil
}

func (r *ProviderRepository) Get(ctx context.Context, id string) (*entity.Provider, error) {
	m, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return providerToEntity(m), nil
}

func (r *ProviderRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.Provider, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Provider, 0, len(rows))
	for _, m := range rows {
		out = append(out, *providerToEntity(&m))
	}
	return out, nil
}

func (r *ProviderRepository) Update(ctx context.Context, p *entity.Provider) error {
	return r.Repository.Update(ctx, providerToModel(p))
}

func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	return r.Repository.Delete(ctx, id)
}

func (r *ProviderRepository) Count(ctx context.Context, f repository.Filter) (int64, error) {
	return r.Repository.Count(ctx, f)
}

func providerToModel(p *entity.Provider) *models.Provider {
	return &models.Provider{
		ID:          p.ID,
		Name:        p.Name,
		Type:        string(p.Type),
		Enabled:     p.Enabled,
		Priority:    p.Priority,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UnixMilli(),
		UpdatedAt:   p.UpdatedAt.UnixMilli(),
	}
}

func providerToEntity(m *models.Provider) *entity.Provider {
	return &entity.Provider{
		ID:          m.ID,
		Name:        m.Name,
		Type:        entity.ProviderType(m.Type),
		Enabled:     m.Enabled,
		Priority:    m.Priority,
		Description: m.Description,
		CreatedAt:   time.UnixMilli(m.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(m.UpdatedAt).UTC(),
	}
}
