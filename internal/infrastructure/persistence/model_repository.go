package persistence

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
)

// ModelRepository implements repository.ModelRepository.
type ModelRepository struct {
	*Repository[models.Model]
}

func NewModelRepository(db *gorm.DB) repository.ModelRepository {
	return &ModelRepository{Repository: NewRepository[models.Model](db)}
}

func (r *ModelRepository) Create(ctx context.Context, m *entity.Model) error {
	return r.Repository.Create(ctx, modelToRow(m))
}

func (r *ModelRepository) Get(ctx context.Context, id string) (*entity.Model, error) {
	row, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return modelToEntity(row), nil
}

func (r *ModelRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.Model, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Model, 0, len(rows))
	for _, row := range rows {
		out = append(out, *modelToEntity(&row))
	}
	return out, nil
}

func (r *ModelRepository) Update(ctx context.Context, m *entity.Model) error {
	return r.Repository.Update(ctx, modelToRow(m))
}

func (r *ModelRepository) Delete(ctx context.Context, id string) error {
	return r.Repository.Delete(ctx, id)
}

func modelToRow(m *entity.Model) *models.Model {
	caps := make([]string, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps = append(caps, string(c))
	}
	return &models.Model{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Capabilities: strings.Join(caps, ","),
	}
}

func modelToEntity(row *models.Model) *entity.Model {
	var caps []entity.Capability
	if row.Capabilities != "" {
		for _, c := range strings.Split(row.Capabilities, ",") {
			caps = append(caps, entity.Capability(c))
		}
	}
	return &entity.Model{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		Capabilities: caps,
	}
}
