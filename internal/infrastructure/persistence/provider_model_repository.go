package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// ProviderModelRepository implements repository.ProviderModelRepository,
// the Provider<->Model link table keyed by (provider_id, model_id).
type ProviderModelRepository struct {
	db *gorm.DB
}

func NewProviderModelRepository(db *gorm.DB) repository.ProviderModelRepository {
	return &ProviderModelRepository{db: db}
}

// Link creates or replaces the link. When l.IsDefault is set, any other
// default link for the same provider is cleared first inside the same
// transaction — the invariant that at most one ProviderModel per
// provider may have is_default=true.
func (r *ProviderModelRepository) Link(ctx context.Context, l *entity.ProviderModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if l.IsDefault {
			err := tx.Model(&models.ProviderModel{}).
				Where("provider_id = ? AND model_id <> ?", l.ProviderID, l.ModelID).
				Update("is_default", false).Error
			if err != nil {
				return gerrors.Store("clear prior default link", err)
			}
		}
		m := models.ProviderModel{
			ProviderID: l.ProviderID,
			ModelID:    l.ModelID,
			IsDefault:  l.IsDefault,
			Config:     l.Config,
		}
		err := tx.Where(models.ProviderModel{ProviderID: l.ProviderID, ModelID: l.ModelID}).
			Assign(models.ProviderModel{IsDefault: l.IsDefault, Config: l.Config}).
			FirstOrCreate(&m).Error
		if err != nil {
			return gerrors.Store("link provider model", err)
		}
		return nil
	})
}

func (r *ProviderModelRepository) Unlink(ctx context.Context, providerID, modelID string) error {
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND model_id = ?", providerID, modelID).
		Delete(&models.ProviderModel{}).Error
	if err != nil {
		return gerrors.Store("unlink provider model", err)
	}
	return nil
}

func (r *ProviderModelRepository) FindByProvider(ctx context.Context, providerID string) ([]entity.ProviderModel, error) {
	var rows []models.ProviderModel
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find provider models", err)
	}
	return toProviderModelEntities(rows), nil
}

func (r *ProviderModelRepository) FindByModel(ctx context.Context, modelID string) ([]entity.ProviderModel, error) {
	var rows []models.ProviderModel
	if err := r.db.WithContext(ctx).Where("model_id = ?", modelID).Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find provider models", err)
	}
	return toProviderModelEntities(rows), nil
}

func (r *ProviderModelRepository) Get(ctx context.Context, providerID, modelID string) (*entity.ProviderModel, error) {
	var m models.ProviderModel
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND model_id = ?", providerID, modelID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("link %s/%s not found", providerID, modelID)
		}
		return nil, gerrors.Store("get provider model link", err)
	}
	return providerModelToEntity(&m), nil
}

func toProviderModelEntities(rows []models.ProviderModel) []entity.ProviderModel {
	out := make([]entity.ProviderModel, 0, len(rows))
	for _, m := range rows {
		out = append(out, *providerModelToEntity(&m))
	}
	return out
}

func providerModelToEntity(m *models.ProviderModel) *entity.ProviderModel {
	return &entity.ProviderModel{
		ProviderID: m.ProviderID,
		ModelID:    m.ModelID,
		IsDefault:  m.IsDefault,
		Config:     m.Config,
	}
}
