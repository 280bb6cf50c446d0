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

// ProviderConfigRepository implements repository.ProviderConfigRepository.
// (provider_id, key) is a composite primary key, so this skips the
// generic Repository[M] base (built for single scalar keys) and talks to
// gorm directly.
type ProviderConfigRepository struct {
	db *gorm.DB
}

func NewProviderConfigRepository(db *gorm.DB) repository.ProviderConfigRepository {
	return &ProviderConfigRepository{db: db}
}

func (r *ProviderConfigRepository) Upsert(ctx context.Context, c *entity.ProviderConfig) error {
	m := &models.ProviderConfig{
		ProviderID:  c.ProviderID,
		Key:         c.Key,
		Value:       c.Value,
		IsSensitive: c.IsSensitive,
	}
	err := r.db.WithContext(ctx).
		Where(models.ProviderConfig{ProviderID: c.ProviderID, Key: c.Key}).
		Assign(models.ProviderConfig{Value: c.Value, IsSensitive: c.IsSensitive}).
		FirstOrCreate(m).Error
	if err != nil {
		return gerrors.Store("upsert provider config", err)
	}
	return nil
}

func (r *ProviderConfigRepository) Get(ctx context.Context, providerID, key string) (*entity.ProviderConfig, error) {
	var m models.ProviderConfig
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND key = ?", providerID, key).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("config %s/%s not found", providerID, key)
		}
		return nil, gerrors.Store("get provider config", err)
	}
	return providerConfigToEntity(&m), nil
}

func (r *ProviderConfigRepository) FindByProvider(ctx context.Context, providerID string) ([]entity.ProviderConfig, error) {
	var rows []models.ProviderConfig
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find provider configs", err)
	}
	out := make([]entity.ProviderConfig, 0, len(rows))
	for _, m := range rows {
		out = append(out, *providerConfigToEntity(&m))
	}
	return out, nil
}

func (r *ProviderConfigRepository) Delete(ctx context.Context, providerID, key string) error {
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND key = ?", providerID, key).
		Delete(&models.ProviderConfig{}).Error
	if err != nil {
		return gerrors.Store("delete provider config", err)
	}
	return nil
}

func (r *ProviderConfigRepository) DeleteByProvider(ctx context.Context, providerID string) error {
	err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Delete(&models.ProviderConfig{}).Error
	if err != nil {
		return gerrors.Store("delete provider configs", err)
	}
	return nil
}

func providerConfigToEntity(m *models.ProviderConfig) *entity.ProviderConfig {
	return &entity.ProviderConfig{
		ProviderID:  m.ProviderID,
		Key:         m.Key,
		Value:       m.Value,
		IsSensitive: m.IsSensitive,
	}
}
