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

// SettingRepository implements repository.SettingRepository.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) repository.SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) Get(ctx context.Context, key string) (*entity.Setting, error) {
	var m models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("setting %q not found", key)
		}
		return nil, gerrors.Store("get setting", err)
	}
	return settingToEntity(&m), nil
}

func (r *SettingRepository) FindAll(ctx context.Context) ([]entity.Setting, error) {
	var rows []models.Setting
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, gerrors.Store("find settings", err)
	}
	out := make([]entity.Setting, 0, len(rows))
	for _, m := range rows {
		out = append(out, *settingToEntity(&m))
	}
	return out, nil
}

func (r *SettingRepository) Upsert(ctx context.Context, s *entity.Setting) error {
	m := models.Setting{Key: s.Key, Value: s.Value, ValueType: string(s.ValueType), UpdatedAt: s.UpdatedAt}
	err := r.db.WithContext(ctx).
		Where(models.Setting{Key: s.Key}).
		Assign(models.Setting{Value: s.Value, ValueType: string(s.ValueType), UpdatedAt: s.UpdatedAt}).
		FirstOrCreate(&m).Error
	if err != nil {
		return gerrors.Store("upsert setting", err)
	}
	return nil
}

func settingToEntity(m *models.Setting) *entity.Setting {
	return &entity.Setting{
		Key:       m.Key,
		Value:     m.Value,
		ValueType: entity.SettingValueType(m.ValueType),
		UpdatedAt: m.UpdatedAt,
	}
}
