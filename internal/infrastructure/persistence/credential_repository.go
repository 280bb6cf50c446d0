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

// CredentialRepository implements repository.CredentialRepository: one
// active credential row per backend.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) repository.CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) GetCurrent(ctx context.Context, backend string) (*entity.Credential, error) {
	var m models.Credential
	if err := r.db.WithContext(ctx).Where("backend = ?", backend).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("credential for %q not found", backend)
		}
		return nil, gerrors.Store("get credential", err)
	}
	return credentialToEntity(&m), nil
}

func (r *CredentialRepository) Upsert(ctx context.Context, c *entity.Credential) error {
	m := models.Credential{
		Backend:   c.Backend,
		Token:     c.Token,
		Cookies:   c.Cookies,
		ExpiresAt: c.ExpiresAt,
		Stale:     c.Stale,
		UpdatedAt: c.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Where(models.Credential{Backend: c.Backend}).
		Assign(models.Credential{
			Token:     c.Token,
			Cookies:   c.Cookies,
			ExpiresAt: c.ExpiresAt,
			Stale:     c.Stale,
			UpdatedAt: c.UpdatedAt,
		}).
		FirstOrCreate(&m).Error
	if err != nil {
		return gerrors.Store("upsert credential", err)
	}
	return nil
}

func (r *CredentialRepository) MarkStale(ctx context.Context, backend string) error {
	err := r.db.WithContext(ctx).Model(&models.Credential{}).
		Where("backend = ?", backend).
		Update("stale", true).Error
	if err != nil {
		return gerrors.Store("mark credential stale", err)
	}
	return nil
}

func credentialToEntity(m *models.Credential) *entity.Credential {
	return &entity.Credential{
		Backend:   m.Backend,
		Token:     m.Token,
		Cookies:   m.Cookies,
		ExpiresAt: m.ExpiresAt,
		Stale:     m.Stale,
		UpdatedAt: m.UpdatedAt,
	}
}
