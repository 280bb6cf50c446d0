package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
)

// ErrorRepository implements repository.ErrorRepository, the append-only
// ErrorRecord log.
type ErrorRepository struct {
	*Repository[models.ErrorRecord]
}

func NewErrorRepository(db *gorm.DB) repository.ErrorRepository {
	return &ErrorRepository{Repository: NewRepository[models.ErrorRecord](db)}
}

func (r *ErrorRepository) Create(ctx context.Context, e *entity.ErrorRecord) error {
	m := errorToModel(e)
	if err := r.Repository.Create(ctx, m); err != nil {
		return err
	}
	e.ID = m.ID
	return nil
}

func (r *ErrorRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.ErrorRecord, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.ErrorRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, *errorToEntity(&m))
	}
	return out, nil
}

func errorToModel(e *entity.ErrorRecord) *models.ErrorRecord {
	return &models.ErrorRecord{
		ID:        e.ID,
		ErrorID:   e.ErrorID,
		ErrorType: string(e.ErrorType),
		Severity:  string(e.Severity),
		SessionID: e.SessionID,
		RequestID: e.RequestID,
		Payload:   e.Payload,
		Resolved:  e.Resolved,
		Timestamp: e.Timestamp,
	}
}

func errorToEntity(m *models.ErrorRecord) *entity.ErrorRecord {
	return &entity.ErrorRecord{
		ID:        m.ID,
		ErrorID:   m.ErrorID,
		ErrorType: entity.ErrorKind(m.ErrorType),
		Severity:  entity.ErrorSeverity(m.Severity),
		SessionID: m.SessionID,
		RequestID: m.RequestID,
		Payload:   m.Payload,
		Resolved:  m.Resolved,
		Timestamp: m.Timestamp,
	}
}
