package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/persistence/models"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// RequestRepository implements repository.RequestRepository. A row is
// written once (plus the one pre-upstream AttachUpstreamPayload
// completion) and never changes afterwards.
type RequestRepository struct {
	*Repository[models.Request]
}

func NewRequestRepository(db *gorm.DB) repository.RequestRepository {
	return &RequestRepository{Repository: NewRepository[models.Request](db)}
}

func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	m := requestToModel(req)
	if err := r.Repository.Create(ctx, m); err != nil {
		return err
	}
	req.ID = m.ID
	return nil
}

// AttachUpstreamPayload completes the audit row with the transformed
// upstream payload a translating provider is about to send. Only the
// qwen_request column is touched, and only while it is still empty, so a
// finished row can never be rewritten.
func (r *RequestRepository) AttachUpstreamPayload(ctx context.Context, id int64, payload string) error {
	err := r.Repository.db.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND qwen_request = ''", id).
		Update("qwen_request", payload).Error
	if err != nil {
		return gerrors.Store("attach upstream payload", err)
	}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, id int64) (*entity.Request, error) {
	m, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return requestToEntity(m), nil
}

func (r *RequestRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.Request, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Request, 0, len(rows))
	for _, m := range rows {
		out = append(out, *requestToEntity(&m))
	}
	return out, nil
}

func requestToModel(r *entity.Request) *models.Request {
	return &models.Request{
		ID:            r.ID,
		RequestID:     r.RequestID,
		SessionID:     r.SessionID,
		OpenAIRequest: r.OpenAIRequest,
		QwenRequest:   r.QwenRequest,
		Model:         r.Model,
		Stream:        r.Stream,
		Method:        r.Method,
		Path:          r.Path,
		Timestamp:     r.Timestamp,
	}
}

func requestToEntity(m *models.Request) *entity.Request {
	return &entity.Request{
		ID:            m.ID,
		RequestID:     m.RequestID,
		SessionID:     m.SessionID,
		OpenAIRequest: m.OpenAIRequest,
		QwenRequest:   m.QwenRequest,
		Model:         m.Model,
		Stream:        m.Stream,
		Method:        m.Method,
		Path:          m.Path,
		Timestamp:     m.Timestamp,
	}
}
