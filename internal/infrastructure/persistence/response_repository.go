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

// ResponseRepository implements repository.ResponseRepository.
type ResponseRepository struct {
	*Repository[models.Response]
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) repository.ResponseRepository {
	return &ResponseRepository{Repository: NewRepository[models.Response](db), db: db}
}

func (r *ResponseRepository) Create(ctx context.Context, resp *entity.Response) error {
	m := responseToModel(resp)
	if err := r.Repository.Create(ctx, m); err != nil {
		return err
	}
	resp.ID = m.ID
	return nil
}

func (r *ResponseRepository) Get(ctx context.Context, id int64) (*entity.Response, error) {
	m, err := r.Repository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return responseToEntity(m), nil
}

func (r *ResponseRepository) FindByRequest(ctx context.Context, requestID int64) (*entity.Response, error) {
	var m models.Response
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("response for request %d not found", requestID)
		}
		return nil, gerrors.Store("find response by request", err)
	}
	return responseToEntity(&m), nil
}

func (r *ResponseRepository) FindAll(ctx context.Context, f repository.Filter, order []repository.Order, page repository.Page) ([]entity.Response, error) {
	rows, err := r.Repository.FindAll(ctx, f, order, page)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Response, 0, len(rows))
	for _, m := range rows {
		out = append(out, *responseToEntity(&m))
	}
	return out, nil
}

func responseToModel(r *entity.Response) *models.Response {
	return &models.Response{
		ID:               r.ID,
		ResponseID:       r.ResponseID,
		RequestID:        r.RequestID,
		SessionID:        r.SessionID,
		QwenResponse:     r.QwenResponse,
		OpenAIResponse:   r.OpenAIResponse,
		ParentID:         r.ParentID,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		FinishReason:     r.FinishReason,
		Error:            r.Error,
		DurationMS:       r.DurationMS,
		Timestamp:        r.Timestamp,
	}
}

func responseToEntity(m *models.Response) *entity.Response {
	return &entity.Response{
		ID:               m.ID,
		ResponseID:       m.ResponseID,
		RequestID:        m.RequestID,
		SessionID:        m.SessionID,
		QwenResponse:     m.QwenResponse,
		OpenAIResponse:   m.OpenAIResponse,
		ParentID:         m.ParentID,
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
		FinishReason:     m.FinishReason,
		Error:            m.Error,
		DurationMS:       m.DurationMS,
		Timestamp:        m.Timestamp,
	}
}
